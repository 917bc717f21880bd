package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"korob/internal/model"
)

type User struct {
	ID model.ID `json:"id" korob:"pk"`
	model.Common
}

var userDesc = model.Describe("auth", "user", User{}, model.WithCollection("users"))

type Account struct {
	ID     model.ID        `json:"id" korob:"pk"`
	Login  string          `json:"login" korob:"unique"`
	Pass   model.Secret    `json:"pass"`
	Site   model.URL       `json:"site"`
	Active bool            `json:"active"`
	Tags   []string        `json:"tags"`
	Seen   model.Timestamp `json:"seen"`
	Owner  model.Name      `json:"owner"`
	Score  uint32          `json:"score" korob:"index,widget=slider"`
	model.Common
}

var accountDesc = model.Describe("crm", "account", Account{},
	model.WithCollection("accounts"),
	model.WithRef("owner", userDesc))

func fieldByName(t *testing.T, d *model.Descriptor, name string) model.Field {
	t.Helper()
	for _, f := range d.Fields {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("field %q not found", name)
	return model.Field{}
}

func TestDescribeWidgetInference(t *testing.T) {
	cases := map[string]string{
		"id":     "readonly",
		"login":  "text",
		"pass":   "hidden",
		"site":   "url",
		"active": "switch",
		"tags":   "tags",
		"seen":   "datetime",
		"score":  "slider", // явная аннотация побеждает
	}
	for name, widget := range cases {
		assert.Equal(t, widget, fieldByName(t, accountDesc, name).Widget, "field %s", name)
	}
}

func TestDescribeCommonFieldsLast(t *testing.T) {
	n := len(accountDesc.Fields)
	require.GreaterOrEqual(t, n, 6)

	tail := accountDesc.Fields[n-6:]
	wantOrder := []string{"displayName", "description", "metadata", "createdAt", "updatedAt", "rev"}
	for i, f := range tail {
		assert.Equal(t, wantOrder[i], f.Name)
		assert.True(t, f.Common)
	}
}

func TestDescribeFlags(t *testing.T) {
	assert.True(t, fieldByName(t, accountDesc, "id").PK)
	assert.True(t, fieldByName(t, accountDesc, "login").Unique)
	assert.True(t, fieldByName(t, accountDesc, "score").Indexed)
	assert.Equal(t, []string{"id"}, accountDesc.PK)
}

func TestDescribePanicsWithoutPK(t *testing.T) {
	type NoPK struct {
		Name string `json:"name"`
		model.Common
	}
	assert.Panics(t, func() { model.Describe("x", "nopk", NoPK{}) })
}

func TestKVPrefixAndTemplate(t *testing.T) {
	assert.Equal(t, "crm:account:", accountDesc.KVPrefix())
	assert.Equal(t, "auth/users/{id}", userDesc.NameTemplate())
	assert.Equal(t, "auth/users/", userDesc.NamePrefix())

	u := &User{ID: "u1"}
	assert.Equal(t, "auth/users/u1", userDesc.ResourceName(u))
}

func TestNameValidFor(t *testing.T) {
	t.Run("WithTarget", func(t *testing.T) {
		assert.True(t, model.Name("auth/users/u1").ValidFor(userDesc))
		assert.False(t, model.Name("auth/users/").ValidFor(userDesc))
		assert.False(t, model.Name("wrong/prefix/u1").ValidFor(userDesc))
		assert.False(t, model.Name("").ValidFor(userDesc))
	})

	t.Run("AnyTarget", func(t *testing.T) {
		assert.True(t, model.Name("some/thing/x").ValidFor())
		assert.True(t, model.Name("a/b").ValidFor())
		assert.False(t, model.Name("nopath").ValidFor())
		assert.False(t, model.Name("trailing/").ValidFor())
		assert.True(t, model.Name("/leading").ValidFor(), "a leading slash still gives a non-empty final segment")
		assert.False(t, model.Name("").ValidFor())
	})

	t.Run("ResourceID", func(t *testing.T) {
		assert.Equal(t, "u1", model.Name("auth/users/u1").ResourceID(userDesc))
		assert.Equal(t, "", model.Name("bad").ResourceID(userDesc))
	})
}

func TestCheckNames(t *testing.T) {
	t.Run("EmptyRefAllowed", func(t *testing.T) {
		assert.Empty(t, accountDesc.CheckNames(&Account{}))
	})

	t.Run("BadRefReported", func(t *testing.T) {
		issues := accountDesc.CheckNames(&Account{Owner: "bad/prefix/u1"})
		require.Len(t, issues, 1)
		assert.Equal(t, "owner", issues[0].Field)
		assert.Equal(t, "bad/prefix/u1", issues[0].Value)
	})

	t.Run("GoodRef", func(t *testing.T) {
		assert.Empty(t, accountDesc.CheckNames(&Account{Owner: "auth/users/u1"}))
	})
}

func TestIR(t *testing.T) {
	ir := accountDesc.IR()
	assert.Equal(t, "Account", ir.Name)
	assert.Equal(t, "crm", ir.Module)
	assert.Equal(t, "account", ir.Resource)

	var owner *model.IRField
	for i := range ir.Fields {
		if ir.Fields[i].Name == "owner" {
			owner = &ir.Fields[i]
		} else {
			assert.Nil(t, ir.Fields[i].Ref, "non-ref field %s must omit ref", ir.Fields[i].Name)
		}
	}
	require.NotNil(t, owner)
	require.NotNil(t, owner.Ref)
	require.Len(t, *owner.Ref, 1)
	assert.Equal(t, "User", (*owner.Ref)[0].Type)
	assert.Equal(t, "user", (*owner.Ref)[0].Resource)
}

func TestPKValuesAndSetPK(t *testing.T) {
	a := &Account{}
	accountDesc.SetPK(a, "a1")
	assert.Equal(t, model.ID("a1"), a.ID)
	assert.Equal(t, []string{"a1"}, accountDesc.PKValues(a))
}
