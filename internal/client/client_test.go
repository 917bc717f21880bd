package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"korob/internal/client"
	"korob/internal/wire"
)

type Task struct {
	ID   string `json:"id"`
	Done bool   `json:"done"`
}

func TestListAndGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/tasks":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"items":[{"id":"a"},{"id":"b","done":true}],"hasMore":true}`))
		case "/tasks/a":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":"a","done":false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.NoAuth{})
	ctx := context.Background()

	items, hasMore, err := client.List[Task](ctx, c, "/tasks")
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Equal(t, []Task{{ID: "a"}, {ID: "b", Done: true}}, items)

	got, err := client.Get[Task](ctx, c, "/tasks/a")
	require.NoError(t, err)
	assert.Equal(t, &Task{ID: "a"}, got)
}

func TestBinaryNegotiation(t *testing.T) {
	sch := wire.SchemaFor(Task{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, wire.MimeBinary, r.Header.Get("Accept"))
		switch r.URL.Path {
		case "/tasks":
			buf, err := sch.EncodeList([]map[string]any{{"id": "a", "done": true}}, false)
			require.NoError(t, err)
			w.Header().Set("Content-Type", wire.MimeBinary)
			w.Write(buf)
		case "/tasks/a":
			buf, err := sch.Encode(map[string]any{"id": "a", "done": true})
			require.NoError(t, err)
			w.Header().Set("Content-Type", wire.MimeBinary)
			w.Write(buf)
		}
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.NoAuth{})
	c.Format = client.Binary
	ctx := context.Background()

	items, hasMore, err := client.List[Task](ctx, c, "/tasks")
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Equal(t, []Task{{ID: "a", Done: true}}, items)

	got, err := client.Get[Task](ctx, c, "/tasks/a")
	require.NoError(t, err)
	assert.Equal(t, &Task{ID: "a", Done: true}, got)
}

func TestServerErrorPredicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"NOT_FOUND","message":"task not found"}`))
		case "/conflict":
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"code":"CONFLICT","message":"stale token"}`))
		case "/garbage":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`<html>oops</html>`))
		case "/legacy-message":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"boom","error":"ignored"}`))
		case "/legacy-error":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"boom"}`))
		}
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.NoAuth{})
	ctx := context.Background()

	_, err := client.Get[Task](ctx, c, "/missing")
	assert.True(t, client.IsNotFound(err), "got %v", err)
	assert.False(t, client.IsConflict(err))

	_, err = client.Get[Task](ctx, c, "/conflict")
	assert.True(t, client.IsConflict(err))

	_, err = client.Get[Task](ctx, c, "/garbage")
	require.Error(t, err)
	var se *client.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "UNKNOWN", se.Code)
	assert.Equal(t, http.StatusBadGateway, se.Status)
	assert.Equal(t, `<html>oops</html>`, se.Message)

	// легаси-тело без code: UNKNOWN, текст из message (приоритетнее error)
	_, err = client.Get[Task](ctx, c, "/legacy-message")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "UNKNOWN", se.Code)
	assert.Equal(t, "boom", se.Message)

	_, err = client.Get[Task](ctx, c, "/legacy-error")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "UNKNOWN", se.Code)
	assert.Equal(t, "boom", se.Message)
}

func TestPostPutDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost, http.MethodPut:
			var in Task
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			in.Done = true
			json.NewEncoder(w).Encode(in)
		case http.MethodDelete:
			w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.NoAuth{})
	ctx := context.Background()

	out, err := client.Post[Task, Task](ctx, c, "/tasks", &Task{ID: "n"})
	require.NoError(t, err)
	assert.Equal(t, &Task{ID: "n", Done: true}, out)

	out, err = client.Put[Task, Task](ctx, c, "/tasks/n", &Task{ID: "n"})
	require.NoError(t, err)
	assert.True(t, out.Done)

	require.NoError(t, client.Delete(ctx, c, "/tasks/n"))
}

func TestStaticTokenHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"a"}`))
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.StaticToken{Value: "sekret"})
	_, err := client.Get[Task](context.Background(), c, "/tasks/a")
	require.NoError(t, err)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func TestPasswordSourceCachesToken(t *testing.T) {
	var logins atomic.Int32
	token := signedToken(t, time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "bob", creds["username"])
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	defer srv.Close()

	src := client.NewPasswordSource(srv.URL, "bob", "pass")

	for i := 0; i < 3; i++ {
		got, err := src.Token()
		require.NoError(t, err)
		assert.Equal(t, token, got)
	}
	assert.EqualValues(t, 1, logins.Load(), "valid token must be served from cache")
}

func TestPasswordSourceRefreshesNearExpiry(t *testing.T) {
	var logins atomic.Int32
	// истекает раньше 30-секундного зазора — каждый вызов логинится заново
	stale := signedToken(t, time.Now().Add(5*time.Second))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"token": stale})
	}))
	defer srv.Close()

	src := client.NewPasswordSource(srv.URL, "bob", "pass")
	_, err := src.Token()
	require.NoError(t, err)
	_, err = src.Token()
	require.NoError(t, err)
	assert.EqualValues(t, 2, logins.Load())
}

func TestPasswordSourceLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := client.NewPasswordSource(srv.URL, "bob", "wrong")
	_, err := src.Token()
	assert.Error(t, err)
}
