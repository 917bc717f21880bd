package facet_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"korob/internal/apperr"
	"korob/internal/client"
	"korob/internal/facet"
)

type TaskView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

func mobileDef() *facet.Definition {
	return &facet.Definition{
		Name:   "mobile",
		Module: "tasks",
		Resources: []facet.Resource{
			{Name: "tasks", Path: "tasks", PK: "id", Singular: "task", Proto: TaskView{}},
		},
		Actions: []facet.Action{
			{
				Name:   "complete",
				Method: http.MethodPost,
				Path:   "/tasks/{id}/complete",
				Params: []facet.Param{{Name: "id", InPath: true}},
			},
			{
				Name:   "rename",
				Method: http.MethodPut,
				Path:   "/tasks/{id}/title",
				Params: []facet.Param{{Name: "id", InPath: true}, {Name: "title"}},
			},
			{
				Name:   "purge",
				Method: http.MethodDelete,
				Path:   "/tasks/{id}",
				Params: []facet.Param{{Name: "id", InPath: true}, {Name: "reason"}},
			},
		},
	}
}

// фиксированная реализация проекции для тестов
type staticTasks struct {
	items []TaskView
}

func (s *staticTasks) ListJSON(_ context.Context, limit, offset int) ([][]byte, bool, error) {
	out := make([][]byte, 0, len(s.items))
	for _, it := range s.items {
		b, _ := json.Marshal(it)
		out = append(out, b)
	}
	return out, false, nil
}

func (s *staticTasks) GetJSON(_ context.Context, id string) ([]byte, error) {
	for _, it := range s.items {
		if it.ID == id {
			return json.Marshal(it)
		}
	}
	return nil, apperr.Newf(apperr.NotFound, "task %q not found", id)
}

func TestHasBody(t *testing.T) {
	def := mobileDef()
	assert.False(t, def.Actions[0].HasBody(), "path-only params mean no body")
	assert.True(t, def.Actions[1].HasBody())
	assert.False(t, def.Actions[2].HasBody(), "DELETE never carries a body")
}

func TestIR(t *testing.T) {
	ir := mobileDef().IR()
	assert.Equal(t, "mobile", ir.Name)
	assert.Equal(t, "tasks", ir.Module)
	require.Len(t, ir.Resources, 1)
	assert.Equal(t, facet.IRResource{Name: "tasks", Path: "tasks", PK: "id"}, ir.Resources[0])

	require.Len(t, ir.Actions, 3)
	assert.Equal(t, facet.IRAction{
		Name: "complete", Method: http.MethodPost, Path: "/tasks/{id}/complete", HasBody: false,
	}, ir.Actions[0])
	assert.True(t, ir.Actions[1].HasBody)
}

func TestMountRejectsIncompleteHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	def := mobileDef()

	t.Run("MissingAction", func(t *testing.T) {
		h := facet.NewHandlers(def).
			Resource("tasks", &staticTasks{})
		// complete/rename/purge не зарегистрированы
		err := h.Mount(gin.New().Group("/"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "complete")
	})

	t.Run("MissingResource", func(t *testing.T) {
		h := facet.NewHandlers(def)
		for _, a := range def.Actions {
			h.Action(a.Name, func(context.Context, map[string]string, []byte) (any, error) {
				return nil, nil
			})
		}
		err := h.Mount(gin.New().Group("/"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tasks")
	})
}

func mountedServer(t *testing.T, tasks *staticTasks, completed *[]string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	def := mobileDef()

	h := facet.NewHandlers(def).
		Resource("tasks", tasks).
		Action("complete", func(_ context.Context, p map[string]string, _ []byte) (any, error) {
			*completed = append(*completed, p["id"])
			return map[string]string{"id": p["id"], "state": "done"}, nil
		}).
		Action("rename", func(_ context.Context, p map[string]string, body []byte) (any, error) {
			var in struct {
				Title string `json:"title"`
			}
			if err := json.Unmarshal(body, &in); err != nil {
				return nil, apperr.Wrap(apperr.Validation, "bad body", err)
			}
			return TaskView{ID: p["id"], Title: in.Title}, nil
		}).
		Action("purge", func(_ context.Context, p map[string]string, body []byte) (any, error) {
			assert.Nil(t, body, "DELETE body must be dropped")
			return nil, nil
		})

	r := gin.New()
	require.NoError(t, h.Mount(r.Group("/")))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestFacetEndToEnd(t *testing.T) {
	tasks := &staticTasks{items: []TaskView{
		{ID: "t1", Title: "first"},
		{ID: "t2", Title: "second", Done: true},
	}}
	var completed []string
	srv := mountedServer(t, tasks, &completed)

	fc := facet.NewClient(mobileDef(), client.New(srv.URL, client.NoAuth{}))
	ctx := context.Background()

	t.Run("List", func(t *testing.T) {
		got, hasMore, err := facet.ListOf[TaskView](ctx, fc, "tasks")
		require.NoError(t, err)
		assert.False(t, hasMore)
		assert.Equal(t, tasks.items, got)
	})

	t.Run("Get", func(t *testing.T) {
		got, err := facet.GetOf[TaskView](ctx, fc, "tasks", "t2")
		require.NoError(t, err)
		assert.Equal(t, &tasks.items[1], got)

		_, err = facet.GetOf[TaskView](ctx, fc, "tasks", "nope")
		assert.True(t, client.IsNotFound(err))
	})

	t.Run("ActionWithoutBody", func(t *testing.T) {
		out, err := facet.Call[struct{}, map[string]string](ctx, fc, "complete", []string{"t1"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "done", (*out)["state"])
		assert.Equal(t, []string{"t1"}, completed)
	})

	t.Run("ActionWithBody", func(t *testing.T) {
		in := struct {
			Title string `json:"title"`
		}{Title: "renamed"}
		got, err := facet.Call[struct {
			Title string `json:"title"`
		}, TaskView](ctx, fc, "rename", []string{"t1"}, &in)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Title)
	})

	t.Run("DeleteAction", func(t *testing.T) {
		_, err := facet.Call[struct{}, struct{}](ctx, fc, "purge", []string{"t1"}, &struct{}{})
		require.NoError(t, err)
	})

	t.Run("WrongArity", func(t *testing.T) {
		_, err := facet.Call[struct{}, struct{}](ctx, fc, "complete", nil, nil)
		assert.Error(t, err)
	})
}

func TestResourceSchemaDescriptor(t *testing.T) {
	def := mobileDef()
	d := def.Resources[0].Schema()
	assert.Contains(t, d, "TaskView {")
	assert.Contains(t, d, "id: string @ 4;")
	assert.Contains(t, d, "done: bool @ 8;")
}
