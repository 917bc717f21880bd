package facet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"korob/internal/apperr"
	"korob/internal/wire"
)

// ResourceHandler отдаёт данные проекции. Записи — уже сериализованный
// JSON, как в адаптерах хранилища.
type ResourceHandler interface {
	ListJSON(ctx context.Context, limit, offset int) ([][]byte, bool, error)
	GetJSON(ctx context.Context, id string) ([]byte, error)
}

// ActionHandler выполняет действие фасета. pathParams — значения
// {name}-подстановок, body — сырое JSON-тело (nil, если тела нет).
// Возвращённое значение сериализуется в JSON-ответ.
type ActionHandler func(ctx context.Context, pathParams map[string]string, body []byte) (any, error)

// Handlers — регистр реализаций фасета. Полнота проверяется при
// монтировании: каждое объявленное действие и каждая проекция обязаны
// иметь реализацию.
type Handlers struct {
	def       *Definition
	resources map[string]ResourceHandler
	actions   map[string]ActionHandler
}

func NewHandlers(def *Definition) *Handlers {
	return &Handlers{
		def:       def,
		resources: make(map[string]ResourceHandler),
		actions:   make(map[string]ActionHandler),
	}
}

func (h *Handlers) Resource(name string, rh ResourceHandler) *Handlers {
	h.resources[name] = rh
	return h
}

func (h *Handlers) Action(name string, fn ActionHandler) *Handlers {
	h.actions[name] = fn
	return h
}

// checkComplete возвращает первую незакрытую декларацию.
func (h *Handlers) checkComplete() error {
	for _, r := range h.def.Resources {
		if _, ok := h.resources[r.Name]; !ok {
			return fmt.Errorf("фасет %s: нет реализации проекции %q", h.def.Name, r.Name)
		}
	}
	for _, a := range h.def.Actions {
		if _, ok := h.actions[a.Name]; !ok {
			return fmt.Errorf("фасет %s: нет реализации действия %q", h.def.Name, a.Name)
		}
	}
	return nil
}

// Mount монтирует фасет под /{facet}/{module}. Неполный регистр —
// ошибка до регистрации единственного маршрута.
func (h *Handlers) Mount(root *gin.RouterGroup) error {
	if err := h.checkComplete(); err != nil {
		return err
	}
	g := root.Group(h.def.BasePath())

	for i := range h.def.Resources {
		res := &h.def.Resources[i]
		rh := h.resources[res.Name]
		g.GET("/"+res.Path, listHandler(res, rh))
		g.GET("/"+res.Path+"/:id", getHandler(res, rh))
	}
	for i := range h.def.Actions {
		act := &h.def.Actions[i]
		g.Handle(act.Method, ginPath(act.Path), actionHandler(act, h.actions[act.Name]))
	}
	return nil
}

// ginPath переводит {name}-подстановки шаблона в :name-параметры gin.
func ginPath(template string) string {
	out := strings.ReplaceAll(template, "{", ":")
	return strings.ReplaceAll(out, "}", "")
}

func fail(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), apperr.EnvelopeOf(err))
}

func listHandler(res *Resource, rh ResourceHandler) gin.HandlerFunc {
	sch := wire.SchemaFor(res.Proto)
	return func(c *gin.Context) {
		limit, offset := pageParams(c)
		items, hasMore, err := rh.ListJSON(c.Request.Context(), limit, offset)
		if err != nil {
			fail(c, err)
			return
		}
		if c.GetHeader("Accept") == wire.MimeBinary {
			objs := make([]map[string]any, 0, len(items))
			for _, it := range items {
				var m map[string]any
				if err := json.Unmarshal(it, &m); err != nil {
					fail(c, apperr.Wrap(apperr.Internal, "декодирование проекции", err))
					return
				}
				objs = append(objs, m)
			}
			buf, err := sch.EncodeList(objs, hasMore)
			if err != nil {
				fail(c, err)
				return
			}
			c.Data(http.StatusOK, wire.MimeBinary, buf)
			return
		}
		body := []byte(`{"items":[`)
		for i, it := range items {
			if i > 0 {
				body = append(body, ',')
			}
			body = append(body, it...)
		}
		body = append(body, []byte(fmt.Sprintf(`],"hasMore":%t}`, hasMore))...)
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	}
}

func getHandler(res *Resource, rh ResourceHandler) gin.HandlerFunc {
	sch := wire.SchemaFor(res.Proto)
	return func(c *gin.Context) {
		raw, err := rh.GetJSON(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		if c.GetHeader("Accept") == wire.MimeBinary {
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				fail(c, apperr.Wrap(apperr.Internal, "декодирование проекции", err))
				return
			}
			buf, err := sch.Encode(m)
			if err != nil {
				fail(c, err)
				return
			}
			c.Data(http.StatusOK, wire.MimeBinary, buf)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

func actionHandler(act *Action, fn ActionHandler) gin.HandlerFunc {
	names := act.placeholders()
	hasBody := act.HasBody()
	return func(c *gin.Context) {
		params := make(map[string]string, len(names))
		for _, n := range names {
			params[n] = c.Param(n)
		}
		var body []byte
		if hasBody {
			raw, err := io.ReadAll(c.Request.Body)
			if err != nil {
				fail(c, apperr.Wrap(apperr.Validation, "чтение тела действия", err))
				return
			}
			body = raw
		}
		out, err := fn(c.Request.Context(), params, body)
		if err != nil {
			fail(c, err)
			return
		}
		if out == nil {
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func pageParams(c *gin.Context) (limit, offset int) {
	limit, offset = 50, 0
	if n, err := strconv.Atoi(c.Query("limit")); err == nil && n >= 0 {
		limit = n
	}
	if n, err := strconv.Atoi(c.Query("offset")); err == nil && n >= 0 {
		offset = n
	}
	return limit, offset
}
