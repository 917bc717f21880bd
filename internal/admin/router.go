// Package admin поднимает единый REST-контур над хранилищем:
// для каждой пары (модель, бэкенд) — стандартный набор маршрутов
// с проверкой прав, пагинацией, merge-patch и выбором формата ответа.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"korob/internal/apperr"
	"korob/internal/model"
	"korob/internal/wire"
)

// Resource — то, что умеет отдавать хранилище поверх KV или SQL.
// KvOps и SqlOps реализуют его через свои JSON-адаптеры.
type Resource interface {
	Desc() *model.Descriptor
	GetJSON(ctx context.Context, ids []string) ([]byte, error)
	CreateJSON(ctx context.Context, body []byte) ([]byte, error)
	PutJSON(ctx context.Context, ids []string, body []byte) ([]byte, error)
	PatchJSON(ctx context.Context, ids []string, patch []byte) ([]byte, error)
	DeleteJSON(ctx context.Context, ids []string) error
	ListJSON(ctx context.Context, limit, offset int) ([][]byte, bool, error)
	CountJSON(ctx context.Context) (int, error)
}

// Router монтирует ресурсы одного модуля под общим префиксом.
type Router struct {
	Module string
	Auth   Authenticator
	Log    zerolog.Logger
}

func New(module string, auth Authenticator, log zerolog.Logger) *Router {
	return &Router{Module: module, Auth: auth, Log: log}
}

// Mount регистрирует маршруты всех ресурсов. Число :idN-сегментов
// равно арности первичного ключа модели.
func (rt *Router) Mount(g *gin.RouterGroup, resources ...Resource) {
	for _, res := range resources {
		desc := res.Desc()
		coll := "/" + desc.Collection
		withIDs := coll
		for i := range desc.PK {
			withIDs += fmt.Sprintf("/:id%d", i)
		}

		// служебные маршруты — раньше параметрических
		g.GET(coll+"/@count", rt.countHandler(res))
		g.GET(coll+"/@schema", rt.schemaHandler(res))

		g.GET(coll, rt.listHandler(res))
		g.POST(coll, rt.createHandler(res))
		g.GET(withIDs, rt.getHandler(res))
		g.PUT(withIDs, rt.putHandler(res))
		g.PATCH(withIDs, rt.patchHandler(res))
		g.DELETE(withIDs, rt.deleteHandler(res))
	}
}

func (rt *Router) perm(res Resource, verb string) string {
	return fmt.Sprintf("%s:%s:%s", rt.Module, res.Desc().Collection, verb)
}

// allow — общая проверка прав; при отказе пишет envelope и возвращает false.
func (rt *Router) allow(c *gin.Context, res Resource, verb string) bool {
	p := rt.perm(res, verb)
	if err := rt.Auth.Check(c.Request.Header, p); err != nil {
		rt.Log.Debug().Str("perm", p).Str("path", c.Request.URL.Path).Msg("доступ отклонён")
		fail(c, err)
		return false
	}
	return true
}

func fail(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), apperr.EnvelopeOf(err))
}

func pathIDs(c *gin.Context, desc *model.Descriptor) []string {
	ids := make([]string, len(desc.PK))
	for i := range desc.PK {
		ids[i] = c.Param(fmt.Sprintf("id%d", i))
	}
	return ids
}

func wantsBinary(c *gin.Context) bool {
	return c.GetHeader("Accept") == wire.MimeBinary
}

func parsePage(c *gin.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// GET /{coll}?limit=&offset=
func (rt *Router) listHandler(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rt.allow(c, res, "list") {
			return
		}
		limit, offset := parsePage(c)
		items, hasMore, err := res.ListJSON(c.Request.Context(), limit, offset)
		if err != nil {
			fail(c, err)
			return
		}
		if wantsBinary(c) {
			rt.writeBinaryList(c, res, items, hasMore)
			return
		}
		// items — уже сериализованные записи, не перегоняем через map
		buf := []byte(`{"items":[`)
		for i, it := range items {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, it...)
		}
		buf = append(buf, []byte(fmt.Sprintf(`],"hasMore":%t}`, hasMore))...)
		c.Data(http.StatusOK, "application/json; charset=utf-8", buf)
	}
}

// GET /{coll}/@count
func (rt *Router) countHandler(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rt.allow(c, res, "list") {
			return
		}
		n, err := res.CountJSON(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// GET /{coll}/@schema — IR модели; служебный маршрут для UI.
func (rt *Router) schemaHandler(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rt.allow(c, res, "read") {
			return
		}
		c.JSON(http.StatusOK, res.Desc().IR())
	}
}

// GET /{coll}/{id...}
func (rt *Router) getHandler(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rt.allow(c, res, "read") {
			return
		}
		raw, err := res.GetJSON(c.Request.Context(), pathIDs(c, res.Desc()))
		if err != nil {
			fail(c, err)
			return
		}
		if wantsBinary(c) {
			rt.writeBinaryOne(c, res, raw)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

// POST /{coll}
func (rt *Router) createHandler(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rt.allow(c, res, "create") {
			return
		}
		body, err := readBody(c)
		if err != nil {
			fail(c, err)
			return
		}
		raw, err := res.CreateJSON(c.Request.Context(), body)
		if err != nil {
			fail(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

// PUT /{coll}/{id...}: URL подтверждает существование, ключ берётся из тела.
func (rt *Router) putHandler(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rt.allow(c, res, "update") {
			return
		}
		body, err := readBody(c)
		if err != nil {
			fail(c, err)
			return
		}
		raw, err := res.PutJSON(c.Request.Context(), pathIDs(c, res.Desc()), body)
		if err != nil {
			fail(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

// PATCH /{coll}/{id...} — RFC 7386 merge-patch.
func (rt *Router) patchHandler(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rt.allow(c, res, "update") {
			return
		}
		body, err := readBody(c)
		if err != nil {
			fail(c, err)
			return
		}
		raw, err := res.PatchJSON(c.Request.Context(), pathIDs(c, res.Desc()), body)
		if err != nil {
			fail(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
	}
}

// DELETE /{coll}/{id...}
func (rt *Router) deleteHandler(res Resource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rt.allow(c, res, "delete") {
			return
		}
		if err := res.DeleteJSON(c.Request.Context(), pathIDs(c, res.Desc())); err != nil {
			fail(c, err)
			return
		}
		// успех без дополнительных полей
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte("{}"))
	}
}

func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "чтение тела запроса", err)
	}
	if !json.Valid(body) {
		return nil, apperr.New(apperr.Validation, "тело запроса не является корректным JSON")
	}
	return body, nil
}

// ===== бинарные ответы =====

func (rt *Router) writeBinaryOne(c *gin.Context, res Resource, raw []byte) {
	sch := wire.FromDescriptor(res.Desc())
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		fail(c, apperr.Wrap(apperr.Internal, "декодирование записи", err))
		return
	}
	buf, err := sch.Encode(obj)
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, wire.MimeBinary, buf)
}

func (rt *Router) writeBinaryList(c *gin.Context, res Resource, items [][]byte, hasMore bool) {
	sch := wire.FromDescriptor(res.Desc())
	objs := make([]map[string]any, 0, len(items))
	for _, it := range items {
		var obj map[string]any
		if err := json.Unmarshal(it, &obj); err != nil {
			fail(c, apperr.Wrap(apperr.Internal, "декодирование записи", err))
			return
		}
		objs = append(objs, obj)
	}
	buf, err := sch.EncodeList(objs, hasMore)
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, wire.MimeBinary, buf)
}
