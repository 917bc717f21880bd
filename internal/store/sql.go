package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"

	"korob/internal/apperr"
	"korob/internal/backend"
	"korob/internal/model"
)

// SqlOps — операции модели T над SQL-движком. Запись лежит строкой
// (indexed-колонки..., data BYTEA); первичный ключ таблицы — объявленный
// кортеж модели. Семантика конфликтов — та же, что у KvOps.
type SqlOps[T any] struct {
	db    backend.SQL
	desc  *model.Descriptor
	table string
	cols  []string // имена indexed-колонок (включая pk), порядок стабилен
}

func NewSql[T any](db backend.SQL, desc *model.Descriptor) *SqlOps[T] {
	o := &SqlOps[T]{
		db:    db,
		desc:  desc,
		table: desc.Module + "_" + desc.Resource,
	}
	seen := map[string]bool{}
	add := func(name string) {
		col := snake(name)
		if !seen[col] {
			seen[col] = true
			o.cols = append(o.cols, col)
		}
	}
	for _, pk := range desc.PK {
		add(pk)
	}
	for _, f := range desc.Fields {
		if f.Unique || f.Indexed {
			add(f.Name)
		}
	}
	return o
}

func (o *SqlOps[T]) Desc() *model.Descriptor { return o.desc }

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (o *SqlOps[T]) pkCols() []string { return o.cols[:len(o.desc.PK)] }

// EnsureTable — idempotent CREATE TABLE / CREATE (UNIQUE) INDEX.
func (o *SqlOps[T]) EnsureTable(ctx context.Context) error {
	defs := make([]string, 0, len(o.cols)+1)
	for _, c := range o.cols {
		defs = append(defs, c+" TEXT")
	}
	defs = append(defs, "data BYTEA")
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		o.table, strings.Join(defs, ", "), strings.Join(o.pkCols(), ", "))
	if err := o.db.Exec(ctx, ddl); err != nil {
		return err
	}
	for _, f := range o.desc.Fields {
		if !f.Unique && !f.Indexed {
			continue
		}
		col := snake(f.Name)
		kind := "INDEX"
		if f.Unique {
			kind = "UNIQUE INDEX"
		}
		ddl := fmt.Sprintf("CREATE %s IF NOT EXISTS %s_%s_idx ON %s (%s)",
			kind, o.table, col, o.table, col)
		if err := o.db.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (o *SqlOps[T]) wherePK(base int) string {
	conds := make([]string, 0, len(o.desc.PK))
	for i, c := range o.pkCols() {
		conds = append(conds, fmt.Sprintf("%s = $%d", c, base+i))
	}
	return strings.Join(conds, " AND ")
}

func pkArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func (o *SqlOps[T]) checkArity(ids []string) error {
	if len(ids) != len(o.desc.PK) {
		return apperr.Newf(apperr.Validation, "expected %d key segment(s), got %d", len(o.desc.PK), len(ids))
	}
	return nil
}

// материализация из колонки data: предпочитаем BLOB, допускаем TEXT
func dataBytes(raw any) []byte {
	switch v := raw.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

func (o *SqlOps[T]) decode(b []byte) (*T, error) {
	rec := new(T)
	if err := json.Unmarshal(b, rec); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "corrupt stored record", err)
	}
	return rec, nil
}

func (o *SqlOps[T]) readRaw(ctx context.Context, ids []string) ([]byte, error) {
	q := fmt.Sprintf("SELECT data FROM %s WHERE %s", o.table, o.wherePK(1))
	var raw any
	err := o.db.QueryRow(ctx, q, pkArgs(ids)...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.Newf(apperr.NotFound, "%s %q not found", o.desc.Resource, strings.Join(ids, "/"))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "select", err)
	}
	return dataBytes(raw), nil
}

func (o *SqlOps[T]) Get(ctx context.Context, ids ...string) (*T, error) {
	if err := o.checkArity(ids); err != nil {
		return nil, err
	}
	b, err := o.readRaw(ctx, ids)
	if err != nil {
		return nil, err
	}
	return o.decode(b)
}

// колоночное значение indexed-поля из сериализованного тела
func jsonField(body []byte, key string) any {
	v, t, _, err := jsonparser.Get(body, key)
	if err != nil {
		return nil
	}
	switch t {
	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			return string(v)
		}
		return s
	case jsonparser.Null:
		return nil
	default:
		return string(v)
	}
}

func (o *SqlOps[T]) colValues(body []byte) []any {
	out := make([]any, 0, len(o.cols))
	for _, c := range o.cols {
		// колонка названа по snake(wire-имени); обратно — по полю дескриптора
		var wire string
		for _, f := range o.desc.Fields {
			if snake(f.Name) == c {
				wire = f.Name
				break
			}
		}
		out = append(out, jsonField(body, wire))
	}
	return out
}

func (o *SqlOps[T]) insert(ctx context.Context, rec *T) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode record", err)
	}
	ph := make([]string, 0, len(o.cols)+1)
	for i := range o.cols {
		ph = append(ph, fmt.Sprintf("$%d", i+1))
	}
	ph = append(ph, fmt.Sprintf("$%d", len(o.cols)+1))
	q := fmt.Sprintf("INSERT INTO %s (%s, data) VALUES (%s)",
		o.table, strings.Join(o.cols, ", "), strings.Join(ph, ", "))
	args := append(o.colValues(body), body)
	return o.db.Exec(ctx, q, args...)
}

// update одним statement'ом сбрасывает и data, и все indexed-колонки.
// Сравнение токена — в WHERE того же statement'а: проверка и запись
// атомарны на стороне базы, два писателя с одним токеном не пройдут оба.
func (o *SqlOps[T]) update(ctx context.Context, ids []string, rec *T, prevToken string) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode record", err)
	}
	sets := make([]string, 0, len(o.cols)+1)
	for i, c := range o.cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", c, i+1))
	}
	sets = append(sets, fmt.Sprintf("data = $%d", len(o.cols)+1))
	tokPos := len(o.cols) + 2 + len(ids)
	q := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s AND convert_from(data, 'UTF8')::jsonb->>'updatedAt' = $%d RETURNING 1",
		o.table, strings.Join(sets, ", "), o.wherePK(len(o.cols)+2), tokPos)
	args := append(append(o.colValues(body), body), pkArgs(ids)...)
	args = append(args, prevToken)
	var one int
	err = o.db.QueryRow(ctx, q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.Conflict, "record was modified concurrently")
	}
	if err != nil {
		return apperr.Wrap(apperr.Storage, "update", err)
	}
	return nil
}

// SaveNew — как у KvOps; дубликат первичного ключа или unique-констрейнта
// движок поднимает как ALREADY_EXISTS.
func (o *SqlOps[T]) SaveNew(ctx context.Context, rec *T) (*T, error) {
	if err := runBeforeCreate(rec); err != nil {
		return nil, err
	}
	pk := o.desc.PKValues(rec)
	if len(pk) == 0 || pk[0] == "" {
		o.desc.SetPK(rec, NewID())
	}
	if err := validateNames(o.desc, rec); err != nil {
		return nil, err
	}
	cm := commonOf(rec)
	now := nextTimestamp("")
	cm.CreatedAt = now
	cm.UpdatedAt = now
	cm.Rev = 1
	if err := o.insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (o *SqlOps[T]) Save(ctx context.Context, rec *T) (*T, error) {
	ids := o.desc.PKValues(rec)
	if len(ids) == 0 || ids[0] == "" {
		return nil, apperr.New(apperr.Validation, "primary key is required")
	}
	cm := commonOf(rec)
	prev := ""
	cur, err := o.Get(ctx, ids...)
	switch {
	case err == nil:
		curCm := commonOf(cur)
		if curCm.UpdatedAt != cm.UpdatedAt {
			return nil, apperr.New(apperr.Conflict, "record was modified concurrently")
		}
		cm.CreatedAt = curCm.CreatedAt
		cm.Rev = curCm.Rev
		prev = curCm.UpdatedAt
	case apperr.Is(err, apperr.NotFound):
		cur = nil
	default:
		return nil, err
	}

	if err := runBeforeUpdate(rec); err != nil {
		return nil, err
	}
	if err := validateNames(o.desc, rec); err != nil {
		return nil, err
	}

	cm.UpdatedAt = nextTimestamp(prev)
	if cm.CreatedAt == "" {
		cm.CreatedAt = cm.UpdatedAt
	}
	cm.Rev++

	if cur == nil {
		return rec, o.insert(ctx, rec)
	}
	return rec, o.update(ctx, ids, rec, prev)
}

func (o *SqlOps[T]) Patch(ctx context.Context, ids []string, patch []byte) (*T, error) {
	if err := o.checkArity(ids); err != nil {
		return nil, err
	}
	curRaw, err := o.readRaw(ctx, ids)
	if err != nil {
		return nil, err
	}
	cur, err := o.decode(curRaw)
	if err != nil {
		return nil, err
	}
	curCm := commonOf(cur)

	if tok, err := jsonparser.GetString(patch, "updatedAt"); err == nil {
		if tok != curCm.UpdatedAt {
			return nil, apperr.New(apperr.Conflict, "record was modified concurrently")
		}
	}

	merged, err := applyMergePatch(curRaw, patch)
	if err != nil {
		return nil, err
	}
	rec := new(T)
	if err := json.Unmarshal(merged, rec); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "patch does not fit model", err)
	}
	o.desc.SetPK(rec, ids[0])
	cm := commonOf(rec)
	cm.CreatedAt = curCm.CreatedAt

	if err := runBeforeUpdate(rec); err != nil {
		return nil, err
	}
	if err := validateNames(o.desc, rec); err != nil {
		return nil, err
	}

	cm.UpdatedAt = nextTimestamp(curCm.UpdatedAt)
	cm.Rev = curCm.Rev + 1

	if err := o.update(ctx, ids, rec, curCm.UpdatedAt); err != nil {
		return nil, err
	}
	return rec, nil
}

func (o *SqlOps[T]) Delete(ctx context.Context, ids ...string) error {
	if err := o.checkArity(ids); err != nil {
		return err
	}
	b, err := o.readRaw(ctx, ids)
	if err != nil {
		return err
	}
	rec, err := o.decode(b)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s", o.table, o.wherePK(1))
	if err := o.db.Exec(ctx, q, pkArgs(ids)...); err != nil {
		return err
	}
	runAfterDelete(rec)
	return nil
}

func (o *SqlOps[T]) scanAll(rows *sql.Rows) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan row", err)
		}
		rec, err := o.decode(dataBytes(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "iterate rows", err)
	}
	return out, nil
}

func (o *SqlOps[T]) List(ctx context.Context) ([]*T, error) {
	q := fmt.Sprintf("SELECT data FROM %s ORDER BY %s", o.table, strings.Join(o.pkCols(), ", "))
	rows, err := o.db.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return o.scanAll(rows)
}

// ListPaginated — нативный LIMIT/OFFSET; берём limit+1 строк, чтобы
// посчитать hasMore без отдельного COUNT.
func (o *SqlOps[T]) ListPaginated(ctx context.Context, limit, offset int) (Page[T], error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	q := fmt.Sprintf("SELECT data FROM %s ORDER BY %s LIMIT $1 OFFSET $2",
		o.table, strings.Join(o.pkCols(), ", "))
	rows, err := o.db.Query(ctx, q, limit+1, offset)
	if err != nil {
		return Page[T]{}, err
	}
	items, err := o.scanAll(rows)
	if err != nil {
		return Page[T]{}, err
	}
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	return Page[T]{Items: items, HasMore: hasMore}, nil
}

func (o *SqlOps[T]) Count(ctx context.Context) (int, error) {
	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", o.table)
	if err := o.db.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.Storage, "count", err)
	}
	return n, nil
}

// FindBy — точечный поиск по одной indexed-колонке.
func (o *SqlOps[T]) FindBy(ctx context.Context, field string, value any) ([]*T, error) {
	col := snake(field)
	found := false
	for _, c := range o.cols {
		if c == col {
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.Newf(apperr.Validation, "field %q is not indexed", field)
	}
	q := fmt.Sprintf("SELECT data FROM %s WHERE %s = $1 ORDER BY %s",
		o.table, col, strings.Join(o.pkCols(), ", "))
	rows, err := o.db.Query(ctx, q, value)
	if err != nil {
		return nil, err
	}
	return o.scanAll(rows)
}

// ===== JSON-адаптер для админ-роутера =====

func (o *SqlOps[T]) GetJSON(ctx context.Context, ids []string) ([]byte, error) {
	rec, err := o.Get(ctx, ids...)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func (o *SqlOps[T]) CreateJSON(ctx context.Context, body []byte) ([]byte, error) {
	rec := new(T)
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid JSON body", err)
	}
	saved, err := o.SaveNew(ctx, rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(saved)
}

func (o *SqlOps[T]) PutJSON(ctx context.Context, ids []string, body []byte) ([]byte, error) {
	if _, err := o.Get(ctx, ids...); err != nil {
		return nil, err
	}
	rec := new(T)
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid JSON body", err)
	}
	saved, err := o.Save(ctx, rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(saved)
}

func (o *SqlOps[T]) PatchJSON(ctx context.Context, ids []string, patch []byte) ([]byte, error) {
	rec, err := o.Patch(ctx, ids, patch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func (o *SqlOps[T]) DeleteJSON(ctx context.Context, ids []string) error {
	return o.Delete(ctx, ids...)
}

func (o *SqlOps[T]) ListJSON(ctx context.Context, limit, offset int) ([][]byte, bool, error) {
	page, err := o.ListPaginated(ctx, limit, offset)
	if err != nil {
		return nil, false, err
	}
	items := make([][]byte, 0, len(page.Items))
	for _, rec := range page.Items {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, false, apperr.Wrap(apperr.Internal, "encode record", err)
		}
		items = append(items, b)
	}
	return items, page.HasMore, nil
}

func (o *SqlOps[T]) CountJSON(ctx context.Context) (int, error) { return o.Count(ctx) }
