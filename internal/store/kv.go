package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/buger/jsonparser"

	"korob/internal/apperr"
	"korob/internal/backend"
	"korob/internal/model"
)

// KvOps — операции модели T над KV-движком. Ключ — "{module}:{resource}:{pk}".
// Значение Ops держит только разделяемую ссылку на движок; сами записи,
// прочитанные наружу, принадлежат вызывающему.
type KvOps[T any] struct {
	kv   backend.KV
	desc *model.Descriptor

	// mu сериализует пишущие операции: проверка updatedAt и запись
	// должны быть атомарны, иначе два писателя с одним токеном
	// пройдут проверку оба и одно обновление потеряется.
	mu sync.Mutex
}

func NewKv[T any](kv backend.KV, desc *model.Descriptor) *KvOps[T] {
	return &KvOps[T]{kv: kv, desc: desc}
}

func (o *KvOps[T]) Desc() *model.Descriptor { return o.desc }

func (o *KvOps[T]) key(id string) string { return o.desc.KVPrefix() + id }

func (o *KvOps[T]) decode(b []byte) (*T, error) {
	rec := new(T)
	if err := json.Unmarshal(b, rec); err != nil {
		// битое значение в хранилище — не ретраится
		return nil, apperr.Wrap(apperr.Internal, "corrupt stored record", err)
	}
	return rec, nil
}

// Get возвращает запись или NOT_FOUND.
func (o *KvOps[T]) Get(id string) (*T, error) {
	b, ok, err := o.kv.Get(o.key(id))
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "kv get", err)
	}
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "%s %q not found", o.desc.Resource, id)
	}
	return o.decode(b)
}

// SaveNew создаёт запись: before_create → валидация ссылок → проверка
// занятости ключа → запись. createdAt == updatedAt, rev = 1.
func (o *KvOps[T]) SaveNew(rec *T) (*T, error) {
	if err := runBeforeCreate(rec); err != nil {
		return nil, err
	}
	pk := o.desc.PKValues(rec)
	if len(pk) == 0 || pk[0] == "" {
		o.desc.SetPK(rec, NewID())
		pk = o.desc.PKValues(rec)
	}
	if err := validateNames(o.desc, rec); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	key := o.key(pk[0])
	_, exists, err := o.kv.Get(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "kv get", err)
	}
	if exists {
		if o.kv.ReadOnly(key) {
			return nil, apperr.Newf(apperr.ReadOnly, "%s %q is read-only", o.desc.Resource, pk[0])
		}
		return nil, apperr.Newf(apperr.AlreadyExists, "%s %q already exists", o.desc.Resource, pk[0])
	}

	cm := commonOf(rec)
	now := nextTimestamp("")
	cm.CreatedAt = now
	cm.UpdatedAt = now
	cm.Rev = 1

	return rec, o.put(key, rec)
}

// Save — полная замена с проверкой блокировки: updatedAt записи обязан
// совпасть с хранимым, иначе CONFLICT и хранилище не меняется.
func (o *KvOps[T]) Save(rec *T) (*T, error) {
	pk := o.desc.PKValues(rec)
	if len(pk) == 0 || pk[0] == "" {
		return nil, apperr.New(apperr.Validation, "primary key is required")
	}
	key := o.key(pk[0])
	if o.kv.ReadOnly(key) {
		return nil, apperr.Newf(apperr.ReadOnly, "%s %q is read-only", o.desc.Resource, pk[0])
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cm := commonOf(rec)
	prev := ""
	b, exists, err := o.kv.Get(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "kv get", err)
	}
	if exists {
		cur, err := o.decode(b)
		if err != nil {
			return nil, err
		}
		curCm := commonOf(cur)
		if curCm.UpdatedAt != cm.UpdatedAt {
			return nil, apperr.New(apperr.Conflict, "record was modified concurrently")
		}
		cm.CreatedAt = curCm.CreatedAt
		cm.Rev = curCm.Rev
		prev = curCm.UpdatedAt
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

	return rec, o.put(key, rec)
}

// Patch — частичное обновление: читаем текущее, применяем RFC 7386
// merge patch к его JSON-форме, прогоняем before_update и пишем.
// Если в патче есть updatedAt — та же проверка конфликта, что в Save.
func (o *KvOps[T]) Patch(id string, patch []byte) (*T, error) {
	key := o.key(id)
	if o.kv.ReadOnly(key) {
		return nil, apperr.Newf(apperr.ReadOnly, "%s %q is read-only", o.desc.Resource, id)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok, err := o.kv.Get(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "kv get", err)
	}
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "%s %q not found", o.desc.Resource, id)
	}
	cur, err := o.decode(b)
	if err != nil {
		return nil, err
	}
	curCm := commonOf(cur)

	if tok, err := jsonparser.GetString(patch, "updatedAt"); err == nil {
		if tok != curCm.UpdatedAt {
			return nil, apperr.New(apperr.Conflict, "record was modified concurrently")
		}
	}

	merged, err := applyMergePatch(b, patch)
	if err != nil {
		return nil, err
	}
	rec := new(T)
	if err := json.Unmarshal(merged, rec); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "patch does not fit model", err)
	}
	// ключ и createdAt патчем не меняются
	o.desc.SetPK(rec, id)
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

	return rec, o.put(key, rec)
}

// Delete удаляет запись; after_delete зовётся ровно один раз и только
// после успешного удаления.
func (o *KvOps[T]) Delete(id string) error {
	key := o.key(id)
	if o.kv.ReadOnly(key) {
		return apperr.Newf(apperr.ReadOnly, "%s %q is read-only", o.desc.Resource, id)
	}
	rec, err := o.deleteLocked(key, id)
	if err != nil {
		return err
	}
	// хук зовём вне мьютекса: он может снова обратиться к хранилищу
	runAfterDelete(rec)
	return nil
}

func (o *KvOps[T]) deleteLocked(key, id string) (*T, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok, err := o.kv.Get(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "kv get", err)
	}
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "%s %q not found", o.desc.Resource, id)
	}
	rec, err := o.decode(b)
	if err != nil {
		return nil, err
	}
	if err := o.kv.Delete(key); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "kv delete", err)
	}
	return rec, nil
}

func (o *KvOps[T]) List() ([]*T, error) {
	entries, err := o.kv.Scan(o.desc.KVPrefix())
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "kv scan", err)
	}
	out := make([]*T, 0, len(entries))
	for _, e := range entries {
		rec, err := o.decode(e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListPaginated режет полный список; hasMore считается от общего числа.
func (o *KvOps[T]) ListPaginated(limit, offset int) (Page[T], error) {
	all, err := o.List()
	if err != nil {
		return Page[T]{}, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	start := offset
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return Page[T]{Items: all[start:end], HasMore: offset+limit < len(all)}, nil
}

func (o *KvOps[T]) Count() (int, error) {
	entries, err := o.kv.Scan(o.desc.KVPrefix())
	if err != nil {
		return 0, apperr.Wrap(apperr.Storage, "kv scan", err)
	}
	return len(entries), nil
}

func (o *KvOps[T]) put(key string, rec *T) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode record", err)
	}
	if err := o.kv.Put(key, b); err != nil {
		return apperr.Wrap(apperr.Storage, "kv put", err)
	}
	return nil
}

func applyMergePatch(target, patch []byte) ([]byte, error) {
	var t, p any
	if err := json.Unmarshal(target, &t); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "corrupt stored record", err)
	}
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid patch JSON", err)
	}
	merged := MergePatch(t, p)
	b, err := json.Marshal(merged)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "encode merged record", err)
	}
	return b, nil
}

// ===== JSON-адаптер для админ-роутера =====

func (o *KvOps[T]) GetJSON(_ context.Context, ids []string) ([]byte, error) {
	rec, err := o.Get(ids[0])
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func (o *KvOps[T]) CreateJSON(_ context.Context, body []byte) ([]byte, error) {
	rec := new(T)
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid JSON body", err)
	}
	saved, err := o.SaveNew(rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(saved)
}

// PutJSON: URL-id подтверждает существование записи; пишем под ключом
// из тела (см. решение по PUT-несовпадению в DESIGN.md).
func (o *KvOps[T]) PutJSON(_ context.Context, ids []string, body []byte) ([]byte, error) {
	if _, err := o.Get(ids[0]); err != nil {
		return nil, err
	}
	rec := new(T)
	if err := json.Unmarshal(body, rec); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid JSON body", err)
	}
	saved, err := o.Save(rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(saved)
}

func (o *KvOps[T]) PatchJSON(_ context.Context, ids []string, patch []byte) ([]byte, error) {
	rec, err := o.Patch(ids[0], patch)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

func (o *KvOps[T]) DeleteJSON(_ context.Context, ids []string) error {
	return o.Delete(ids[0])
}

func (o *KvOps[T]) ListJSON(_ context.Context, limit, offset int) ([][]byte, bool, error) {
	page, err := o.ListPaginated(limit, offset)
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

func (o *KvOps[T]) CountJSON(_ context.Context) (int, error) { return o.Count() }
