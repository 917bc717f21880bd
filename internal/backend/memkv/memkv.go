// Package memkv — in-memory KV-движок под одним RWMutex, со снапшотом
// на диск (CBOR). Основной движок dev-сервера и тестов.
package memkv

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"korob/internal/apperr"
	"korob/internal/backend"
)

type Store struct {
	mu       sync.RWMutex
	data     map[string][]byte
	readOnly map[string]struct{}
	path     string // пусто = без персистентности
}

func New() *Store {
	return &Store{
		data:     make(map[string][]byte),
		readOnly: make(map[string]struct{}),
	}
}

// Open поднимает хранилище из снапшота; отсутствующий файл — пустой стор.
func Open(path string) (*Store, error) {
	s := New()
	s.path = path
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, apperr.Wrap(apperr.Storage, "read snapshot", err)
	}
	if err := cbor.Unmarshal(b, &s.data); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "decode snapshot", err)
	}
	return s, nil
}

// Flush пишет снапшот атомарно (tmp + rename).
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	b, err := cbor.Marshal(s.data)
	s.mu.RUnlock()
	if err != nil {
		return apperr.Wrap(apperr.Storage, "encode snapshot", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return apperr.Wrap(apperr.Storage, "write snapshot", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return apperr.Wrap(apperr.Storage, "rename snapshot", err)
	}
	return nil
}

// MarkReadOnly помечает ключ как read-only для записей/удалений.
func (s *Store) MarkReadOnly(key string) {
	s.mu.Lock()
	s.readOnly[key] = struct{}{}
	s.mu.Unlock()
}

func (s *Store) ReadOnly(key string) bool {
	s.mu.RLock()
	_, ok := s.readOnly[key]
	s.mu.RUnlock()
	return ok
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	// копия: хранимое значение не должно утекать наружу по ссылке
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) Put(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	s.mu.Lock()
	s.data[key] = v
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) Scan(prefix string) ([]backend.Entry, error) {
	s.mu.RLock()
	out := make([]backend.Entry, 0, 16)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, backend.Entry{Key: k, Value: cp})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
