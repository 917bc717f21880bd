package flux

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Handler обрабатывает запрос emit: путь, полезная нагрузка и сама шина,
// чтобы обработчик мог читать и писать состояние.
type Handler func(ctx context.Context, path string, payload any, s *Store) error

// Subscriber получает уведомление синхронно из потока, выполнившего запись.
type Subscriber func(path string, value any)

type subscription struct {
	id  uuid.UUID
	fn  Subscriber
	seq uint64
}

type handlerEntry struct {
	fn  Handler
	seq uint64
}

// Entry — пара путь/значение для Scan.
type Entry struct {
	Path  string
	Value any
}

// Store — состояние шины плюс два trie: подписчики и обработчики.
// Карта состояния под одним RW-замком; у каждого trie свой замок.
type Store struct {
	mu   sync.RWMutex
	data map[string]any

	subs     *trie[subscription]
	handlers *trie[handlerEntry]

	seqMu sync.Mutex
	seq   uint64
}

func NewStore() *Store {
	return &Store{
		data:     make(map[string]any),
		subs:     newTrie[subscription](),
		handlers: newTrie[handlerEntry](),
	}
}

func (s *Store) nextSeq() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

// Get — снимок текущего значения по точному пути.
func (s *Store) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[path]
	return v, ok
}

// Scan возвращает записи под prefix+"/" (сам prefix не входит),
// упорядоченные по пути.
func (s *Store) Scan(prefix string) []Entry {
	want := prefix + "/"
	s.mu.RLock()
	var out []Entry
	for p, v := range s.data {
		if strings.HasPrefix(p, want) {
			out = append(out, Entry{Path: p, Value: v})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Set пишет значение и синхронно уведомляет подписчиков, чьи шаблоны
// покрывают путь. Подписчик не должен реэнтерабельно писать в ту же шину.
func (s *Store) Set(path string, v any) {
	s.mu.Lock()
	s.data[path] = v
	s.mu.Unlock()

	matched := s.subs.Match(path)
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	for _, sub := range matched {
		sub.fn(path, v)
	}
}

// Delete убирает значение; подписчики получают nil.
func (s *Store) Delete(path string) {
	s.mu.Lock()
	_, existed := s.data[path]
	delete(s.data, path)
	s.mu.Unlock()
	if !existed {
		return
	}
	matched := s.subs.Match(path)
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	for _, sub := range matched {
		sub.fn(path, nil)
	}
}

// Subscribe регистрирует наблюдателя изменений; возвращает id для отписки.
func (s *Store) Subscribe(pattern string, fn Subscriber) uuid.UUID {
	id := uuid.New()
	s.subs.Insert(pattern, subscription{id: id, fn: fn, seq: s.nextSeq()})
	return id
}

// Unsubscribe снимает наблюдателя; незнакомая пара pattern/id — no-op.
func (s *Store) Unsubscribe(pattern string, id uuid.UUID) {
	s.subs.Remove(pattern, func(sub subscription) bool { return sub.id == id })
}

// Handle регистрирует обработчик запросов на шаблон.
func (s *Store) Handle(pattern string, fn Handler) {
	s.handlers.Insert(pattern, handlerEntry{fn: fn, seq: s.nextSeq()})
}

// ErrNoHandler — на emit не нашлось ни одного обработчика.
var ErrNoHandler = errors.New("flux: нет обработчика для пути")

// Emit передаёт запрос всем совпавшим обработчикам строго последовательно,
// в порядке их регистрации. Ошибка первого упавшего прерывает цепочку.
func (s *Store) Emit(ctx context.Context, path string, payload any) error {
	matched := s.handlers.Match(path)
	if len(matched) == 0 {
		return ErrNoHandler
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	for _, h := range matched {
		if err := h.fn(ctx, path, payload, s); err != nil {
			return err
		}
	}
	return nil
}
