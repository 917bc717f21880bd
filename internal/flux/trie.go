// Package flux — реактивная шина: состояние по /-путям, MQTT-подобные
// шаблоны подписок ("+" — ровно один сегмент, "#" — хвост) и диспетчер
// запросов с последовательным вызовом обработчиков.
package flux

import (
	"strings"
	"sync"
)

// trieNode хранит точные ветки, ветку "+", ветку "#" и значения узла.
type trieNode[V any] struct {
	children map[string]*trieNode[V]
	plus     *trieNode[V]
	hash     *trieNode[V]
	values   []V
}

func newTrieNode[V any]() *trieNode[V] {
	return &trieNode[V]{children: make(map[string]*trieNode[V])}
}

type trie[V any] struct {
	mu   sync.RWMutex
	root *trieNode[V]
}

func newTrie[V any]() *trie[V] {
	return &trie[V]{root: newTrieNode[V]()}
}

func split(path string) []string {
	return strings.Split(path, "/")
}

func (t *trie[V]) Insert(pattern string, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node := t.root
	for _, seg := range split(pattern) {
		switch seg {
		case "+":
			if node.plus == nil {
				node.plus = newTrieNode[V]()
			}
			node = node.plus
		case "#":
			if node.hash == nil {
				node.hash = newTrieNode[V]()
			}
			node = node.hash
			// "#" — всегда последний сегмент; остаток шаблона игнорируем
			node.values = append(node.values, v)
			return
		default:
			next, ok := node.children[seg]
			if !ok {
				next = newTrieNode[V]()
				node.children[seg] = next
			}
			node = next
		}
	}
	node.values = append(node.values, v)
}

// Match собирает значения всех шаблонов, покрывающих конкретный путь.
func (t *trie[V]) Match(path string) []V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []V
	collect(t.root, split(path), &out)
	return out
}

func collect[V any](node *trieNode[V], segs []string, out *[]V) {
	if node == nil {
		return
	}
	// "#" на этом узле покрывает и ноль оставшихся сегментов
	if node.hash != nil {
		*out = append(*out, node.hash.values...)
	}
	if len(segs) == 0 {
		*out = append(*out, node.values...)
		return
	}
	if next, ok := node.children[segs[0]]; ok {
		collect(next, segs[1:], out)
	}
	collect(node.plus, segs[1:], out)
}

// Remove удаляет из узла шаблона значения, на которых predicate истинен.
// Несуществующий шаблон — тихий no-op.
func (t *trie[V]) Remove(pattern string, predicate func(V) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	node := t.root
	for _, seg := range split(pattern) {
		switch seg {
		case "+":
			node = node.plus
		case "#":
			node = node.hash
		default:
			node = node.children[seg]
		}
		if node == nil {
			return
		}
		if seg == "#" {
			break
		}
	}
	kept := node.values[:0]
	for _, v := range node.values {
		if !predicate(v) {
			kept = append(kept, v)
		}
	}
	node.values = kept
}
