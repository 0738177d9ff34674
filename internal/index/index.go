// Package index provides an insertion-ordered map with unique keys. An index is built
// once per run, read during reconciliation and then discarded.
package index

import (
	"fmt"
	"iter"
)

// DuplicateKeyError reports a key that was added twice. Both colliding records are kept
// so the caller can log them.
type DuplicateKeyError struct {
	Key      any
	Existing any
	Incoming any
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %v: existing %+v, incoming %+v", e.Key, e.Existing, e.Incoming)
}

// Index maps keys of a single identifier space to records.
type Index[K comparable, V any] struct {
	keys  []K
	items map[K]V
}

func New[K comparable, V any]() *Index[K, V] {
	return &Index[K, V]{items: make(map[K]V)}
}

// Build indexes items by key. It fails on the first duplicate key.
func Build[K comparable, V any](items []V, key func(V) K) (*Index[K, V], error) {
	ix := &Index[K, V]{
		keys:  make([]K, 0, len(items)),
		items: make(map[K]V, len(items)),
	}
	for _, it := range items {
		if err := ix.Add(key(it), it); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Add inserts v under k. An existing key is never overwritten.
func (ix *Index[K, V]) Add(k K, v V) error {
	if existing, ok := ix.items[k]; ok {
		return &DuplicateKeyError{Key: k, Existing: existing, Incoming: v}
	}
	ix.items[k] = v
	ix.keys = append(ix.keys, k)
	return nil
}

func (ix *Index[K, V]) Get(k K) (V, bool) {
	v, ok := ix.items[k]
	return v, ok
}

func (ix *Index[K, V]) Has(k K) bool {
	_, ok := ix.items[k]
	return ok
}

func (ix *Index[K, V]) Len() int { return len(ix.keys) }

// Keys returns a copy of the keys in insertion order.
func (ix *Index[K, V]) Keys() []K {
	out := make([]K, len(ix.keys))
	copy(out, ix.keys)
	return out
}

// All iterates entries in insertion order.
func (ix *Index[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for _, k := range ix.keys {
			if !yield(k, ix.items[k]) {
				return
			}
		}
	}
}
