package dedup

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Index is an insertion-ordered set keyed by a caller-supplied function.
// Adding an item whose key is already present replaces the stored value
// but keeps the position where the key was first seen.
type Index[T any] struct {
	keyFor func(T) string
	items  *orderedmap.OrderedMap[string, T]
}

// New creates an empty index using keyFor to identify items.
func New[T any](keyFor func(T) string) *Index[T] {
	return &Index[T]{
		keyFor: keyFor,
		items:  orderedmap.New[string, T](),
	}
}

// Add records item under its key. It reports whether the key was new.
func (ix *Index[T]) Add(item T) bool {
	_, present := ix.items.Set(ix.keyFor(item), item)
	return !present
}

// Len returns the number of distinct keys seen so far.
func (ix *Index[T]) Len() int {
	return ix.items.Len()
}

// Items returns the stored values in first-seen key order.
// The result is never nil so that it encodes as an empty JSON array.
func (ix *Index[T]) Items() []T {
	out := make([]T, 0, ix.items.Len())
	for pair := ix.items.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// ByKey collapses items sharing a key into one entry. The surviving value is
// the last item bearing the key; its position is where the key first appeared.
func ByKey[T any](items []T, keyFor func(T) string) []T {
	ix := New(keyFor)
	for _, item := range items {
		ix.Add(item)
	}
	return ix.Items()
}
