// Package index builds in-memory lookup tables over fetched catalog records.
package index

// Index maps a unique key to a record.
type Index[K comparable, V any] struct {
	byKey map[K]V
	keys  []K
	all   []V
}

// New indexes records by key in O(n). When two records share a key the last
// one wins; the catalog does not guarantee unique ids and this is not corrected.
func New[K comparable, V any](records []V, key func(V) K) *Index[K, V] {
	return build(records, key, true)
}

// NewFirst is like New but the first record for a key wins.
func NewFirst[K comparable, V any](records []V, key func(V) K) *Index[K, V] {
	return build(records, key, false)
}

func build[K comparable, V any](records []V, key func(V) K, lastWins bool) *Index[K, V] {
	idx := &Index[K, V]{
		byKey: make(map[K]V, len(records)),
		keys:  make([]K, 0, len(records)),
		all:   records,
	}
	for _, r := range records {
		k := key(r)
		if _, seen := idx.byKey[k]; seen {
			if lastWins {
				idx.byKey[k] = r
			}
			continue
		}
		idx.byKey[k] = r
		idx.keys = append(idx.keys, k)
	}
	return idx
}

// Get returns the record for k.
func (i *Index[K, V]) Get(k K) (V, bool) {
	v, ok := i.byKey[k]
	return v, ok
}

// Len returns the number of distinct keys.
func (i *Index[K, V]) Len() int { return len(i.byKey) }

// Keys returns the distinct keys in first-seen order.
func (i *Index[K, V]) Keys() []K { return i.keys }

// Filter returns every indexed source record matching pred, in source order.
func (i *Index[K, V]) Filter(pred func(V) bool) []V {
	var out []V
	for _, r := range i.all {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
