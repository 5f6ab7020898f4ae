package index

// Multi maps a key to every record that lists it, e.g. a country code to all
// regions whose country set contains it.
type Multi[K comparable, V any] struct {
	byKey map[K][]V
}

// NewMulti builds a Multi in O(total keys). Records keep their source order
// under each key, and a record listing the same key twice appears once.
func NewMulti[K comparable, V any](records []V, keys func(V) []K) *Multi[K, V] {
	m := &Multi[K, V]{byKey: make(map[K][]V)}
	for _, r := range records {
		ks := keys(r)
		for j, k := range ks {
			if containsBefore(ks, j, k) {
				continue
			}
			m.byKey[k] = append(m.byKey[k], r)
		}
	}
	return m
}

func containsBefore[K comparable](ks []K, j int, k K) bool {
	for _, x := range ks[:j] {
		if x == k {
			return true
		}
	}
	return false
}

// Get returns the records listing k, or nil.
func (m *Multi[K, V]) Get(k K) []V {
	return m.byKey[k]
}

// Len returns the number of distinct keys.
func (m *Multi[K, V]) Len() int { return len(m.byKey) }
