// Package setarray provides an append-only string table that behaves like a
// set but hands out stable, dense indexes, the way source map "sources" and
// "names" arrays are referenced by index from segments.
package setarray

// SetArray is a deduplicated list of strings. The zero value is ready to use.
type SetArray struct {
	indexes map[string]int
	array   []string
}

// Get returns the index of key, if present.
func (s *SetArray) Get(key string) (int, bool) {
	i, ok := s.indexes[key]
	return i, ok
}

// Put adds key if it isn't present yet and returns its index.
func (s *SetArray) Put(key string) int {
	if i, ok := s.indexes[key]; ok {
		return i
	}
	if s.indexes == nil {
		s.indexes = map[string]int{}
	}
	i := len(s.array)
	s.indexes[key] = i
	s.array = append(s.array, key)
	return i
}

// PutAll adds every key in order.
func (s *SetArray) PutAll(keys []string) {
	for _, k := range keys {
		s.Put(k)
	}
}

// Reset replaces the contents with keys, kept verbatim so that existing
// references by index stay valid. A duplicated key resolves to its first
// index.
func (s *SetArray) Reset(keys []string) {
	s.indexes = make(map[string]int, len(keys))
	s.array = append([]string(nil), keys...)
	for i, k := range keys {
		if _, ok := s.indexes[k]; !ok {
			s.indexes[k] = i
		}
	}
}

// Len returns the number of distinct keys.
func (s *SetArray) Len() int { return len(s.array) }

// Values returns a copy of the keys in insertion order. The result is never
// nil.
func (s *SetArray) Values() []string {
	return append([]string{}, s.array...)
}
