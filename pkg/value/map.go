package value

// OrderedMap is the backing store for Map-repr values: it preserves
// insertion order for iteration while supporting O(1) lookup. Non-string
// keys are supported by keying on the Value's Repr().
type OrderedMap struct {
	keys   []Value
	index  map[string]int
	values []Value
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{index: make(map[string]int)}
}

func mapKey(k Value) string { return k.Repr() }

// Set inserts or overwrites a key, preserving the original position on
// overwrite.
func (m *OrderedMap) Set(key, val Value) {
	mk := mapKey(key)
	if i, ok := m.index[mk]; ok {
		m.values[i] = val
		return
	}
	m.index[mk] = len(m.keys)
	m.keys = append(m.keys, key)
	m.values = append(m.values, val)
}

// Get looks up a key.
func (m *OrderedMap) Get(key Value) (Value, bool) {
	if i, ok := m.index[mapKey(key)]; ok {
		return m.values[i], true
	}
	return Undefined(), false
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []Value { return append([]Value(nil), m.keys...) }

// Len reports the number of entries.
func (m *OrderedMap) Len() int { return len(m.keys) }

// Clone returns a shallow copy with an independent key/value backing.
func (m *OrderedMap) Clone() *OrderedMap {
	cp := &OrderedMap{
		keys:   append([]Value(nil), m.keys...),
		values: append([]Value(nil), m.values...),
		index:  make(map[string]int, len(m.index)),
	}
	for k, v := range m.index {
		cp.index[k] = v
	}
	return cp
}

// Equal compares two maps by key/value equality without order
// dependence.
func (m *OrderedMap) Equal(other *OrderedMap) bool {
	if m.Len() != other.Len() {
		return false
	}
	for i, k := range m.keys {
		ov, ok := other.Get(k)
		if !ok || !m.values[i].Equal(ov) {
			return false
		}
	}
	return true
}
