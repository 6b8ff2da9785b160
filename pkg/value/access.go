package value

// GetItem implements indexing:
//   - Map/Plain: lookup by value key.
//   - Seq: integer keys, negative indices length-relative.
//   - Iterable: key lookup first, then positional advance for ints.
//   - String/Bytes: integer indexing by character/byte, negative allowed.
func (v Value) GetItem(key Value) Value {
	switch d := v.data.(type) {
	case *OrderedMap:
		if val, ok := d.Get(key); ok {
			return val
		}
		return Undefined()
	case []Value:
		idx, ok := key.AsInt()
		if !ok {
			return Undefined()
		}
		i := int(idx)
		if i < 0 {
			i += len(d)
		}
		if i < 0 || i >= len(d) {
			return Undefined()
		}
		return d[i]
	case string, safeString, smallString:
		runes := []rune(v.String())
		idx, ok := key.AsInt()
		if !ok {
			return Undefined()
		}
		i := int(idx)
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			return Undefined()
		}
		return FromString(string(runes[i]))
	case []byte:
		idx, ok := key.AsInt()
		if !ok {
			return Undefined()
		}
		i := int(idx)
		if i < 0 {
			i += len(d)
		}
		if i < 0 || i >= len(d) {
			return Undefined()
		}
		return FromInt(int64(d[i]))
	case Object:
		if val, ok := d.GetValue(key); ok {
			return val
		}
		if d.Repr() == ReprIterable {
			if idx, ok := key.AsInt(); ok {
				items := enumeratorMaterialize(d, d.Enumerate())
				i := int(idx)
				if i >= 0 && i < len(items) {
					return items[i]
				}
			}
		}
		return Undefined()
	default:
		return Undefined()
	}
}

// GetAttr implements attribute access: on objects it is GetItem with a
// string key; other kinds return Undefined.
func (v Value) GetAttr(name string) Value {
	switch v.data.(type) {
	case *OrderedMap, Object:
		return v.GetItem(FromString(name))
	default:
		return Undefined()
	}
}

// Iter returns the iteration sequence for v:
// Map yields keys, Seq/Iterable yield items, strings yield
// single-character strings, None/Undefined yield nothing. The second
// return reports whether v supports iteration at all.
func (v Value) Iter() ([]Value, bool) {
	switch d := v.data.(type) {
	case nil, undefinedType, noneType:
		return nil, true
	case []Value:
		return d, true
	case *OrderedMap:
		return d.Keys(), true
	case string, safeString, smallString:
		runes := []rune(v.String())
		out := make([]Value, len(runes))
		for i, r := range runes {
			out[i] = FromString(string(r))
		}
		return out, true
	case Object:
		e := d.Enumerate()
		if _, ok := e.(enumNonEnumerable); ok {
			return nil, false
		}
		return enumeratorMaterialize(d, e), true
	default:
		return nil, false
	}
}

// Reverse reverses the iteration sequence: strings/bytes reverse
// element-wise, objects follow their Enumerator (materializing lazily
// only when necessary).
func (v Value) Reverse() (Value, error) {
	switch d := v.data.(type) {
	case []Value:
		out := make([]Value, len(d))
		for i, item := range d {
			out[len(d)-1-i] = item
		}
		return FromSlice(out), nil
	case string, safeString, smallString:
		runes := []rune(v.String())
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return FromString(string(runes)), nil
	case []byte:
		out := make([]byte, len(d))
		for i, b := range d {
			out[len(d)-1-i] = b
		}
		return FromBytes(out), nil
	case Object:
		e := d.Enumerate()
		if !enumeratorReversible(e) {
			return Value{}, opErr("reverse", "object enumerator is not reversible")
		}
		if re, ok := e.(enumRevIter); ok {
			items := re.rev()
			out := make([]Value, len(items))
			copy(out, items)
			return FromSlice(out), nil
		}
		items := enumeratorMaterialize(d, e)
		out := make([]Value, len(items))
		for i, item := range items {
			out[len(items)-1-i] = item
		}
		return FromSlice(out), nil
	default:
		return Value{}, opErr("reverse", "value of kind %s has no defined reverse", v.Kind())
	}
}

// In implements the containment check for the `in` operator: maps
// check key membership, seqs/strings check element/substring
// membership, objects fall back to iteration.
func (v Value) In(container Value) (bool, error) {
	switch d := container.data.(type) {
	case *OrderedMap:
		_, ok := d.Get(v)
		return ok, nil
	case []Value:
		for _, item := range d {
			if item.Equal(v) {
				return true, nil
			}
		}
		return false, nil
	case string, safeString, smallString:
		if v.Kind() != KindString {
			return false, nil
		}
		return containsSubstring(container.String(), v.String()), nil
	case Object:
		items, ok := container.Iter()
		if !ok {
			return false, opErr("in", "value of kind %s is not iterable", container.Kind())
		}
		for _, item := range items {
			if item.Equal(v) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, opErr("in", "value of kind %s is not a container", container.Kind())
	}
}

func containsSubstring(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	n, m := len(haystack), len(needle)
	if m > n {
		return false
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return true
		}
	}
	return false
}
