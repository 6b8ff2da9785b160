// Package value implements the engine's uniform dynamic value model:
// Undefined, None, Bool, Integers (machine and wide), Float, String
// (safe/unsafe, small-string inlined), Bytes, Object and Invalid.
package value

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the runtime representation of a Value.
type Kind int

const (
	KindUndefined Kind = iota
	KindNone
	KindBool
	KindNumber
	KindString
	KindBytes
	KindSeq
	KindMap
	KindIterable
	KindCallable
	KindPlain
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	case KindIterable:
		return "iterable"
	case KindCallable:
		return "callable"
	case KindPlain:
		return "plain"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type undefinedType struct{}
type noneType struct{}

// safeString marks content as already escaped for the current output
// format; auto-escape passes it through unchanged.
type safeString string

// wideInt carries a 128-bit signed or unsigned integer that does not
// fit in a machine word. Unsigned wide values are tracked separately so
// formatting/ordering never has to guess the sign convention back out
// of a big.Int.
type wideInt struct {
	v        big.Int
	unsigned bool
}

// smallString is the inline representation for strings of at most
// smallStringMax bytes, avoiding a heap allocation for the common case
// of short template identifiers and literals.
const smallStringMax = 22

type smallString struct {
	len  uint8
	data [smallStringMax]byte
	safe bool
}

func (s smallString) String() string { return string(s.data[:s.len]) }

// Value is the uniform dynamic type. The zero Value is Undefined.
type Value struct {
	data any
}

// Undefined returns the Undefined value.
func Undefined() Value { return Value{} }

// None returns the explicit null value.
func None() Value { return Value{data: noneType{}} }

// FromBool wraps a bool.
func FromBool(b bool) Value { return Value{data: b} }

var trueValue = Value{data: true}
var falseValue = Value{data: false}

// True returns the canonical true value.
func True() Value { return trueValue }

// False returns the canonical false value.
func False() Value { return falseValue }

// FromInt wraps a machine-width signed integer.
func FromInt(i int64) Value { return Value{data: i} }

// FromUint wraps a machine-width unsigned integer.
func FromUint(u uint64) Value { return Value{data: u} }

// FromWideInt wraps an arbitrary-precision signed integer (the 128-bit
// wide signed variant, represented with math/big since Go has no
// native int128).
func FromWideInt(i *big.Int) Value {
	return Value{data: wideInt{v: *i, unsigned: false}}
}

// FromWideUint wraps an arbitrary-precision unsigned integer (the
// 128-bit wide unsigned variant).
func FromWideUint(i *big.Int) Value {
	return Value{data: wideInt{v: *i, unsigned: true}}
}

// FromFloat wraps a 64-bit float.
func FromFloat(f float64) Value { return Value{data: f} }

// FromString wraps a normal (non-safe) string, inlining small strings.
func FromString(s string) Value {
	if len(s) <= smallStringMax {
		var ss smallString
		ss.len = uint8(len(s))
		copy(ss.data[:], s)
		return Value{data: ss}
	}
	return Value{data: s}
}

// FromSafeString wraps a string already escaped for the output format.
func FromSafeString(s string) Value {
	if len(s) <= smallStringMax {
		var ss smallString
		ss.len = uint8(len(s))
		ss.safe = true
		copy(ss.data[:], s)
		return Value{data: ss}
	}
	return Value{data: safeString(s)}
}

// FromBytes wraps an opaque byte vector.
func FromBytes(b []byte) Value { return Value{data: append([]byte(nil), b...)} }

// FromSlice builds a Seq-repr value from a slice of values.
func FromSlice(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{data: cp}
}

// FromMap builds a Map-repr value from string keys, preserving
// insertion order for iteration.
func FromMap(m *OrderedMap) Value { return Value{data: m} }

// FromObject wraps a user-extensible Object implementor.
func FromObject(o Object) Value { return Value{data: o} }

// FromInvalid carries a deferred error: the error surfaces the next
// time the value is interacted with meaningfully.
func FromInvalid(err error) Value { return Value{data: invalidValue{err: err}} }

type invalidValue struct{ err error }

// Kind reports which variant a Value holds.
func (v Value) Kind() Kind {
	switch d := v.data.(type) {
	case nil:
		return KindUndefined
	case undefinedType:
		return KindUndefined
	case noneType:
		return KindNone
	case bool:
		return KindBool
	case int64, uint64, wideInt, float64:
		return KindNumber
	case string, safeString, smallString:
		return KindString
	case []byte:
		return KindBytes
	case []Value:
		return KindSeq
	case *OrderedMap:
		return KindMap
	case invalidValue:
		return KindInvalid
	case Object:
		switch d.Repr() {
		case ReprMap:
			return KindMap
		case ReprSeq:
			return KindSeq
		case ReprIterable:
			return KindIterable
		default:
			if _, ok := d.(Callable); ok {
				return KindCallable
			}
			return KindPlain
		}
	default:
		return KindPlain
	}
}

// IsUndefined reports whether v is the Undefined variant.
func (v Value) IsUndefined() bool { return v.Kind() == KindUndefined }

// IsNone reports whether v is the explicit None variant.
func (v Value) IsNone() bool { return v.Kind() == KindNone }

// InvalidError returns the deferred error carried by an Invalid value,
// or nil if v is not Invalid.
func (v Value) InvalidError() error {
	if iv, ok := v.data.(invalidValue); ok {
		return iv.err
	}
	return nil
}

// IsSafe reports whether a string value is marked as pre-escaped.
func (v Value) IsSafe() bool {
	switch d := v.data.(type) {
	case safeString:
		return true
	case smallString:
		return d.safe
	default:
		return false
	}
}

// checkInvalid surfaces a deferred error as a regular Go error, the
// way any "meaningful interaction" with an Invalid value must.
func (v Value) checkInvalid() error {
	if iv, ok := v.data.(invalidValue); ok {
		return iv.err
	}
	return nil
}

// IsTrue reports the truthiness of v.
func (v Value) IsTrue() bool {
	switch d := v.data.(type) {
	case nil, undefinedType, noneType:
		return false
	case bool:
		return d
	case int64:
		return d != 0
	case uint64:
		return d != 0
	case wideInt:
		return d.v.Sign() != 0
	case float64:
		return d != 0 && !math.IsNaN(d)
	case string:
		return len(d) > 0
	case safeString:
		return len(d) > 0
	case smallString:
		return d.len > 0
	case []byte:
		return len(d) > 0
	case []Value:
		return len(d) > 0
	case *OrderedMap:
		return d.Len() > 0
	case Object:
		if t, ok := d.(interface{ IsTrue() bool }); ok {
			return t.IsTrue()
		}
		return true
	case invalidValue:
		return false
	default:
		return true
	}
}

// String renders v the way it would appear in template output.
func (v Value) String() string {
	switch d := v.data.(type) {
	case nil, undefinedType:
		return ""
	case noneType:
		return "none"
	case bool:
		if d {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(d, 10)
	case uint64:
		return strconv.FormatUint(d, 10)
	case wideInt:
		return d.v.String()
	case float64:
		return formatFloat(d)
	case string:
		return d
	case safeString:
		return string(d)
	case smallString:
		return d.String()
	case []byte:
		return string(d)
	case []Value:
		return v.Repr()
	case *OrderedMap:
		return v.Repr()
	case Object:
		if r, ok := d.(interface{ Render() string }); ok {
			return r.Render()
		}
		return v.Repr()
	case invalidValue:
		return ""
	default:
		return fmt.Sprintf("%v", d)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == math.Trunc(f) && math.Abs(f) < 1e16:
		return strconv.FormatFloat(f, 'f', 1, 64)
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// Repr renders a debug representation (quoted strings, bracketed
// containers) used by the `pprint`-style external filters and by
// String() for container kinds.
func (v Value) Repr() string {
	switch d := v.data.(type) {
	case string:
		return strconv.Quote(d)
	case safeString:
		return strconv.Quote(string(d))
	case smallString:
		return strconv.Quote(d.String())
	case []Value:
		parts := make([]string, len(d))
		for i, item := range d {
			parts[i] = item.Repr()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *OrderedMap:
		keys := d.Keys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			val, _ := d.Get(k)
			parts[i] = fmt.Sprintf("%s: %s", reprMapKey(k), val.Repr())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return v.String()
	}
}

func reprMapKey(k Value) string {
	if k.Kind() == KindString {
		return strconv.Quote(k.String())
	}
	return k.String()
}

// Len reports the length of a string (character count), bytes, a seq,
// or an object whose Enumerator reports a known length. The second
// return value is false when length is undefined for the kind.
func (v Value) Len() (int, bool) {
	switch d := v.data.(type) {
	case string:
		return len([]rune(d)), true
	case safeString:
		return len([]rune(string(d))), true
	case smallString:
		return len([]rune(d.String())), true
	case []byte:
		return len(d), true
	case []Value:
		return len(d), true
	case *OrderedMap:
		return d.Len(), true
	case Object:
		return enumeratorLen(d.Enumerate())
	default:
		return 0, false
	}
}

// SameAs implements Object-protocol identity: pointer equality for
// Objects, and value equality (with matching actual-int/float-ness)
// for primitives. Containers compare by identity of the underlying
// slice/map, not by deep equality, matching Jinja2's is_same_object
// contract.
func (v Value) SameAs(other Value) bool {
	switch d := v.data.(type) {
	case Object:
		od, ok := other.data.(Object)
		return ok && sameObject(d, od)
	case *OrderedMap:
		od, ok := other.data.(*OrderedMap)
		return ok && d == od
	case []Value:
		od, ok := other.data.([]Value)
		if !ok || len(d) == 0 || len(od) == 0 {
			return ok && len(d) == len(od)
		}
		return len(d) == len(od) && &d[0] == &od[0]
	default:
		_, vf := v.data.(float64)
		_, of := other.data.(float64)
		return vf == of && v.Kind() == other.Kind() && v.Equal(other)
	}
}

func sameObject(a, b Object) bool {
	type identer interface{ Identity() any }
	ai, aok := a.(identer)
	bi, bok := b.(identer)
	if aok && bok {
		return ai.Identity() == bi.Identity()
	}
	return a == b
}

// Clone returns a value safe to mutate independently: containers get a
// shallow copy of their backing slice/map header, primitives (already
// immutable) return themselves.
func (v Value) Clone() Value {
	switch d := v.data.(type) {
	case []Value:
		return FromSlice(d)
	case *OrderedMap:
		return FromMap(d.Clone())
	default:
		return v
	}
}

// Raw returns the underlying Go representation, for host interop.
func (v Value) Raw() any { return v.data }

// sortedKeys returns a sorted copy of keys.
func sortedKeys(keys []string) []string {
	cp := append([]string(nil), keys...)
	sort.Strings(cp)
	return cp
}
