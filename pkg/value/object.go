package value

// Repr is the representation tag an Object declares, determining how
// the engine treats it.
type Repr int

const (
	ReprPlain Repr = iota
	ReprMap
	ReprSeq
	ReprIterable
)

// Object is the sole polymorphism vector in the value model. Hosts implement it to expose custom types to
// templates without the engine needing a closed enum of kinds.
type Object interface {
	// Repr reports how the engine should treat this object.
	Repr() Repr
	// GetValue looks up a member by key, returning (value, true) on a
	// hit. Absent keys return (Undefined(), false).
	GetValue(key Value) (Value, bool)
	// Enumerate declares how the object participates in iteration,
	// length and reversal.
	Enumerate() Enumerator
}

// Callable is an optional Object capability: the object (or the value
// wrapping it) may be invoked directly, as in `{{ obj(args) }}`.
type Callable interface {
	Call(state CallState, args []Value) (Value, error)
}

// MethodCallable is an optional capability for `{{ obj.method(args) }}`.
type MethodCallable interface {
	CallMethod(state CallState, name string, args []Value) (Value, error)
}

// CustomComparable lets an Object define its own ordering instead of
// falling back to the default kind/identity-based order.
type CustomComparable interface {
	CompareTo(other Value) (int, bool)
}

// CallState is the minimal state a Callable needs; the vm package
// passes its callState type, which implements it.
type CallState interface {
	CurrentTemplateName() string
}

// Enumerator is the protocol by which a Map/Seq/Iterable object
// declares its members for iteration, length and reversal.
type Enumerator interface {
	enumerator()
}

type enumNonEnumerable struct{}
type enumEmpty struct{}
type enumSeq struct{ n int }
type enumStr struct{ keys []string }
type enumValues struct{ items []Value }
type enumIter struct{ next func() (Value, bool) }
type enumRevIter struct {
	next func() (Value, bool)
	rev  func() []Value
}

func (enumNonEnumerable) enumerator() {}
func (enumEmpty) enumerator()         {}
func (enumSeq) enumerator()           {}
func (enumStr) enumerator()           {}
func (enumValues) enumerator()        {}
func (enumIter) enumerator()          {}
func (enumRevIter) enumerator()       {}

// NonEnumerable declares an object that does not support iteration.
func NonEnumerable() Enumerator { return enumNonEnumerable{} }

// EmptyEnum declares an empty, zero-length, reversible sequence.
func EmptyEnum() Enumerator { return enumEmpty{} }

// SeqEnum declares an indexable 0..n object (via GetValue(int index)).
func SeqEnum(n int) Enumerator { return enumSeq{n: n} }

// StrEnum declares an object with a fixed, known set of string keys.
func StrEnum(keys []string) Enumerator { return enumStr{keys: keys} }

// ValuesEnum declares an object backed by a materialized key list.
func ValuesEnum(items []Value) Enumerator { return enumValues{items: items} }

// IterEnum declares a lazy, one-directional iterator.
func IterEnum(next func() (Value, bool)) Enumerator {
	return enumIter{next: next}
}

// RevIterEnum declares a lazy iterator that also knows how to produce
// its members in reverse order.
func RevIterEnum(next func() (Value, bool), rev func() []Value) Enumerator {
	return enumRevIter{next: next, rev: rev}
}

// enumeratorLen reports the length of an Enumerator, when known.
func enumeratorLen(e Enumerator) (int, bool) {
	switch t := e.(type) {
	case enumNonEnumerable:
		return 0, false
	case enumEmpty:
		return 0, true
	case enumSeq:
		return t.n, true
	case enumStr:
		return len(t.keys), true
	case enumValues:
		return len(t.items), true
	case enumIter:
		return 0, false
	case enumRevIter:
		return 0, false
	default:
		return 0, false
	}
}

// enumeratorReversible reports whether an Enumerator can produce its
// values in reverse without re-deriving from scratch.
func enumeratorReversible(e Enumerator) bool {
	switch e.(type) {
	case enumEmpty, enumSeq, enumStr, enumValues, enumRevIter:
		return true
	default:
		return false
	}
}

// enumeratorMaterialize drains an Enumerator into a slice of Values,
// used for iteration, length fallback and reversal.
func enumeratorMaterialize(o Object, e Enumerator) []Value {
	switch t := e.(type) {
	case enumEmpty, enumNonEnumerable:
		return nil
	case enumSeq:
		out := make([]Value, 0, t.n)
		for i := 0; i < t.n; i++ {
			if val, ok := o.GetValue(FromInt(int64(i))); ok {
				out = append(out, val)
			} else {
				out = append(out, Undefined())
			}
		}
		return out
	case enumStr:
		out := make([]Value, len(t.keys))
		for i, k := range t.keys {
			out[i] = FromString(k)
		}
		return out
	case enumValues:
		return append([]Value(nil), t.items...)
	case enumIter:
		var out []Value
		for {
			v, ok := t.next()
			if !ok {
				break
			}
			out = append(out, v)
		}
		return out
	case enumRevIter:
		var out []Value
		for {
			v, ok := t.next()
			if !ok {
				break
			}
			out = append(out, v)
		}
		return out
	default:
		return nil
	}
}
