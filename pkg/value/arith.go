package value

import (
	"fmt"
	"math"
	"math/big"

	"github.com/pkg/errors"
)

// OpError is returned for InvalidOperation failures inside the value
// package; the vm package wraps it into the engine's closed Error kind
// set.
type OpError struct {
	Op      string
	Message string
}

func (e *OpError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Message) }

func opErr(op, msg string, args ...any) error {
	return errors.WithStack(&OpError{Op: op, Message: fmt.Sprintf(msg, args...)})
}

// numRank ranks numeric promotion: higher ranks subsume lower ones.
type numRank int

const (
	rankInt numRank = iota
	rankUint
	rankWide
	rankFloat
)

func rankOf(v Value) (numRank, bool) {
	switch v.data.(type) {
	case int64:
		return rankInt, true
	case uint64:
		return rankUint, true
	case wideInt:
		return rankWide, true
	case float64:
		return rankFloat, true
	default:
		return 0, false
	}
}

func toBig(v Value) *big.Int {
	switch d := v.data.(type) {
	case int64:
		return big.NewInt(d)
	case uint64:
		return new(big.Int).SetUint64(d)
	case wideInt:
		return new(big.Int).Set(&d.v)
	default:
		return big.NewInt(0)
	}
}

func toFloat(v Value) (float64, bool) {
	switch d := v.data.(type) {
	case int64:
		return float64(d), true
	case uint64:
		return float64(d), true
	case wideInt:
		f := new(big.Float).SetInt(&d.v)
		r, _ := f.Float64()
		return r, true
	case float64:
		return d, true
	default:
		return 0, false
	}
}

// promote picks the common representation to compute a binary numeric
// op in: int < uint < wide int < float. Non-numeric operands (bools
// included) report ok=false.
func promote(a, b Value) (ra, rb numRank, ok bool) {
	ra, aok := rankOf(a)
	rb, bok := rankOf(b)
	if !aok || !bok {
		return 0, 0, false
	}
	if ra > rb {
		return ra, ra, true
	}
	return rb, rb, true
}

func fromBigSigned(i *big.Int) Value {
	if i.IsInt64() {
		return FromInt(i.Int64())
	}
	return FromWideInt(i)
}

// Add implements numeric `+` (strings use
// StringConcat explicitly in the instruction set; Add is numeric-only).
func (v Value) Add(other Value) (Value, error) {
	return numericOp("+", v, other,
		func(a, b int64) (Value, bool) {
			r := a + b
			if (r > a) == (b > 0) {
				return FromInt(r), true
			}
			return Value{}, false
		},
		func(a, b float64) Value { return FromFloat(a + b) },
		func(a, b *big.Int) Value { return fromBigSigned(new(big.Int).Add(a, b)) },
	)
}

// Sub implements `-`.
func (v Value) Sub(other Value) (Value, error) {
	return numericOp("-", v, other,
		func(a, b int64) (Value, bool) {
			r := a - b
			if (r < a) == (b > 0) {
				return FromInt(r), true
			}
			return Value{}, false
		},
		func(a, b float64) Value { return FromFloat(a - b) },
		func(a, b *big.Int) Value { return fromBigSigned(new(big.Int).Sub(a, b)) },
	)
}

// Mul implements `*`.
func (v Value) Mul(other Value) (Value, error) {
	return numericOp("*", v, other,
		func(a, b int64) (Value, bool) {
			if a == 0 || b == 0 {
				return FromInt(0), true
			}
			r := a * b
			if r/b != a {
				return Value{}, false
			}
			return FromInt(r), true
		},
		func(a, b float64) Value { return FromFloat(a * b) },
		func(a, b *big.Int) Value { return fromBigSigned(new(big.Int).Mul(a, b)) },
	)
}

// Div implements `/`, true division: integer operands produce a float
// result the way Jinja2's `/` always does.
func (v Value) Div(other Value) (Value, error) {
	af, aok := toFloat(v)
	bf, bok := toFloat(other)
	if !aok || !bok {
		return Value{}, opErr("div", "unsupported operand kinds %s and %s", v.Kind(), other.Kind())
	}
	if bf == 0 {
		if _, fok := v.data.(float64); fok {
			return FromFloat(af / bf), nil
		}
		if _, fok := other.data.(float64); fok {
			return FromFloat(af / bf), nil
		}
		return Value{}, opErr("div", "division by zero")
	}
	return FromFloat(af / bf), nil
}

// IntDiv implements `//`, floor division.
func (v Value) IntDiv(other Value) (Value, error) {
	if _, aFloat := v.data.(float64); aFloat {
		af, _ := toFloat(v)
		bf, _ := toFloat(other)
		return FromFloat(math.Floor(af / bf)), nil
	}
	if _, bFloat := other.data.(float64); bFloat {
		af, _ := toFloat(v)
		bf, _ := toFloat(other)
		return FromFloat(math.Floor(af / bf)), nil
	}
	a, aok := rankOf(v)
	b, bok := rankOf(other)
	if !aok || !bok {
		return Value{}, opErr("floordiv", "unsupported operand kinds %s and %s", v.Kind(), other.Kind())
	}
	_ = a
	_ = b
	bi := toBig(other)
	if bi.Sign() == 0 {
		return Value{}, opErr("floordiv", "integer division by zero")
	}
	ai := toBig(v)
	q, m := new(big.Int), new(big.Int)
	q.DivMod(ai, bi, m)
	return fromBigSigned(q), nil
}

// Rem implements `%`.
func (v Value) Rem(other Value) (Value, error) {
	if af, aok := v.data.(float64); aok {
		bf, _ := toFloat(other)
		return FromFloat(math.Mod(af, bf)), nil
	}
	if _, bok := other.data.(float64); bok {
		af, _ := toFloat(v)
		bf, _ := toFloat(other)
		return FromFloat(math.Mod(af, bf)), nil
	}
	bi := toBig(other)
	if bi.Sign() == 0 {
		return Value{}, opErr("mod", "integer modulo by zero")
	}
	ai := toBig(v)
	q, m := new(big.Int), new(big.Int)
	q.DivMod(ai, bi, m)
	return fromBigSigned(m), nil
}

// Pow implements `**`.
func (v Value) Pow(other Value) (Value, error) {
	af, aok := toFloat(v)
	bf, bok := toFloat(other)
	if !aok || !bok {
		return Value{}, opErr("pow", "unsupported operand kinds %s and %s", v.Kind(), other.Kind())
	}
	_, aFloat := v.data.(float64)
	_, bFloat := other.data.(float64)
	if !aFloat && !bFloat && bf >= 0 {
		result := new(big.Int).Exp(toBig(v), toBig(other), nil)
		return fromBigSigned(result), nil
	}
	return FromFloat(math.Pow(af, bf)), nil
}

// Neg implements unary `-`.
func (v Value) Neg() (Value, error) {
	switch d := v.data.(type) {
	case int64:
		return FromInt(-d), nil
	case uint64:
		return fromBigSigned(new(big.Int).Neg(new(big.Int).SetUint64(d))), nil
	case wideInt:
		return fromBigSigned(new(big.Int).Neg(&d.v)), nil
	case float64:
		return FromFloat(-d), nil
	default:
		return Value{}, opErr("neg", "unsupported operand kind %s", v.Kind())
	}
}

// StringConcat implements `~`, the string concatenation operator: both
// operands are stringified regardless of kind.
func (v Value) StringConcat(other Value) Value {
	return FromString(v.String() + other.String())
}

func numericOp(op string, a, b Value,
	intOp func(a, b int64) (Value, bool),
	floatOp func(a, b float64) Value,
	bigOp func(a, b *big.Int) Value,
) (Value, error) {
	ra, okA := rankOf(a)
	rb, okB := rankOf(b)
	if !okA || !okB {
		return Value{}, opErr(op, "unsupported operand kinds %s and %s", a.Kind(), b.Kind())
	}
	top := ra
	if rb > top {
		top = rb
	}
	if top == rankFloat {
		af, _ := toFloat(a)
		bf, _ := toFloat(b)
		return floatOp(af, bf), nil
	}
	if top == rankInt {
		ai := a.data.(int64)
		bi := b.data.(int64)
		if v, ok := intOp(ai, bi); ok {
			return v, nil
		}
	}
	return bigOp(toBig(a), toBig(b)), nil
}

// Equal implements value equality: numbers compare by coerced value, a
// string and a number are never equal, maps compare order-independent,
// sequences compare lexicographically.
func (v Value) Equal(other Value) bool {
	if v.Kind() == KindNumber && other.Kind() == KindNumber {
		if af, aok := v.data.(float64); aok {
			bf, _ := toFloat(other)
			return af == bf
		}
		if bf, bok := other.data.(float64); bok {
			af, _ := toFloat(v)
			return af == bf
		}
		return toBig(v).Cmp(toBig(other)) == 0
	}
	if v.Kind() != other.Kind() {
		return false
	}
	switch v.Kind() {
	case KindUndefined, KindNone:
		return true
	case KindBool:
		return v.data.(bool) == other.data.(bool)
	case KindString:
		return v.String() == other.String()
	case KindBytes:
		a, b := v.data.([]byte), other.data.([]byte)
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	case KindSeq:
		a, aok := v.data.([]Value)
		b, bok := other.data.([]Value)
		if !aok || !bok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case KindMap:
		am, aok := v.data.(*OrderedMap)
		bm, bok := other.data.(*OrderedMap)
		if aok && bok {
			return am.Equal(bm)
		}
		return v.mapEqualFallback(other)
	default:
		if oa, ok := v.data.(Object); ok {
			if ob, ok2 := other.data.(Object); ok2 {
				return sameObject(oa, ob)
			}
		}
		return false
	}
}

// mapEqualFallback handles Object-backed maps with unknown length by
// falling back to a count-by-iteration comparison; a best-effort
// contract since an Object isn't required to expose its size upfront.
func (v Value) mapEqualFallback(other Value) bool {
	av, aok := v.data.(Object)
	bv, bok := other.data.(Object)
	if !aok || !bok {
		return false
	}
	aItems := enumeratorMaterialize(av, av.Enumerate())
	bItems := enumeratorMaterialize(bv, bv.Enumerate())
	if len(aItems) != len(bItems) {
		return false
	}
	for _, k := range aItems {
		av, _ := av.GetValue(k)
		bval, ok := bv.GetValue(k)
		if !ok || !av.Equal(bval) {
			return false
		}
	}
	return true
}

// Compare implements total ordering: same-kind values compare
// naturally; cross-kind comparison orders by kind tag, then by
// coerced numeric value when applicable.
func (v Value) Compare(other Value) int {
	if v.Kind() == KindNumber && other.Kind() == KindNumber {
		if af, aok := v.data.(float64); aok {
			bf, _ := toFloat(other)
			return cmpFloat(af, bf)
		}
		if bf, bok := other.data.(float64); bok {
			af, _ := toFloat(v)
			return cmpFloat(af, bf)
		}
		return toBig(v).Cmp(toBig(other))
	}
	if oa, ok := v.data.(Object); ok {
		if cc, ok2 := oa.(CustomComparable); ok2 {
			if c, ok3 := cc.CompareTo(other); ok3 {
				return c
			}
		}
	}
	if v.Kind() != other.Kind() {
		return int(v.Kind()) - int(other.Kind())
	}
	switch v.Kind() {
	case KindBool:
		a, b := v.data.(bool), other.data.(bool)
		if a == b {
			return 0
		}
		if !a {
			return -1
		}
		return 1
	case KindString:
		return compareStrings(v.String(), other.String())
	case KindSeq:
		a, _ := v.data.([]Value)
		b, _ := other.data.([]Value)
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		for i := 0; i < n; i++ {
			if c := a[i].Compare(b[i]); c != 0 {
				return c
			}
		}
		return len(a) - len(b)
	default:
		return 0
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsActualInt distinguishes `42` from `42.0`.
func (v Value) IsActualInt() bool {
	switch v.data.(type) {
	case int64, uint64, wideInt:
		return true
	default:
		return false
	}
}

// IsActualFloat distinguishes `42.0` from `42`.
func (v Value) IsActualFloat() bool {
	_, ok := v.data.(float64)
	return ok
}

// AsInt truncates a numeric value to a machine int64.
func (v Value) AsInt() (int64, bool) {
	switch d := v.data.(type) {
	case int64:
		return d, true
	case uint64:
		return int64(d), true
	case wideInt:
		if d.v.IsInt64() {
			return d.v.Int64(), true
		}
		return 0, false
	case float64:
		return int64(d), true
	default:
		return 0, false
	}
}

// AsFloat converts a numeric value to float64.
func (v Value) AsFloat() (float64, bool) { return toFloat(v) }
