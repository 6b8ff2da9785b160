package environment

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kristofer/mjcore/pkg/value"
)

// registerBuiltinFilters wires up the subset of Jinja2's standard
// filter library a template core ships by default.
func registerBuiltinFilters(env *Environment) {
	str := func(name string, f func(string) string) {
		env.AddFilter(name, func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
			return value.FromString(f(v.String())), nil
		})
	}
	str("upper", strings.ToUpper)
	str("lower", strings.ToLower)
	str("trim", strings.TrimSpace)
	str("capitalize", capitalize)
	str("title", strings.Title) //lint:ignore SA1019 matches Jinja2's word-by-word title-casing

	env.AddFilter("length", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		n, ok := v.Len()
		if !ok {
			return value.Undefined(), opError("length", v)
		}
		return value.FromInt(int64(n)), nil
	})
	env.AddFilter("count", env.filters["length"])

	env.AddFilter("default", func(_ value.CallState, v value.Value, args []value.Value) (value.Value, error) {
		fallback := value.FromString("")
		if len(args) > 0 {
			fallback = args[0]
		}
		boolean := len(args) > 1 && args[1].IsTrue()
		if v.IsUndefined() || (boolean && !v.IsTrue()) {
			return fallback, nil
		}
		return v, nil
	})
	env.AddFilter("d", env.filters["default"])

	env.AddFilter("join", func(_ value.CallState, v value.Value, args []value.Value) (value.Value, error) {
		sep := ""
		if len(args) > 0 {
			sep = args[0].String()
		}
		items, ok := v.Iter()
		if !ok {
			return value.Undefined(), opError("join", v)
		}
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = it.String()
		}
		return value.FromString(strings.Join(parts, sep)), nil
	})

	env.AddFilter("first", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		items, ok := v.Iter()
		if !ok || len(items) == 0 {
			return value.Undefined(), nil
		}
		return items[0], nil
	})
	env.AddFilter("last", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		items, ok := v.Iter()
		if !ok || len(items) == 0 {
			return value.Undefined(), nil
		}
		return items[len(items)-1], nil
	})
	env.AddFilter("reverse", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		return v.Reverse()
	})
	env.AddFilter("list", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		items, ok := v.Iter()
		if !ok {
			return value.Undefined(), opError("list", v)
		}
		return value.FromSlice(items), nil
	})
	env.AddFilter("sort", func(_ value.CallState, v value.Value, args []value.Value) (value.Value, error) {
		items, ok := v.Iter()
		if !ok {
			return value.Undefined(), opError("sort", v)
		}
		reverse := len(args) > 0 && args[0].IsTrue()
		out := append([]value.Value(nil), items...)
		sort.SliceStable(out, func(i, j int) bool {
			if reverse {
				return out[i].Compare(out[j]) > 0
			}
			return out[i].Compare(out[j]) < 0
		})
		return value.FromSlice(out), nil
	})
	env.AddFilter("unique", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		items, ok := v.Iter()
		if !ok {
			return value.Undefined(), opError("unique", v)
		}
		var out []value.Value
		for _, it := range items {
			seen := false
			for _, o := range out {
				if o.Equal(it) {
					seen = true
					break
				}
			}
			if !seen {
				out = append(out, it)
			}
		}
		return value.FromSlice(out), nil
	})

	env.AddFilter("replace", func(_ value.CallState, v value.Value, args []value.Value) (value.Value, error) {
		if len(args) < 2 {
			return value.Undefined(), opError("replace", v)
		}
		return value.FromString(strings.ReplaceAll(v.String(), args[0].String(), args[1].String())), nil
	})

	env.AddFilter("truncate", func(_ value.CallState, v value.Value, args []value.Value) (value.Value, error) {
		n := 255
		if len(args) > 0 {
			if i, ok := args[0].AsInt(); ok {
				n = int(i)
			}
		}
		s := v.String()
		if len(s) <= n {
			return value.FromString(s), nil
		}
		return value.FromString(s[:n] + "..."), nil
	})

	env.AddFilter("int", func(_ value.CallState, v value.Value, args []value.Value) (value.Value, error) {
		if i, ok := v.AsInt(); ok {
			return value.FromInt(i), nil
		}
		if len(args) > 0 {
			return args[0], nil
		}
		return value.FromInt(0), nil
	})
	env.AddFilter("float", func(_ value.CallState, v value.Value, args []value.Value) (value.Value, error) {
		if f, ok := v.AsFloat(); ok {
			return value.FromFloat(f), nil
		}
		if len(args) > 0 {
			return args[0], nil
		}
		return value.FromFloat(0), nil
	})
	env.AddFilter("string", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		return value.FromString(v.String()), nil
	})
	env.AddFilter("abs", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		if v.IsActualFloat() {
			f, _ := v.AsFloat()
			if f < 0 {
				f = -f
			}
			return value.FromFloat(f), nil
		}
		i, ok := v.AsInt()
		if !ok {
			return value.Undefined(), opError("abs", v)
		}
		if i < 0 {
			i = -i
		}
		return value.FromInt(i), nil
	})
	env.AddFilter("round", func(_ value.CallState, v value.Value, args []value.Value) (value.Value, error) {
		prec := 0
		if len(args) > 0 {
			if i, ok := args[0].AsInt(); ok {
				prec = int(i)
			}
		}
		f, ok := v.AsFloat()
		if !ok {
			return value.Undefined(), opError("round", v)
		}
		mult := 1.0
		for i := 0; i < prec; i++ {
			mult *= 10
		}
		rounded := float64(int64(f*mult+0.5)) / mult
		return value.FromFloat(rounded), nil
	})

	env.AddFilter("escape", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		return value.FromSafeString(htmlEscape(v.String())), nil
	})
	env.AddFilter("e", env.filters["escape"])
	env.AddFilter("safe", func(_ value.CallState, v value.Value, _ []value.Value) (value.Value, error) {
		return value.FromSafeString(v.String()), nil
	})
}

// registerBuiltinTests wires up the standard `is` tests.
func registerBuiltinTests(env *Environment) {
	env.AddTest("defined", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		return !v.IsUndefined(), nil
	})
	env.AddTest("undefined", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		return v.IsUndefined(), nil
	})
	env.AddTest("none", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		return v.IsNone(), nil
	})
	env.AddTest("string", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		return v.Kind() == value.KindString, nil
	})
	env.AddTest("number", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		return v.IsActualInt() || v.IsActualFloat(), nil
	})
	env.AddTest("mapping", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		return v.Kind() == value.KindMap, nil
	})
	env.AddTest("sequence", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		_, ok := v.Iter()
		return ok, nil
	})
	env.AddTest("iterable", env.tests["sequence"])
	env.AddTest("even", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		i, ok := v.AsInt()
		return ok && i%2 == 0, nil
	})
	env.AddTest("odd", func(_ value.CallState, v value.Value, _ []value.Value) (bool, error) {
		i, ok := v.AsInt()
		return ok && i%2 != 0, nil
	})
	env.AddTest("divisibleby", func(_ value.CallState, v value.Value, args []value.Value) (bool, error) {
		if len(args) == 0 {
			return false, opError("divisibleby", v)
		}
		i, ok1 := v.AsInt()
		d, ok2 := args[0].AsInt()
		return ok1 && ok2 && d != 0 && i%d == 0, nil
	})
	env.AddTest("equalto", func(_ value.CallState, v value.Value, args []value.Value) (bool, error) {
		return len(args) > 0 && v.Equal(args[0]), nil
	})
	env.AddTest("eq", env.tests["equalto"])
	env.AddTest("sameas", func(_ value.CallState, v value.Value, args []value.Value) (bool, error) {
		return len(args) > 0 && v.SameAs(args[0]), nil
	})
	env.AddTest("greaterthan", func(_ value.CallState, v value.Value, args []value.Value) (bool, error) {
		return len(args) > 0 && v.Compare(args[0]) > 0, nil
	})
	env.AddTest("lessthan", func(_ value.CallState, v value.Value, args []value.Value) (bool, error) {
		return len(args) > 0 && v.Compare(args[0]) < 0, nil
	})
	env.AddTest("in", func(_ value.CallState, v value.Value, args []value.Value) (bool, error) {
		if len(args) == 0 {
			return false, opError("in", v)
		}
		return v.In(args[0])
	})
}

// registerBuiltinGlobals wires up `range`, the only built-in global
// function whose absence would make most `{% for %}` examples in the
// spec's §8 scenarios unrenderable.
func registerBuiltinGlobals(env *Environment) {
	env.AddGlobalFunc("range", func(_ value.CallState, args []value.Value) (value.Value, error) {
		var start, stop, step int64 = 0, 0, 1
		switch len(args) {
		case 1:
			stop, _ = args[0].AsInt()
		case 2:
			start, _ = args[0].AsInt()
			stop, _ = args[1].AsInt()
		case 3:
			start, _ = args[0].AsInt()
			stop, _ = args[1].AsInt()
			step, _ = args[2].AsInt()
		default:
			return value.Undefined(), opError("range", value.Undefined())
		}
		if step == 0 {
			return value.Undefined(), opError("range", value.Undefined())
		}
		var out []value.Value
		if step > 0 {
			for i := start; i < stop; i += step {
				out = append(out, value.FromInt(i))
			}
		} else {
			for i := start; i > stop; i += step {
				out = append(out, value.FromInt(i))
			}
		}
		return value.FromSlice(out), nil
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func opError(filter string, v value.Value) error {
	return &filterError{filter: filter, kind: v.Kind().String()}
}

type filterError struct {
	filter string
	kind   string
}

func (e *filterError) Error() string {
	return "filter " + strconv.Quote(e.filter) + " cannot be applied to a value of kind " + e.kind
}

// htmlEscape mirrors vm.emitValue's escaping rules, exposed here as a
// filter so `{{ v|escape }}` works identically under
// `{% autoescape false %}`.
func htmlEscape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&#34;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
