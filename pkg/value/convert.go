package value

import (
	"os"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// FromJSON implements the ValueBuilder external interface
// for JSON documents, walking a gjson.Result directly into Value
// without a decode-to-interface{}-then-convert round trip.
func FromJSON(data []byte) (Value, error) {
	if !gjson.ValidBytes(data) {
		return Value{}, errors.New("invalid JSON document")
	}
	return fromGJSON(gjson.ParseBytes(data)), nil
}

func fromGJSON(r gjson.Result) Value {
	switch r.Type {
	case gjson.Null:
		return None()
	case gjson.False:
		return False()
	case gjson.True:
		return True()
	case gjson.Number:
		if r.Num == float64(int64(r.Num)) {
			return FromInt(int64(r.Num))
		}
		return FromFloat(r.Num)
	case gjson.String:
		return FromString(r.String())
	case gjson.JSON:
		if r.IsArray() {
			var items []Value
			r.ForEach(func(_, v gjson.Result) bool {
				items = append(items, fromGJSON(v))
				return true
			})
			return FromSlice(items)
		}
		m := NewOrderedMap()
		r.ForEach(func(k, v gjson.Result) bool {
			m.Set(FromString(k.String()), fromGJSON(v))
			return true
		})
		return FromMap(m)
	default:
		return Undefined()
	}
}

// FromYAMLFile implements a second ValueBuilder, reading a YAML
// document from disk and converting it through yaml.v3's generic
// decode target, used by the CLI's `render` command.
func FromYAMLFile(path string) (Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Value{}, errors.Wrap(err, "reading YAML context file")
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Value{}, errors.Wrap(err, "parsing YAML context file")
	}
	return FromAny(raw), nil
}

// FromAny is a reflection-free best-effort ValueBuilder over the
// dynamically typed results of generic YAML/JSON decoding
// (map[string]any, []any, and scalar types).
func FromAny(x any) Value {
	switch d := x.(type) {
	case nil:
		return None()
	case Value:
		return d
	case bool:
		return FromBool(d)
	case int:
		return FromInt(int64(d))
	case int64:
		return FromInt(d)
	case float64:
		if d == float64(int64(d)) {
			return FromInt(int64(d))
		}
		return FromFloat(d)
	case string:
		return FromString(d)
	case []byte:
		return FromBytes(d)
	case []any:
		items := make([]Value, len(d))
		for i, item := range d {
			items[i] = FromAny(item)
		}
		return FromSlice(items)
	case map[string]any:
		m := NewOrderedMap()
		for k, v := range d {
			m.Set(FromString(k), FromAny(v))
		}
		return FromMap(m)
	case map[any]any:
		m := NewOrderedMap()
		for k, v := range d {
			m.Set(FromAny(k), FromAny(v))
		}
		return FromMap(m)
	default:
		return Undefined()
	}
}
