package vm

import (
	"github.com/pkg/errors"

	"github.com/kristofer/mjcore/pkg/bytecode"
	"github.com/kristofer/mjcore/pkg/value"
)

// loopState backs the `loop` variable exposed inside `{% for %}` body,
// exposing the index/first/last/length fields and the cycle()/
// changed() helpers.
type loopState struct {
	items []value.Value
	idx   int // -1 before the first advance()
	flags bytecode.LoopFlags
	depth int

	lastChanged []value.Value
}

func newLoopState(items []value.Value, flags bytecode.LoopFlags) *loopState {
	return &loopState{items: items, idx: -1, flags: flags}
}

// advance moves to the next item, returning (item, true), or
// (Undefined, false) once exhausted.
func (l *loopState) advance() (value.Value, bool) {
	l.idx++
	if l.idx >= len(l.items) {
		return value.Undefined(), false
	}
	return l.items[l.idx], true
}

func (l *loopState) Repr() value.Repr { return value.ReprPlain }

func (l *loopState) Enumerate() value.Enumerator { return value.NonEnumerable() }

func (l *loopState) GetValue(key value.Value) (value.Value, bool) {
	switch key.String() {
	case "index0":
		return value.FromInt(int64(l.idx)), true
	case "index":
		return value.FromInt(int64(l.idx + 1)), true
	case "revindex0":
		return value.FromInt(int64(len(l.items) - 1 - l.idx)), true
	case "revindex":
		return value.FromInt(int64(len(l.items) - l.idx)), true
	case "length":
		return value.FromInt(int64(len(l.items))), true
	case "first":
		return value.FromBool(l.idx == 0), true
	case "last":
		return value.FromBool(l.idx == len(l.items)-1), true
	case "depth0":
		return value.FromInt(int64(l.depth)), true
	case "depth":
		return value.FromInt(int64(l.depth + 1)), true
	default:
		return value.Undefined(), false
	}
}

// CallMethod implements `loop.cycle(...)` and `loop.changed(...)`.
func (l *loopState) CallMethod(state value.CallState, name string, args []value.Value) (value.Value, error) {
	switch name {
	case "cycle":
		if len(args) == 0 {
			return value.Undefined(), errors.New("loop.cycle() requires at least one argument")
		}
		return args[l.idx%len(args)], nil
	case "changed":
		changed := len(l.lastChanged) != len(args)
		if !changed {
			for i, a := range args {
				if !a.Equal(l.lastChanged[i]) {
					changed = true
					break
				}
			}
		}
		l.lastChanged = append([]value.Value(nil), args...)
		return value.FromBool(changed), nil
	default:
		return value.Undefined(), errors.Errorf("loop has no method %q", name)
	}
}
