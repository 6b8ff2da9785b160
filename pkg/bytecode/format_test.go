package bytecode

import (
	"strings"
	"testing"

	"github.com/kristofer/mjcore/pkg/value"
)

func TestDisassembleBasic(t *testing.T) {
	ins := New("index.html")
	ins.AddWithLocation(Instruction{Op: OpEmitRaw, Const: value.FromString("hello ")}, 1)
	ins.AddWithLocation(Instruction{Op: OpLookup, Name: "name"}, 1)
	ins.AddWithLocation(Instruction{Op: OpEmit}, 1)

	out := Disassemble(ins)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), out)
	}
	if !strings.Contains(lines[0], "EMIT_RAW") || !strings.Contains(lines[0], "[line 1]") {
		t.Errorf("expected first line to show EMIT_RAW and line marker, got %q", lines[0])
	}
	// same line as previous instruction: no repeated [line N] marker.
	if strings.Contains(lines[1], "[line") {
		t.Errorf("expected no line marker on instruction sharing the previous line, got %q", lines[1])
	}
}

func TestGetLineCompression(t *testing.T) {
	ins := New("t")
	ins.AddWithLocation(Instruction{Op: OpNop}, 1)
	ins.AddWithLocation(Instruction{Op: OpNop}, 1)
	ins.AddWithLocation(Instruction{Op: OpNop}, 2)

	for i, want := range []int{1, 1, 2} {
		line, ok := ins.GetLine(i)
		if !ok || line != want {
			t.Errorf("instruction %d: expected line %d, got %d (ok=%v)", i, want, line, ok)
		}
	}
	// one Loc entry per distinct line, not per instruction.
	if len(ins.locations) != 2 {
		t.Errorf("expected 2 compressed location entries, got %d", len(ins.locations))
	}
}

func TestGetLineUnknownWhenNeverRecorded(t *testing.T) {
	ins := New("t")
	ins.Add(Instruction{Op: OpNop})
	if _, ok := ins.GetLine(0); ok {
		t.Errorf("expected GetLine to report unknown when no location was ever recorded")
	}
}

func TestJumpBackpatching(t *testing.T) {
	ins := New("t")
	jumpIdx := ins.Add(Instruction{Op: OpJumpIfFalse})
	ins.Add(Instruction{Op: OpEmitRaw})
	target := ins.Len()
	ins.GetMut(jumpIdx).Jump = target

	if ins.Get(jumpIdx).Jump != target {
		t.Errorf("expected backpatched jump target %d, got %d", target, ins.Get(jumpIdx).Jump)
	}
}
