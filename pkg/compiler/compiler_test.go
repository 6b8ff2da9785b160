package compiler

import (
	"testing"

	"github.com/kristofer/mjcore/pkg/bytecode"
	"github.com/kristofer/mjcore/pkg/parser"
)

func compileOK(t *testing.T, src string) *bytecode.Instructions {
	t.Helper()
	p := parser.New(src)
	tmpl, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ins, _, err := Compile(tmpl, "t")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return ins
}

func opAt(t *testing.T, ins *bytecode.Instructions, idx int) bytecode.Opcode {
	t.Helper()
	if idx < 0 || idx >= ins.Len() {
		t.Fatalf("instruction index %d out of range (len=%d)", idx, ins.Len())
	}
	return ins.Get(idx).Op
}

func TestCompileEmitRawAndExpr(t *testing.T) {
	ins := compileOK(t, "hello {{ name }}")
	if opAt(t, ins, 0) != bytecode.OpPushContext {
		t.Fatalf("expected first instruction PushContext, got %v", ins.Get(0).Op)
	}
	if opAt(t, ins, 1) != bytecode.OpEmitRaw {
		t.Errorf("expected EmitRaw, got %v", ins.Get(1).Op)
	}
	if got := ins.Get(1).Const.String(); got != "hello " {
		t.Errorf("expected emitted raw text %q, got %q", "hello ", got)
	}
	if opAt(t, ins, 2) != bytecode.OpLookup || ins.Get(2).Name != "name" {
		t.Errorf("expected Lookup name, got %+v", ins.Get(2))
	}
	if opAt(t, ins, 3) != bytecode.OpEmit {
		t.Errorf("expected Emit, got %v", ins.Get(3).Op)
	}
}

func TestCompileIfElseBackpatchesBothJumps(t *testing.T) {
	ins := compileOK(t, "{% if a %}x{% else %}y{% endif %}")

	var jumpIfFalseIdx, jumpIdx = -1, -1
	for i, instr := range ins.All() {
		switch instr.Op {
		case bytecode.OpJumpIfFalse:
			jumpIfFalseIdx = i
		case bytecode.OpJump:
			jumpIdx = i
		}
	}
	if jumpIfFalseIdx == -1 || jumpIdx == -1 {
		t.Fatalf("expected both JumpIfFalse and Jump in stream: %s", bytecode.Disassemble(ins))
	}

	jumpIfFalseTarget := ins.Get(jumpIfFalseIdx).Jump
	jumpTarget := ins.Get(jumpIdx).Jump

	if jumpIfFalseTarget != jumpIdx+1 {
		t.Errorf("expected JumpIfFalse to land just after the else-skip Jump (%d), got %d", jumpIdx+1, jumpIfFalseTarget)
	}
	if jumpTarget != ins.Len() {
		t.Errorf("expected Jump to land at end of stream (%d), got %d", ins.Len(), jumpTarget)
	}
}

func TestCompileIfWithoutElsePatchesToEnd(t *testing.T) {
	ins := compileOK(t, "{% if a %}x{% endif %}tail")

	var jumpIfFalseIdx = -1
	for i, instr := range ins.All() {
		if instr.Op == bytecode.OpJumpIfFalse {
			jumpIfFalseIdx = i
		}
	}
	if jumpIfFalseIdx == -1 {
		t.Fatalf("expected a JumpIfFalse instruction: %s", bytecode.Disassemble(ins))
	}
	target := ins.Get(jumpIfFalseIdx).Jump
	// the instruction at target should be the EmitRaw for "tail"
	tail := ins.Get(target)
	if tail.Op != bytecode.OpEmitRaw || tail.Const.String() != "tail" {
		t.Errorf("expected JumpIfFalse to land on EmitRaw(tail), got %+v", tail)
	}
}

func TestCompileForLoopEmitsPushLoopIterateAndPopFrame(t *testing.T) {
	ins := compileOK(t, "{% for x in items %}{{ x }}{% endfor %}")

	var pushLoopIdx, iterateIdx, popFrameIdx = -1, -1, -1
	for i, instr := range ins.All() {
		switch instr.Op {
		case bytecode.OpPushLoop:
			pushLoopIdx = i
		case bytecode.OpIterate:
			iterateIdx = i
		case bytecode.OpPopFrame:
			popFrameIdx = i
		}
	}
	if pushLoopIdx == -1 || iterateIdx == -1 || popFrameIdx == -1 {
		t.Fatalf("expected PushLoop/Iterate/PopFrame in stream: %s", bytecode.Disassemble(ins))
	}
	if pushLoopIdx != iterateIdx-1 {
		t.Errorf("expected Iterate immediately after PushLoop")
	}
	if ins.Get(pushLoopIdx).Flags&bytecode.LoopWithLoopVar == 0 {
		t.Errorf("expected LoopWithLoopVar flag set")
	}
	// Iterate's exit target should be the PopFrame that follows the
	// backward Jump closing the loop body.
	exitTarget := ins.Get(iterateIdx).Jump
	if exitTarget != popFrameIdx {
		t.Errorf("expected Iterate exit target %d (PopFrame), got %d", popFrameIdx, exitTarget)
	}
	// the instruction just before PopFrame should be the backward Jump
	// to Iterate.
	backJump := ins.Get(popFrameIdx - 1)
	if backJump.Op != bytecode.OpJump || backJump.Jump != iterateIdx {
		t.Errorf("expected backward Jump to Iterate (%d), got %+v", iterateIdx, backJump)
	}
}

func TestCompileForLoopWithFilterSkipsBackToIterate(t *testing.T) {
	ins := compileOK(t, "{% for x in items if x %}{{ x }}{% endfor %}")

	var iterateIdx = -1
	var filterJumps []int
	for i, instr := range ins.All() {
		if instr.Op == bytecode.OpIterate {
			iterateIdx = i
		}
		if instr.Op == bytecode.OpJumpIfFalse && i > iterateIdx && iterateIdx != -1 {
			filterJumps = append(filterJumps, i)
		}
	}
	if iterateIdx == -1 {
		t.Fatalf("expected an Iterate instruction: %s", bytecode.Disassemble(ins))
	}
	if len(filterJumps) != 1 {
		t.Fatalf("expected exactly one loop-filter JumpIfFalse, got %d", len(filterJumps))
	}
	if ins.Get(filterJumps[0]).Jump != iterateIdx {
		t.Errorf("expected loop-filter JumpIfFalse to jump back to Iterate (%d), got %d", iterateIdx, ins.Get(filterJumps[0]).Jump)
	}
}

func TestCompileShortCircuitAndPatchesToSharedEnd(t *testing.T) {
	ins := compileOK(t, "{{ a and b }}")

	var jifopIdx = -1
	for i, instr := range ins.All() {
		if instr.Op == bytecode.OpJumpIfFalseOrPop {
			jifopIdx = i
		}
	}
	if jifopIdx == -1 {
		t.Fatalf("expected JumpIfFalseOrPop for `and`: %s", bytecode.Disassemble(ins))
	}
	if ins.Get(jifopIdx).Jump != ins.Len()-1 {
		t.Errorf("expected short-circuit jump to land at end of expression compilation (%d), got %d", ins.Len()-1, ins.Get(jifopIdx).Jump)
	}
}

func TestCompileShortCircuitOr(t *testing.T) {
	ins := compileOK(t, "{{ a or b }}")

	found := false
	for _, instr := range ins.All() {
		if instr.Op == bytecode.OpJumpIfTrueOrPop {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected JumpIfTrueOrPop for `or`: %s", bytecode.Disassemble(ins))
	}
}

func TestCompileBlockProducesBlockMapEntryAndCallBlock(t *testing.T) {
	p := parser.New("{% block content %}hi{% endblock %}")
	tmpl, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ins, blocks, err := Compile(tmpl, "t")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	if _, ok := blocks["content"]; !ok {
		t.Fatalf("expected block map entry for %q", "content")
	}
	found := false
	for _, instr := range ins.All() {
		if instr.Op == bytecode.OpCallBlock && instr.Name == "content" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected CallBlock content in outer stream")
	}
}

func TestCompileTernaryIfExprWithoutElseLoadsUndefined(t *testing.T) {
	ins := compileOK(t, "{{ a if cond }}")
	found := false
	for _, instr := range ins.All() {
		if instr.Op == bytecode.OpLoadConst && instr.Const.IsUndefined() {
			found = true
		}
	}
	if !found {
		t.Errorf("expected LoadConst Undefined for omitted else branch")
	}
}

func TestCompileFastSuperAndFastRecurse(t *testing.T) {
	ins := compileOK(t, "{{ super() }}{{ loop(items) }}")
	var sawSuper, sawRecurse bool
	for _, instr := range ins.All() {
		if instr.Op == bytecode.OpFastSuper {
			sawSuper = true
		}
		if instr.Op == bytecode.OpFastRecurse {
			sawRecurse = true
		}
	}
	if !sawSuper {
		t.Errorf("expected FastSuper for super()")
	}
	if !sawRecurse {
		t.Errorf("expected FastRecurse for loop(items)")
	}
}
