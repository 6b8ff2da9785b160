package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders an Instructions stream as human-readable text,
// one instruction per line, in the same shape as
// original_source/minijinja/src/instructions.rs's custom Debug impl:
// a five-digit hex index, the instruction, and the source line only
// when it changes from the previous instruction.
//
//	00000 | EMIT_RAW "hello "  [line 1]
//	00001 | LOOKUP name
//	00002 | EMIT
func Disassemble(ins *Instructions) string {
	var b strings.Builder
	lastLine := -1
	for idx, instr := range ins.All() {
		fmt.Fprintf(&b, "%05x | %s", idx, formatInstruction(instr))
		if line, ok := ins.GetLine(idx); ok && line != lastLine {
			fmt.Fprintf(&b, "  [line %d]", line)
			lastLine = line
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatInstruction(instr Instruction) string {
	switch instr.Op {
	case OpEmitRaw:
		return fmt.Sprintf("%s %q", instr.Op, instr.Const.String())
	case OpLoadConst:
		return fmt.Sprintf("%s %s", instr.Op, instr.Const.Repr())
	case OpLookup, OpStoreLocal, OpGetAttr, OpCallBlock, OpLoadBlocks:
		return fmt.Sprintf("%s %s", instr.Op, instr.Name)
	case OpApplyFilter, OpPerformTest:
		return fmt.Sprintf("%s %s argc=%d", instr.Op, instr.Name, instr.Count)
	case OpCallFunction, OpCallMethod:
		return fmt.Sprintf("%s %s argc=%d", instr.Op, instr.Name, instr.Count)
	case OpCallObject:
		return fmt.Sprintf("%s argc=%d", instr.Op, instr.Count)
	case OpBuildMap, OpBuildList, OpUnpackList:
		return fmt.Sprintf("%s %d", instr.Op, instr.Count)
	case OpJump, OpJumpIfFalse, OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
		return fmt.Sprintf("%s -> %05x", instr.Op, instr.Jump)
	case OpIterate:
		return fmt.Sprintf("%s exit=%05x", instr.Op, instr.Jump)
	case OpPushLoop:
		return fmt.Sprintf("%s flags=%d", instr.Op, instr.Flags)
	case OpInclude:
		return fmt.Sprintf("%s ignore_missing=%v", instr.Op, instr.Bool)
	default:
		return instr.Op.String()
	}
}
