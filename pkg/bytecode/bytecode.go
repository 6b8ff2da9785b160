// Package bytecode defines the bytecode format and opcode set for the
// template virtual machine.
//
// The bytecode is the low-level intermediate representation the VM
// executes: a flat sequence of Instructions, each carrying its constant
// operand inline (Instruction.Const), produced by the compiler from a
// parsed template. Unlike a
// byte-oriented opcode+operand encoding, Instruction here is a Go
// struct carrying whichever typed fields its Op needs (Name, Const,
// Count, Jump, Flags) — there is no packed-operand bit twiddling.
//
// Instructions also carry a compressed line-number map
// (Instructions.locations), so the VM can report the source line an
// opcode originated from without storing a line number per
// instruction; see Instructions.AddWithLocation/GetLine.
package bytecode

import (
	"sort"

	"github.com/kristofer/mjcore/pkg/value"
)

// Opcode identifies what an Instruction does.
type Opcode int

const (
	OpEmitRaw Opcode = iota
	OpEmit
	OpLoadConst
	OpLookup
	OpStoreLocal
	OpGetAttr
	OpGetItem
	OpDupTop
	OpDiscardTop
	OpBuildMap
	OpBuildList
	OpUnpackList
	OpListAppend

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpIntDiv
	OpRem
	OpPow
	OpNeg
	OpNot
	OpStringConcat
	OpIn
	OpEq
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte

	OpJump
	OpJumpIfFalse
	OpJumpIfFalseOrPop
	OpJumpIfTrueOrPop

	OpPushLoop
	OpIterate
	OpPopFrame
	OpPushContext

	OpCallBlock
	OpLoadBlocks
	OpInclude

	OpPushAutoEscape
	OpPopAutoEscape

	OpBeginCapture
	OpEndCapture

	OpApplyFilter
	OpPerformTest
	OpCallFunction
	OpCallMethod
	OpCallObject
	OpLen

	OpFastSuper
	OpFastRecurse

	OpNop
)

var opcodeNames = map[Opcode]string{
	OpEmitRaw: "EMIT_RAW", OpEmit: "EMIT", OpLoadConst: "LOAD_CONST",
	OpLookup: "LOOKUP", OpStoreLocal: "STORE_LOCAL", OpGetAttr: "GET_ATTR",
	OpGetItem: "GET_ITEM", OpDupTop: "DUP_TOP", OpDiscardTop: "DISCARD_TOP",
	OpBuildMap: "BUILD_MAP", OpBuildList: "BUILD_LIST", OpUnpackList: "UNPACK_LIST",
	OpListAppend: "LIST_APPEND",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpIntDiv: "INT_DIV",
	OpRem: "REM", OpPow: "POW", OpNeg: "NEG", OpNot: "NOT",
	OpStringConcat: "STRING_CONCAT", OpIn: "IN", OpEq: "EQ", OpNe: "NE",
	OpGt: "GT", OpGte: "GTE", OpLt: "LT", OpLte: "LTE",
	OpJump: "JUMP", OpJumpIfFalse: "JUMP_IF_FALSE",
	OpJumpIfFalseOrPop: "JUMP_IF_FALSE_OR_POP", OpJumpIfTrueOrPop: "JUMP_IF_TRUE_OR_POP",
	OpPushLoop: "PUSH_LOOP", OpIterate: "ITERATE", OpPopFrame: "POP_FRAME",
	OpPushContext: "PUSH_CONTEXT",
	OpCallBlock:   "CALL_BLOCK", OpLoadBlocks: "LOAD_BLOCKS", OpInclude: "INCLUDE",
	OpPushAutoEscape: "PUSH_AUTO_ESCAPE", OpPopAutoEscape: "POP_AUTO_ESCAPE",
	OpBeginCapture: "BEGIN_CAPTURE", OpEndCapture: "END_CAPTURE",
	OpApplyFilter: "APPLY_FILTER", OpPerformTest: "PERFORM_TEST",
	OpCallFunction: "CALL_FUNCTION", OpCallMethod: "CALL_METHOD", OpCallObject: "CALL_OBJECT",
	OpLen:       "LEN",
	OpFastSuper: "FAST_SUPER", OpFastRecurse: "FAST_RECURSE",
	OpNop: "NOP",
}

func (op Opcode) String() string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return "UNKNOWN"
}

// LoopFlags are the bit flags PushLoop carries.
type LoopFlags int

const (
	LoopWithLoopVar LoopFlags = 1 << iota
	LoopRecursive
)

// Instruction is one bytecode operation. Only the fields relevant to
// Op are meaningful; the rest are zero.
type Instruction struct {
	Op Opcode

	Name  string      // Lookup/StoreLocal/GetAttr/CallFunction/CallMethod/CallBlock/LoadBlocks/ApplyFilter/PerformTest
	Const value.Value // LoadConst

	Count int // BuildMap/BuildList/UnpackList item count, CallFunction/CallMethod/CallObject/ApplyFilter/PerformTest arg count
	Jump  int // Jump/JumpIfFalse/JumpIfFalseOrPop/JumpIfTrueOrPop target, Iterate exit target

	Flags LoopFlags // PushLoop
	Bool  bool      // Include.IgnoreMissing
}

// Loc is one entry in the compressed instruction→line map: the line
// number that applies starting at instruction index FirstInstruction,
// until the next Loc entry.
type Loc struct {
	FirstInstruction int
	Line             int
}

// Instructions is a compiled instruction stream for one template or
// block, with its constant-adjacent line-number map.
type Instructions struct {
	Name         string
	instructions []Instruction
	locations    []Loc
}

// New creates an empty Instructions stream for the named template.
func New(name string) *Instructions {
	return &Instructions{Name: name}
}

// Add appends an instruction with no associated line information.
func (ins *Instructions) Add(instr Instruction) int {
	idx := len(ins.instructions)
	ins.instructions = append(ins.instructions, instr)
	return idx
}

// AddWithLocation appends an instruction, recording line as the
// current line if it differs from the line recorded for the previous
// instruction. Consecutive instructions on the same line share one Loc
// entry, keeping the map O(distinct lines) rather than O(instructions).
func (ins *Instructions) AddWithLocation(instr Instruction, line int) int {
	idx := len(ins.instructions)
	if len(ins.locations) == 0 || ins.locations[len(ins.locations)-1].Line != line {
		ins.locations = append(ins.locations, Loc{FirstInstruction: idx, Line: line})
	}
	ins.instructions = append(ins.instructions, instr)
	return idx
}

// Get returns the instruction at idx.
func (ins *Instructions) Get(idx int) Instruction { return ins.instructions[idx] }

// GetMut returns a pointer to the instruction at idx, for backpatching
// jump targets after the fact.
func (ins *Instructions) GetMut(idx int) *Instruction { return &ins.instructions[idx] }

// Len returns the number of instructions.
func (ins *Instructions) Len() int { return len(ins.instructions) }

// IsEmpty reports whether the stream has no instructions.
func (ins *Instructions) IsEmpty() bool { return len(ins.instructions) == 0 }

// GetLine returns the source line instruction idx originated from, or
// false if no location information was ever recorded for this stream.
// Implemented as a binary search over the compressed Loc entries,
// ported from instructions.rs's get_line.
func (ins *Instructions) GetLine(idx int) (int, bool) {
	if len(ins.locations) == 0 {
		return 0, false
	}
	i := sort.Search(len(ins.locations), func(i int) bool {
		return ins.locations[i].FirstInstruction > idx
	})
	if i == 0 {
		return 0, false
	}
	return ins.locations[i-1].Line, true
}

// All returns the full instruction slice for iteration by the VM and
// disassembler.
func (ins *Instructions) All() []Instruction { return ins.instructions }
