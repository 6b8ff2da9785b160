// Package compiler lowers a parsed ast.Template into a
// bytecode.Instructions stream plus a map of named blocks, performing
// jump backpatching as it walks the tree.
//
// Backpatching follows the same two-phase shape as
// original_source/minijinja/src/compiler.rs: a conditional/loop/
// short-circuit construct first emits a placeholder jump instruction,
// pushes a pendingBlock recording where to come back to, and later
// (start_else/end_if, end_for_loop, end_sc_bool) patches that
// instruction's Jump field once the real target instruction index is
// known. The compiler never backtracks over already-emitted
// instructions; it only ever overwrites a jump target.
package compiler

import (
	"fmt"

	"github.com/kristofer/mjcore/pkg/ast"
	"github.com/kristofer/mjcore/pkg/bytecode"
	"github.com/kristofer/mjcore/pkg/lexer"
	"github.com/kristofer/mjcore/pkg/value"
)

type pendingKind int

const (
	pendingBranch pendingKind = iota
	pendingLoop
	pendingScBool
)

// pendingBlock is the Go counterpart of compiler.rs's PendingBlock
// enum: one entry per open construct awaiting backpatching.
type pendingBlock struct {
	kind       pendingKind
	branchIdx  int   // pendingBranch: index of the Jump/JumpIfFalse to patch
	iterateIdx int   // pendingLoop: index of the Iterate instruction
	scBoolIdxs []int // pendingScBool: indices of short-circuit jumps to patch
}

// Compiler walks an ast.Template and produces its bytecode. The
// default auto-escape policy for a template is resolved at render
// time from the template name (vm.Resolver.AutoEscapeDefault), not
// baked in at compile time; only an explicit {% autoescape %} tag
// emits a PushAutoEscape/PopAutoEscape pair that overrides it.
type Compiler struct {
	instructions *bytecode.Instructions
	blocks       map[string]*bytecode.Instructions
	pending      []pendingBlock
	currentLine  int
}

// New creates a compiler that will emit instructions attributed to the
// named template.
func New(name string) *Compiler {
	return &Compiler{
		instructions: bytecode.New(name),
		blocks:       map[string]*bytecode.Instructions{},
	}
}

// Compile compiles a full template body and returns its instruction
// stream and the block map accumulated from any {% block %} tags seen.
func Compile(tmpl *ast.Template, name string) (*bytecode.Instructions, map[string]*bytecode.Instructions, error) {
	c := New(name)
	c.add(bytecode.Instruction{Op: bytecode.OpPushContext})
	for _, stmt := range tmpl.Body {
		c.compileStmt(stmt)
	}
	if err := c.finish(); err != nil {
		return nil, nil, err
	}
	return c.instructions, c.blocks, nil
}

func (c *Compiler) finish() error {
	if len(c.pending) != 0 {
		return fmt.Errorf("compiler: %d unclosed construct(s) at end of template", len(c.pending))
	}
	return nil
}

func (c *Compiler) setLocation(sp lexer.Span) { c.currentLine = sp.StartLine }

func (c *Compiler) add(instr bytecode.Instruction) int {
	return c.instructions.AddWithLocation(instr, c.currentLine)
}

func (c *Compiler) nextInstruction() int { return c.instructions.Len() }

// ---- backpatch primitives ----

func (c *Compiler) startIf() {
	idx := c.add(bytecode.Instruction{Op: bytecode.OpJumpIfFalse})
	c.pending = append(c.pending, pendingBlock{kind: pendingBranch, branchIdx: idx})
}

// startElse closes the true-branch by emitting the jump that will skip
// over the else body, patches the `if`'s JumpIfFalse to land here, and
// leaves a new pending entry for end_if to patch once the else body is
// compiled.
func (c *Compiler) startElse() {
	jumpIdx := c.add(bytecode.Instruction{Op: bytecode.OpJump})
	top := &c.pending[len(c.pending)-1]
	c.instructions.GetMut(top.branchIdx).Jump = c.nextInstruction()
	top.branchIdx = jumpIdx
}

func (c *Compiler) endIf() {
	top := c.pending[len(c.pending)-1]
	c.pending = c.pending[:len(c.pending)-1]
	c.instructions.GetMut(top.branchIdx).Jump = c.nextInstruction()
}

func (c *Compiler) startForLoop(flags bytecode.LoopFlags) {
	c.add(bytecode.Instruction{Op: bytecode.OpPushLoop, Flags: flags})
	idx := c.add(bytecode.Instruction{Op: bytecode.OpIterate})
	c.pending = append(c.pending, pendingBlock{kind: pendingLoop, iterateIdx: idx})
}

func (c *Compiler) endForLoop() {
	top := c.pending[len(c.pending)-1]
	c.pending = c.pending[:len(c.pending)-1]
	c.add(bytecode.Instruction{Op: bytecode.OpJump, Jump: top.iterateIdx})
	c.instructions.GetMut(top.iterateIdx).Jump = c.nextInstruction()
	c.add(bytecode.Instruction{Op: bytecode.OpPopFrame})
}

func (c *Compiler) startScBool() {
	c.pending = append(c.pending, pendingBlock{kind: pendingScBool})
}

func (c *Compiler) scBool(and bool) {
	op := bytecode.OpJumpIfFalseOrPop
	if !and {
		op = bytecode.OpJumpIfTrueOrPop
	}
	idx := c.add(bytecode.Instruction{Op: op})
	top := &c.pending[len(c.pending)-1]
	top.scBoolIdxs = append(top.scBoolIdxs, idx)
}

func (c *Compiler) endScBool() {
	top := c.pending[len(c.pending)-1]
	c.pending = c.pending[:len(c.pending)-1]
	end := c.nextInstruction()
	for _, idx := range top.scBoolIdxs {
		c.instructions.GetMut(idx).Jump = end
	}
}

// ---- statements ----

func (c *Compiler) compileStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		c.compileStmt(s)
	}
}

func (c *Compiler) compileStmt(s ast.Stmt) {
	c.setLocation(s.Span())
	switch n := s.(type) {
	case *ast.EmitRaw:
		c.add(bytecode.Instruction{Op: bytecode.OpEmitRaw, Const: value.FromString(n.Data)})
	case *ast.EmitExpr:
		c.compileEmitExpr(n)
	case *ast.ForLoop:
		c.compileForLoop(n)
	case *ast.IfCond:
		c.compileIfCond(n)
	case *ast.WithBlock:
		c.compileWithBlock(n)
	case *ast.SetStmt:
		c.compileSetStmt(n)
	case *ast.Block:
		c.compileBlock(n)
	case *ast.Extends:
		c.add(bytecode.Instruction{Op: bytecode.OpLoadBlocks, Name: n.Name})
	case *ast.Include:
		c.compileExpr(n.Name)
		c.add(bytecode.Instruction{Op: bytecode.OpInclude, Bool: n.IgnoreMissing})
	case *ast.Import:
		// resolved against the environment's template registry; the
		// compiled form only records which template and binding name.
		c.compileExpr(n.Template)
		c.add(bytecode.Instruction{Op: bytecode.OpInclude, Bool: true, Name: n.Target})
	case *ast.AutoEscape:
		c.compileExpr(n.Mode)
		c.add(bytecode.Instruction{Op: bytecode.OpPushAutoEscape})
		c.compileStmts(n.Body)
		c.add(bytecode.Instruction{Op: bytecode.OpPopAutoEscape})
	case *ast.FilterBlock:
		c.add(bytecode.Instruction{Op: bytecode.OpBeginCapture})
		c.compileStmts(n.Body)
		c.add(bytecode.Instruction{Op: bytecode.OpEndCapture})
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.add(bytecode.Instruction{Op: bytecode.OpApplyFilter, Name: n.Name, Count: len(n.Args)})
		c.add(bytecode.Instruction{Op: bytecode.OpEmit})
	case *ast.Macro:
		// macros are not compiled: a {% macro %} definition emits no
		// instructions and defines nothing callable.
	default:
		panic(fmt.Sprintf("compiler: unhandled statement %T", s))
	}
}

func (c *Compiler) compileEmitExpr(n *ast.EmitExpr) {
	// fast paths for `{{ super() }}` and `{{ loop(iterable) }}`, mirroring
	// compiler.rs's EmitExpr special-casing so these two extremely common
	// forms skip a full CallBlock/CallFunction dispatch.
	if call, ok := n.Expr.(*ast.Call); ok {
		if call.Kind == ast.CallFunction && call.Name == "super" && len(call.Args) == 0 {
			c.add(bytecode.Instruction{Op: bytecode.OpFastSuper})
			return
		}
		if call.Kind == ast.CallFunction && call.Name == "loop" && len(call.Args) == 1 {
			c.compileExpr(call.Args[0])
			c.add(bytecode.Instruction{Op: bytecode.OpFastRecurse})
			return
		}
	}
	c.compileExpr(n.Expr)
	c.add(bytecode.Instruction{Op: bytecode.OpEmit})
}

func (c *Compiler) compileForLoop(n *ast.ForLoop) {
	c.compileExpr(n.Iter)

	hasElse := len(n.ElseBody) > 0
	var elseJump int
	if hasElse {
		c.add(bytecode.Instruction{Op: bytecode.OpDupTop})
		c.add(bytecode.Instruction{Op: bytecode.OpLen})
		elseJump = c.add(bytecode.Instruction{Op: bytecode.OpJumpIfFalse})
	}

	var flags bytecode.LoopFlags
	flags |= bytecode.LoopWithLoopVar
	if n.Recursive {
		flags |= bytecode.LoopRecursive
	}
	c.startForLoop(flags)
	c.compileAssignTarget(n.Target)
	if n.FilterExpr != nil {
		// loop-level `if` filter: skip straight back to Iterate
		// (continue) for items that don't pass, instead of
		// materializing a pre-filtered list.
		c.compileExpr(n.FilterExpr)
		top := c.pending[len(c.pending)-1]
		c.add(bytecode.Instruction{Op: bytecode.OpJumpIfFalse, Jump: top.iterateIdx})
		c.compileStmts(n.Body)
	} else {
		c.compileStmts(n.Body)
	}
	c.endForLoop()

	if hasElse {
		afterElse := c.add(bytecode.Instruction{Op: bytecode.OpJump})
		c.instructions.GetMut(elseJump).Jump = c.nextInstruction()
		// the empty-check left the duplicated iterable on the stack;
		// discard it before running the else body.
		c.add(bytecode.Instruction{Op: bytecode.OpDiscardTop})
		c.compileStmts(n.ElseBody)
		c.instructions.GetMut(afterElse).Jump = c.nextInstruction()
	}
}

func (c *Compiler) compileAssignTarget(t ast.AssignTarget) {
	if len(t.List) > 0 {
		c.add(bytecode.Instruction{Op: bytecode.OpUnpackList, Count: len(t.List)})
		for _, name := range t.List {
			c.add(bytecode.Instruction{Op: bytecode.OpStoreLocal, Name: name})
		}
		return
	}
	c.add(bytecode.Instruction{Op: bytecode.OpStoreLocal, Name: t.Name})
}

func (c *Compiler) compileIfCond(n *ast.IfCond) {
	for i, branch := range n.Branches {
		c.compileExpr(branch.Test)
		c.startIf()
		c.compileStmts(branch.Body)
		if i < len(n.Branches)-1 || len(n.ElseBody) > 0 {
			c.startElse()
		}
	}
	c.compileStmts(n.ElseBody)
	for range n.Branches {
		c.endIf()
	}
}

func (c *Compiler) compileWithBlock(n *ast.WithBlock) {
	c.add(bytecode.Instruction{Op: bytecode.OpPushContext})
	for i, target := range n.Targets {
		c.compileExpr(n.Values[i])
		c.compileAssignTarget(target)
	}
	c.compileStmts(n.Body)
	c.add(bytecode.Instruction{Op: bytecode.OpPopFrame})
}

func (c *Compiler) compileSetStmt(n *ast.SetStmt) {
	if n.Value != nil {
		c.compileExpr(n.Value)
		c.compileAssignTarget(n.Target)
		return
	}
	c.add(bytecode.Instruction{Op: bytecode.OpBeginCapture})
	c.compileStmts(n.Body)
	c.add(bytecode.Instruction{Op: bytecode.OpEndCapture})
	if n.Filter != "" {
		c.add(bytecode.Instruction{Op: bytecode.OpApplyFilter, Name: n.Filter, Count: 0})
	}
	c.compileAssignTarget(n.Target)
}

// compileBlock compiles a {% block %} body into its own instruction
// stream (stored in c.blocks) and emits a CallBlock at the point of
// definition, using a fresh sub-compiler per block the same way a
// method body gets its own instruction stream.
func (c *Compiler) compileBlock(n *ast.Block) {
	sub := New(c.instructions.Name)
	sub.compileStmts(n.Body)
	if err := sub.finish(); err != nil {
		panic(err)
	}
	c.blocks[n.Name] = sub.instructions
	for name, instrs := range sub.blocks {
		c.blocks[name] = instrs
	}
	c.add(bytecode.Instruction{Op: bytecode.OpCallBlock, Name: n.Name})
}

// ---- expressions ----

func (c *Compiler) compileExpr(e ast.Expr) {
	c.setLocation(e.Span())
	switch n := e.(type) {
	case *ast.Var:
		c.add(bytecode.Instruction{Op: bytecode.OpLookup, Name: n.Name})
	case *ast.Const:
		c.add(bytecode.Instruction{Op: bytecode.OpLoadConst, Const: constValue(n)})
	case *ast.UnaryOp:
		c.compileExpr(n.Expr)
		switch n.Op {
		case ast.UnaryNeg:
			c.add(bytecode.Instruction{Op: bytecode.OpNeg})
		case ast.UnaryNot:
			c.add(bytecode.Instruction{Op: bytecode.OpNot})
		}
	case *ast.BinOp:
		c.compileBinOp(n)
	case *ast.IfExpr:
		c.compileIfExpr(n)
	case *ast.Filter:
		c.compileExpr(n.Expr)
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.add(bytecode.Instruction{Op: bytecode.OpApplyFilter, Name: n.Name, Count: len(n.Args)})
	case *ast.Test:
		c.compileExpr(n.Expr)
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.add(bytecode.Instruction{Op: bytecode.OpPerformTest, Name: n.Name, Count: len(n.Args)})
		if n.Negate {
			c.add(bytecode.Instruction{Op: bytecode.OpNot})
		}
	case *ast.GetAttr:
		c.compileExpr(n.Expr)
		c.add(bytecode.Instruction{Op: bytecode.OpGetAttr, Name: n.Name})
	case *ast.GetItem:
		c.compileExpr(n.Expr)
		c.compileExpr(n.Index)
		c.add(bytecode.Instruction{Op: bytecode.OpGetItem})
	case *ast.Call:
		c.compileCall(n)
	case *ast.List:
		for _, item := range n.Items {
			c.compileExpr(item)
		}
		c.add(bytecode.Instruction{Op: bytecode.OpBuildList, Count: len(n.Items)})
	case *ast.Map:
		for _, entry := range n.Entries {
			c.compileExpr(entry.Key)
			c.compileExpr(entry.Value)
		}
		c.add(bytecode.Instruction{Op: bytecode.OpBuildMap, Count: len(n.Entries)})
	default:
		panic(fmt.Sprintf("compiler: unhandled expression %T", e))
	}
}

func (c *Compiler) compileBinOp(n *ast.BinOp) {
	switch n.Op {
	case ast.BinScAnd, ast.BinScOr:
		c.compileExpr(n.Left)
		c.startScBool()
		c.scBool(n.Op == ast.BinScAnd)
		c.compileExpr(n.Right)
		c.endScBool()
		return
	}
	c.compileExpr(n.Left)
	c.compileExpr(n.Right)
	c.add(bytecode.Instruction{Op: binOpcode(n.Op)})
}

func binOpcode(op ast.BinOpKind) bytecode.Opcode {
	switch op {
	case ast.BinAdd:
		return bytecode.OpAdd
	case ast.BinSub:
		return bytecode.OpSub
	case ast.BinMul:
		return bytecode.OpMul
	case ast.BinDiv:
		return bytecode.OpDiv
	case ast.BinFloorDiv:
		return bytecode.OpIntDiv
	case ast.BinRem:
		return bytecode.OpRem
	case ast.BinPow:
		return bytecode.OpPow
	case ast.BinConcat:
		return bytecode.OpStringConcat
	case ast.BinEq:
		return bytecode.OpEq
	case ast.BinNe:
		return bytecode.OpNe
	case ast.BinLt:
		return bytecode.OpLt
	case ast.BinLte:
		return bytecode.OpLte
	case ast.BinGt:
		return bytecode.OpGt
	case ast.BinGte:
		return bytecode.OpGte
	case ast.BinIn:
		return bytecode.OpIn
	default:
		panic(fmt.Sprintf("compiler: unhandled binary operator %v", op))
	}
}

func (c *Compiler) compileIfExpr(n *ast.IfExpr) {
	c.compileExpr(n.Test)
	c.startIf()
	c.compileExpr(n.True)
	c.startElse()
	if n.False != nil {
		c.compileExpr(n.False)
	} else {
		c.add(bytecode.Instruction{Op: bytecode.OpLoadConst, Const: value.Undefined()})
	}
	c.endIf()
}

func (c *Compiler) compileCall(n *ast.Call) {
	switch n.Kind {
	case ast.CallFunction:
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.add(bytecode.Instruction{Op: bytecode.OpCallFunction, Name: n.Name, Count: len(n.Args)})
	case ast.CallMethod:
		c.compileExpr(n.Func)
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.add(bytecode.Instruction{Op: bytecode.OpCallMethod, Name: n.Name, Count: len(n.Args)})
	case ast.CallObject:
		c.compileExpr(n.Func)
		for _, a := range n.Args {
			c.compileExpr(a)
		}
		c.add(bytecode.Instruction{Op: bytecode.OpCallObject, Count: len(n.Args)})
	case ast.CallBlock:
		c.add(bytecode.Instruction{Op: bytecode.OpFastSuper})
	}
}

func constValue(n *ast.Const) value.Value {
	switch n.Kind {
	case ast.ConstNone:
		return value.None()
	case ast.ConstBool:
		return value.FromBool(n.Bool)
	case ast.ConstInt:
		return value.FromInt(n.Int)
	case ast.ConstFloat:
		return value.FromFloat(n.Float)
	case ast.ConstString:
		return value.FromString(n.Str)
	default:
		return value.Undefined()
	}
}
