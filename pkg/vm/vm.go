// Package vm implements the bytecode virtual machine for the template
// engine.
//
// The VM is a stack-based interpreter that executes the bytecode
// produced by pkg/compiler. It's the final stage in the execution
// pipeline:
//
//	Template source -> Lexer -> Parser -> AST -> Compiler -> Bytecode -> VM -> Output
//
// # Architecture
//
//  1. Value stack: holds intermediate values.Value results during
//     expression evaluation.
//  2. Context stack: a chain of variable frames (pushed by
//     PushContext/WithBlock/ForLoop scoping, popped by PopFrame),
//     searched top-down by Lookup/StoreLocal.
//  3. Loop stack: one loopState per active PushLoop/Iterate pair,
//     exposing the `loop` object (index, first, last, cycle(), ...).
//  4. Capture stack: redirected output buffers for {% set %} block
//     capture and {% filter %}.
//  5. Auto-escape stack: the current HTML-escaping policy, pushed and
//     popped by {% autoescape %}.
//
// Instructions are executed sequentially using an instruction pointer
// (ip); jumps set ip directly. Block bodies (for {% block %}/{%
// extends %} inheritance) are executed as independent instruction
// streams via runRange, reusing the same VM state.
package vm

import (
	"html"
	"strings"

	"github.com/pkg/errors"

	"github.com/kristofer/mjcore/pkg/bytecode"
	"github.com/kristofer/mjcore/pkg/value"
)

// Template bundles one compiled template's instructions with its named
// blocks, the unit the Resolver hands back for extends/include/import.
type Template struct {
	Name         string
	Instructions *bytecode.Instructions
	Blocks       map[string]*bytecode.Instructions
	Extends      string // parent template name, empty if none
}

// Resolver is the environment-provided lookup surface the VM calls out
// to for anything beyond pure bytecode execution: global values,
// filters, tests, callable globals, and template loading for
// extends/include/import. pkg/environment implements this.
type Resolver interface {
	LookupGlobal(name string) (value.Value, bool)
	ApplyFilter(name string, v value.Value, args []value.Value) (value.Value, error)
	PerformTest(name string, v value.Value, args []value.Value) (bool, error)
	CallFunction(name string, args []value.Value) (value.Value, error)
	CallMethod(recv value.Value, name string, args []value.Value) (value.Value, error)
	GetTemplate(name string) (*Template, error)
	AutoEscapeDefault(name string) bool
}

// frame is one variable scope, searched top-down via its parent chain.
type frame struct {
	locals map[string]value.Value
	parent *frame
}

func newFrame(parent *frame) *frame {
	return &frame{locals: make(map[string]value.Value), parent: parent}
}

func (f *frame) lookup(name string) (value.Value, bool) {
	for cur := f; cur != nil; cur = cur.parent {
		if v, ok := cur.locals[name]; ok {
			return v, true
		}
	}
	return value.Undefined(), false
}

// recurseRange records the body span of a `{% for ... recursive %}`
// loop so a nested `{{ loop(children) }}` call can re-enter it.
type recurseRange struct {
	bodyStart int
	bodyEnd   int // index of the backward Jump that closes the loop
}

// VM executes one render of a compiled template against a Resolver.
type VM struct {
	resolver Resolver

	stack []value.Value

	top         *frame
	loopStack   []*loopState
	recurseTop  []recurseRange
	blockChains map[string][]*bytecode.Instructions
	superStack  []superFrame

	out            *strings.Builder
	captureStack   []*strings.Builder
	autoEscape     []bool
	currentTmpl    string
	fuel           int
	fuelUnlimited  bool
	tracer         Tracer
}

type superFrame struct {
	name string
	idx  int
}

// New creates a VM bound to the given Resolver. fuel is the maximum
// number of instructions that may execute before OutOfFuel is raised;
// pass 0 for unlimited.
func New(resolver Resolver, fuel int) *VM {
	return &VM{
		resolver:      resolver,
		stack:         make([]value.Value, 0, 64),
		out:           &strings.Builder{},
		blockChains:   map[string][]*bytecode.Instructions{},
		fuel:          fuel,
		fuelUnlimited: fuel <= 0,
	}
}

// SetTracer installs a trace hook invoked before every instruction;
// pass nil to disable tracing.
func (vm *VM) SetTracer(t Tracer) { vm.tracer = t }

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() value.Value {
	n := len(vm.stack)
	v := vm.stack[n-1]
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) peek() value.Value { return vm.stack[len(vm.stack)-1] }

func (vm *VM) write(s string) {
	vm.out.WriteString(s)
}

// Render executes tmpl's instructions (following its extends chain, if
// any) against the given root context and returns the rendered output.
func (vm *VM) Render(tmpl *Template, root map[string]value.Value) (string, error) {
	vm.currentTmpl = tmpl.Name
	vm.top = newFrame(nil)
	for k, v := range root {
		vm.top.locals[k] = v
	}
	vm.autoEscape = []bool{vm.resolver.AutoEscapeDefault(tmpl.Name)}

	chain, blocks, err := vm.resolveChain(tmpl)
	if err != nil {
		return "", err
	}
	vm.blockChains = blocks

	// the root of the chain (the eventual ancestor with no further
	// `extends`) drives emission; descendants only contribute blocks.
	root_ := chain[len(chain)-1]
	if err := vm.run(root_.Instructions); err != nil {
		return "", err
	}
	return vm.out.String(), nil
}

// resolveChain walks tmpl's `{% extends %}` chain by following each
// Template's Extends name through the Resolver, then merges every
// template's own blocks. Returns the chain from most-derived to base,
// and the merged block-name -> chain map.
func (vm *VM) resolveChain(tmpl *Template) ([]*Template, map[string][]*bytecode.Instructions, error) {
	chain := []*Template{tmpl}
	cur := tmpl
	for cur.Extends != "" {
		parent, err := vm.resolver.GetTemplate(cur.Extends)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "resolving extends %q", cur.Extends)
		}
		chain = append(chain, parent)
		cur = parent
	}
	blocks := map[string][]*bytecode.Instructions{}
	for _, t := range chain {
		for name, ins := range t.Blocks {
			blocks[name] = append(blocks[name], ins)
		}
	}
	return chain, blocks, nil
}

// run executes ins from instruction 0 to its end.
func (vm *VM) run(ins *bytecode.Instructions) error {
	return vm.runRange(ins, 0, ins.Len())
}

// runRange executes instructions [start,end) of ins, honoring internal
// jumps (which must stay within range for well-formed compiler output).
func (vm *VM) runRange(ins *bytecode.Instructions, start, end int) error {
	ip := start
	for ip < end {
		instr := ins.Get(ip)
		if vm.tracer != nil {
			vm.tracer.Trace(ins, ip, instr)
		}
		if !vm.fuelUnlimited {
			vm.fuel--
			if vm.fuel < 0 {
				return vm.errAt(ins, ip, errors.New("out of fuel"))
			}
		}
		next, err := vm.exec(ins, ip, instr)
		if err != nil {
			return vm.errAt(ins, ip, err)
		}
		ip = next
	}
	return nil
}

func (vm *VM) errAt(ins *bytecode.Instructions, ip int, err error) error {
	line, _ := ins.GetLine(ip)
	return &RuntimeError{
		Template: vm.currentTmpl,
		Line:     line,
		Op:       instrOp(ins, ip),
		Cause:    err,
	}
}

func instrOp(ins *bytecode.Instructions, ip int) bytecode.Opcode {
	if ip < 0 || ip >= ins.Len() {
		return bytecode.OpNop
	}
	return ins.Get(ip).Op
}

// exec executes a single instruction and returns the next ip.
func (vm *VM) exec(ins *bytecode.Instructions, ip int, instr bytecode.Instruction) (int, error) {
	switch instr.Op {
	case bytecode.OpEmitRaw:
		vm.write(instr.Const.String())
		return ip + 1, nil

	case bytecode.OpEmit:
		v := vm.pop()
		vm.emitValue(v)
		return ip + 1, nil

	case bytecode.OpLoadConst:
		vm.push(instr.Const)
		return ip + 1, nil

	case bytecode.OpLookup:
		if v, ok := vm.top.lookup(instr.Name); ok {
			vm.push(v)
		} else if v, ok := vm.resolver.LookupGlobal(instr.Name); ok {
			vm.push(v)
		} else {
			vm.push(value.Undefined())
		}
		return ip + 1, nil

	case bytecode.OpStoreLocal:
		vm.top.locals[instr.Name] = vm.pop()
		return ip + 1, nil

	case bytecode.OpGetAttr:
		recv := vm.pop()
		vm.push(recv.GetAttr(instr.Name))
		return ip + 1, nil

	case bytecode.OpGetItem:
		key := vm.pop()
		recv := vm.pop()
		vm.push(recv.GetItem(key))
		return ip + 1, nil

	case bytecode.OpDupTop:
		vm.push(vm.peek())
		return ip + 1, nil

	case bytecode.OpDiscardTop:
		vm.pop()
		return ip + 1, nil

	case bytecode.OpLen:
		v := vm.pop()
		n, ok := v.Len()
		if !ok {
			return 0, errors.Errorf("value of kind %s has no length", v.Kind())
		}
		vm.push(value.FromInt(int64(n)))
		return ip + 1, nil

	case bytecode.OpBuildMap:
		m := value.NewOrderedMap()
		entries := make([][2]value.Value, instr.Count)
		for i := instr.Count - 1; i >= 0; i-- {
			v := vm.pop()
			k := vm.pop()
			entries[i] = [2]value.Value{k, v}
		}
		for _, e := range entries {
			m.Set(e[0], e[1])
		}
		vm.push(value.FromMap(m))
		return ip + 1, nil

	case bytecode.OpBuildList:
		items := make([]value.Value, instr.Count)
		for i := instr.Count - 1; i >= 0; i-- {
			items[i] = vm.pop()
		}
		vm.push(value.FromSlice(items))
		return ip + 1, nil

	case bytecode.OpUnpackList:
		top := vm.pop()
		items, ok := top.Iter()
		if !ok || len(items) != instr.Count {
			return 0, errors.Errorf("cannot unpack value of kind %s into %d names", top.Kind(), instr.Count)
		}
		// push back in reverse so the sequence of StoreLocal
		// instructions (one per name, in order) pops them correctly.
		for i := len(items) - 1; i >= 0; i-- {
			vm.push(items[i])
		}
		return ip + 1, nil

	case bytecode.OpListAppend:
		item := vm.pop()
		list := vm.pop()
		items, _ := list.Iter()
		vm.push(value.FromSlice(append(append([]value.Value(nil), items...), item)))
		return ip + 1, nil

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv,
		bytecode.OpIntDiv, bytecode.OpRem, bytecode.OpPow:
		return ip + 1, vm.execArith(instr.Op)

	case bytecode.OpNeg:
		v := vm.pop()
		r, err := v.Neg()
		if err != nil {
			return 0, err
		}
		vm.push(r)
		return ip + 1, nil

	case bytecode.OpNot:
		v := vm.pop()
		vm.push(value.FromBool(!v.IsTrue()))
		return ip + 1, nil

	case bytecode.OpStringConcat:
		b := vm.pop()
		a := vm.pop()
		vm.push(a.StringConcat(b))
		return ip + 1, nil

	case bytecode.OpIn:
		b := vm.pop()
		a := vm.pop()
		ok, err := a.In(b)
		if err != nil {
			return 0, err
		}
		vm.push(value.FromBool(ok))
		return ip + 1, nil

	case bytecode.OpEq, bytecode.OpNe, bytecode.OpGt, bytecode.OpGte, bytecode.OpLt, bytecode.OpLte:
		b := vm.pop()
		a := vm.pop()
		vm.push(execCompare(instr.Op, a, b))
		return ip + 1, nil

	case bytecode.OpJump:
		return instr.Jump, nil

	case bytecode.OpJumpIfFalse:
		v := vm.pop()
		if !v.IsTrue() {
			return instr.Jump, nil
		}
		return ip + 1, nil

	case bytecode.OpJumpIfFalseOrPop:
		if !vm.peek().IsTrue() {
			return instr.Jump, nil
		}
		vm.pop()
		return ip + 1, nil

	case bytecode.OpJumpIfTrueOrPop:
		if vm.peek().IsTrue() {
			return instr.Jump, nil
		}
		vm.pop()
		return ip + 1, nil

	case bytecode.OpPushLoop:
		iterable := vm.pop()
		items, ok := iterable.Iter()
		if !ok {
			return 0, errors.Errorf("value of kind %s is not iterable", iterable.Kind())
		}
		ls := newLoopState(items, instr.Flags)
		vm.loopStack = append(vm.loopStack, ls)
		if instr.Flags&bytecode.LoopRecursive != 0 {
			bodyStart := ip + 2 // PushLoop, Iterate, then body
			bodyEnd := findBackJump(ins, bodyStart, ip+1)
			vm.recurseTop = append(vm.recurseTop, recurseRange{bodyStart: bodyStart, bodyEnd: bodyEnd})
		}
		vm.top = newFrame(vm.top)
		return ip + 1, nil

	case bytecode.OpIterate:
		ls := vm.loopStack[len(vm.loopStack)-1]
		item, ok := ls.advance()
		if !ok {
			vm.loopStack = vm.loopStack[:len(vm.loopStack)-1]
			if len(vm.recurseTop) > 0 {
				vm.recurseTop = vm.recurseTop[:len(vm.recurseTop)-1]
			}
			return instr.Jump, nil
		}
		if ls.flags&bytecode.LoopWithLoopVar != 0 {
			vm.top.locals["loop"] = value.FromObject(ls)
		}
		vm.push(item)
		return ip + 1, nil

	case bytecode.OpPopFrame:
		vm.top = vm.top.parent
		return ip + 1, nil

	case bytecode.OpPushContext:
		vm.top = newFrame(vm.top)
		return ip + 1, nil

	case bytecode.OpCallBlock:
		if err := vm.callBlock(instr.Name); err != nil {
			return 0, err
		}
		return ip + 1, nil

	case bytecode.OpFastSuper:
		if err := vm.callSuper(); err != nil {
			return 0, err
		}
		return ip + 1, nil

	case bytecode.OpFastRecurse:
		items := vm.pop()
		if err := vm.callRecurse(ins, items); err != nil {
			return 0, err
		}
		return ip + 1, nil

	case bytecode.OpLoadBlocks:
		// the parent name is resolved ahead of time by the compiler
		// driver (environment.Load); at VM level this is a no-op
		// marker left in the stream for disassembly readability.
		return ip + 1, nil

	case bytecode.OpInclude:
		name := vm.pop()
		if err := vm.execInclude(name.String(), instr.Bool, instr.Name); err != nil {
			return 0, err
		}
		return ip + 1, nil

	case bytecode.OpPushAutoEscape:
		mode := vm.pop()
		vm.autoEscape = append(vm.autoEscape, autoEscapeEnabled(mode))
		return ip + 1, nil

	case bytecode.OpPopAutoEscape:
		vm.autoEscape = vm.autoEscape[:len(vm.autoEscape)-1]
		return ip + 1, nil

	case bytecode.OpBeginCapture:
		vm.captureStack = append(vm.captureStack, vm.out)
		vm.out = &strings.Builder{}
		return ip + 1, nil

	case bytecode.OpEndCapture:
		captured := vm.out.String()
		vm.out = vm.captureStack[len(vm.captureStack)-1]
		vm.captureStack = vm.captureStack[:len(vm.captureStack)-1]
		vm.push(value.FromString(captured))
		return ip + 1, nil

	case bytecode.OpApplyFilter:
		args := vm.popArgs(instr.Count)
		v := vm.pop()
		r, err := vm.resolver.ApplyFilter(instr.Name, v, args)
		if err != nil {
			return 0, err
		}
		vm.push(r)
		return ip + 1, nil

	case bytecode.OpPerformTest:
		args := vm.popArgs(instr.Count)
		v := vm.pop()
		r, err := vm.resolver.PerformTest(instr.Name, v, args)
		if err != nil {
			return 0, err
		}
		vm.push(value.FromBool(r))
		return ip + 1, nil

	case bytecode.OpCallFunction:
		args := vm.popArgs(instr.Count)
		r, err := vm.resolver.CallFunction(instr.Name, args)
		if err != nil {
			return 0, err
		}
		vm.push(r)
		return ip + 1, nil

	case bytecode.OpCallMethod:
		args := vm.popArgs(instr.Count)
		recv := vm.pop()
		r, err := vm.resolver.CallMethod(recv, instr.Name, args)
		if err != nil {
			return 0, err
		}
		vm.push(r)
		return ip + 1, nil

	case bytecode.OpCallObject:
		args := vm.popArgs(instr.Count)
		callee := vm.pop()
		r, err := vm.callObject(callee, args)
		if err != nil {
			return 0, err
		}
		vm.push(r)
		return ip + 1, nil

	case bytecode.OpNop:
		return ip + 1, nil

	default:
		return 0, errors.Errorf("unhandled opcode %s", instr.Op)
	}
}

func (vm *VM) popArgs(n int) []value.Value {
	args := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	return args
}

func (vm *VM) callObject(callee value.Value, args []value.Value) (value.Value, error) {
	raw := callee.Raw()
	if c, ok := raw.(value.Callable); ok {
		return c.Call(callState{vm}, args)
	}
	return value.Undefined(), errors.Errorf("value of kind %s is not callable", callee.Kind())
}

type callState struct{ vm *VM }

func (s callState) CurrentTemplateName() string { return s.vm.currentTmpl }

func (vm *VM) execArith(op bytecode.Opcode) error {
	b := vm.pop()
	a := vm.pop()
	var r value.Value
	var err error
	switch op {
	case bytecode.OpAdd:
		r, err = a.Add(b)
	case bytecode.OpSub:
		r, err = a.Sub(b)
	case bytecode.OpMul:
		r, err = a.Mul(b)
	case bytecode.OpDiv:
		r, err = a.Div(b)
	case bytecode.OpIntDiv:
		r, err = a.IntDiv(b)
	case bytecode.OpRem:
		r, err = a.Rem(b)
	case bytecode.OpPow:
		r, err = a.Pow(b)
	}
	if err != nil {
		return err
	}
	vm.push(r)
	return nil
}

func execCompare(op bytecode.Opcode, a, b value.Value) value.Value {
	switch op {
	case bytecode.OpEq:
		return value.FromBool(a.Equal(b))
	case bytecode.OpNe:
		return value.FromBool(!a.Equal(b))
	case bytecode.OpLt:
		return value.FromBool(a.Compare(b) < 0)
	case bytecode.OpLte:
		return value.FromBool(a.Compare(b) <= 0)
	case bytecode.OpGt:
		return value.FromBool(a.Compare(b) > 0)
	case bytecode.OpGte:
		return value.FromBool(a.Compare(b) >= 0)
	}
	return value.Undefined()
}

// autoEscapeEnabled interprets a {% autoescape %} mode value following
// the "html"/"json"/"none"/bool contract: a bare bool is used as-is,
// the string "none" turns escaping off, and any other string ("html",
// "json", or anything else) turns it on. JSON-specific escaping isn't
// modeled separately; "json" mode gets the same HTML-escaping "html"
// does, since emitValue has only one escaping strategy.
func autoEscapeEnabled(mode value.Value) bool {
	if mode.Kind() == value.KindString {
		return mode.String() != "none"
	}
	return mode.IsTrue()
}

// emitValue writes v to the current output, HTML-escaping it first
// when auto-escape is on and v isn't already marked safe.
func (vm *VM) emitValue(v value.Value) {
	s := v.String()
	if vm.autoEscape[len(vm.autoEscape)-1] && !v.IsSafe() {
		s = html.EscapeString(s)
	}
	vm.write(s)
}

// callBlock runs the most-derived implementation of a named block,
// establishing a super chain so {{ super() }} inside it can fall
// through to less-derived implementations.
func (vm *VM) callBlock(name string) error {
	chain := vm.blockChains[name]
	if len(chain) == 0 {
		return errors.Errorf("no such block %q", name)
	}
	vm.superStack = append(vm.superStack, superFrame{name: name, idx: 0})
	defer func() { vm.superStack = vm.superStack[:len(vm.superStack)-1] }()
	vm.top = newFrame(vm.top)
	defer func() { vm.top = vm.top.parent }()
	return vm.run(chain[0])
}

// callSuper executes the next-less-derived implementation of the
// block currently running, advancing the super chain for further
// nested super() calls.
func (vm *VM) callSuper() error {
	if len(vm.superStack) == 0 {
		return errors.New("super() called outside of a block")
	}
	top := &vm.superStack[len(vm.superStack)-1]
	chain := vm.blockChains[top.name]
	top.idx++
	if top.idx >= len(chain) {
		return errors.Errorf("no parent block to call super() on for %q", top.name)
	}
	vm.top = newFrame(vm.top)
	defer func() { vm.top = vm.top.parent }()
	return vm.run(chain[top.idx])
}

// callRecurse re-enters the innermost `{% for ... recursive %}` loop
// body over a new set of items, implementing `{{ loop(children) }}`.
// It runs the body's instruction range directly, driving a fresh
// loopState per invocation rather than jumping through the outer
// loop's Iterate/PushLoop pair (which belongs to the enclosing
// iteration and must not be re-entered).
func (vm *VM) callRecurse(ins *bytecode.Instructions, items value.Value) error {
	if len(vm.recurseTop) == 0 {
		return errors.New("loop(...) called outside of a recursive for loop")
	}
	rr := vm.recurseTop[len(vm.recurseTop)-1]
	vals, ok := items.Iter()
	if !ok {
		return errors.Errorf("value of kind %s is not iterable", items.Kind())
	}
	outer := vm.loopStack[len(vm.loopStack)-1]
	ls := newLoopState(vals, outer.flags)
	ls.depth = outer.depth + 1
	vm.loopStack = append(vm.loopStack, ls)
	defer func() { vm.loopStack = vm.loopStack[:len(vm.loopStack)-1] }()

	for {
		item, ok := ls.advance()
		if !ok {
			break
		}
		vm.top = newFrame(vm.top)
		if ls.flags&bytecode.LoopWithLoopVar != 0 {
			vm.top.locals["loop"] = value.FromObject(ls)
		}
		vm.push(item)
		if err := vm.runRange(ins, rr.bodyStart, rr.bodyEnd); err != nil {
			vm.top = vm.top.parent
			return err
		}
		vm.top = vm.top.parent
	}
	return nil
}

// findBackJump scans forward from start for the Jump instruction that
// targets iterateIdx — the backward edge emitted by
// Compiler.endForLoop that closes a loop body.
func findBackJump(ins *bytecode.Instructions, start, iterateIdx int) int {
	for i := start; i < ins.Len(); i++ {
		instr := ins.Get(i)
		if instr.Op == bytecode.OpJump && instr.Jump == iterateIdx {
			return i
		}
	}
	return ins.Len()
}

// execInclude renders another template (by name) and either splices
// its output into the current output stream ({% include %}) or binds
// its top-level context as a namespace under a local name ({% import
// %}/{% from ... import %}, signaled by bindName != "").
func (vm *VM) execInclude(name string, ignoreMissingOrWithContext bool, bindName string) error {
	tmpl, err := vm.resolver.GetTemplate(name)
	if err != nil {
		if bindName == "" && ignoreMissingOrWithContext {
			return nil
		}
		return errors.Wrapf(err, "including %q", name)
	}

	sub := New(vm.resolver, 0)
	sub.fuel, sub.fuelUnlimited = vm.fuel, vm.fuelUnlimited
	var root map[string]value.Value
	if bindName == "" {
		// {% include %}: inherits the current context.
		root = map[string]value.Value{}
		for cur := vm.top; cur != nil; cur = cur.parent {
			for k, v := range cur.locals {
				if _, exists := root[k]; !exists {
					root[k] = v
				}
			}
		}
	}
	out, err := sub.Render(tmpl, root)
	if err != nil {
		return err
	}
	if bindName == "" {
		vm.write(out)
		return nil
	}
	ns := value.NewOrderedMap()
	for k, v := range sub.top.locals {
		ns.Set(value.FromString(k), v)
	}
	vm.top.locals[bindName] = value.FromMap(ns)
	return nil
}
