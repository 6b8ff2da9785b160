// Package ast defines the Abstract Syntax Tree nodes produced by the
// parser: expression and statement nodes for the template language
//, each carrying the source Span it was parsed from.
package ast

import "github.com/kristofer/mjcore/pkg/lexer"

// Node is the interface that all AST nodes implement.
type Node interface {
	Span() lexer.Span
}

// Expr represents an expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt represents a statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Template is the root node of a parsed template: a flat sequence of
// statements.
type Template struct {
	Body []Stmt
	Sp   lexer.Span
}

func (t *Template) Span() lexer.Span { return t.Sp }

// ---- Expressions ----

// Var is a name lookup, resolved against the current context frame.
type Var struct {
	Name string
	Sp   lexer.Span
}

func (e *Var) Span() lexer.Span { return e.Sp }
func (e *Var) exprNode()        {}

// ConstKind tags the literal kind carried by a Const node.
type ConstKind int

const (
	ConstNone ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstString
)

// Const is a literal constant: none, a bool, an integer, a float, or a
// string.
type Const struct {
	Kind    ConstKind
	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Sp      lexer.Span
}

func (e *Const) Span() lexer.Span { return e.Sp }
func (e *Const) exprNode()        {}

// UnaryOpKind enumerates the unary operators.
type UnaryOpKind int

const (
	UnaryNeg UnaryOpKind = iota
	UnaryNot
)

// UnaryOp applies a prefix operator to an operand.
type UnaryOp struct {
	Op   UnaryOpKind
	Expr Expr
	Sp   lexer.Span
}

func (e *UnaryOp) Span() lexer.Span { return e.Sp }
func (e *UnaryOp) exprNode()        {}

// BinOpKind enumerates binary operators, including the short-circuit
// boolean operators and the `~` string-concat operator.
type BinOpKind int

const (
	BinAdd BinOpKind = iota
	BinSub
	BinMul
	BinDiv
	BinFloorDiv
	BinRem
	BinPow
	BinConcat // ~
	BinEq
	BinNe
	BinLt
	BinLte
	BinGt
	BinGte
	BinScAnd // and
	BinScOr  // or
	BinIn
)

// BinOp is a binary operator expression.
type BinOp struct {
	Op    BinOpKind
	Left  Expr
	Right Expr
	Sp    lexer.Span
}

func (e *BinOp) Span() lexer.Span { return e.Sp }
func (e *BinOp) exprNode()        {}

// IfExpr is the ternary conditional expression `a if cond else b`.
type IfExpr struct {
	Test Expr
	True Expr
	// False is nil when the `else` clause was omitted; evaluates to
	// Undefined in that case.
	False Expr
	Sp    lexer.Span
}

func (e *IfExpr) Span() lexer.Span { return e.Sp }
func (e *IfExpr) exprNode()        {}

// Kwarg is a single `name=value` call argument.
type Kwarg struct {
	Name  string
	Value Expr
}

// Filter applies a named filter to an expression: `expr|name(args)`.
type Filter struct {
	Expr   Expr
	Name   string
	Args   []Expr
	Kwargs []Kwarg
	Sp     lexer.Span
}

func (e *Filter) Span() lexer.Span { return e.Sp }
func (e *Filter) exprNode()        {}

// Test applies a named test to an expression: `expr is name(args)`.
type Test struct {
	Expr   Expr
	Name   string
	Args   []Expr
	Negate bool
	Sp     lexer.Span
}

func (e *Test) Span() lexer.Span { return e.Sp }
func (e *Test) exprNode()        {}

// GetAttr is attribute access: `expr.name`.
type GetAttr struct {
	Expr Expr
	Name string
	Sp   lexer.Span
}

func (e *GetAttr) Span() lexer.Span { return e.Sp }
func (e *GetAttr) exprNode()        {}

// GetItem is subscript access: `expr[index]`.
type GetItem struct {
	Expr  Expr
	Index Expr
	Sp    lexer.Span
}

func (e *GetItem) Span() lexer.Span { return e.Sp }
func (e *GetItem) exprNode()        {}

// CallKind distinguishes what a Call invokes.
type CallKind int

const (
	CallFunction CallKind = iota // a global function
	CallMethod                   // expr.name(args)
	CallObject                   // expr(args) where expr is callable
	CallBlock                    // super()
)

// Call is a function/method/object invocation.
type Call struct {
	Kind   CallKind
	Func   Expr // receiver for Method/Object calls; nil for Function/Block
	Name   string
	Args   []Expr
	Kwargs []Kwarg
	Sp     lexer.Span
}

func (e *Call) Span() lexer.Span { return e.Sp }
func (e *Call) exprNode()        {}

// List is a list literal.
type List struct {
	Items []Expr
	Sp    lexer.Span
}

func (e *List) Span() lexer.Span { return e.Sp }
func (e *List) exprNode()        {}

// MapEntry is one `key: value` pair inside a Map literal.
type MapEntry struct {
	Key   Expr
	Value Expr
}

// Map is a map/dict literal.
type Map struct {
	Entries []MapEntry
	Sp      lexer.Span
}

func (e *Map) Span() lexer.Span { return e.Sp }
func (e *Map) exprNode()        {}

// ---- Assignment targets ----

// AssignTarget is the left-hand side of a `for`/`set`/`with` binding:
// either a single name or a list-unpack pattern.
type AssignTarget struct {
	Name string   // used when List is nil
	List []string // used for `for a, b in ...` unpacking
	Sp   lexer.Span
}

// ---- Statements ----

// EmitExpr emits the rendered value of an expression into the output
// (a bare `{{ expr }}`).
type EmitExpr struct {
	Expr Expr
	Sp   lexer.Span
}

func (s *EmitExpr) Span() lexer.Span { return s.Sp }
func (s *EmitExpr) stmtNode()        {}

// EmitRaw emits literal template text verbatim.
type EmitRaw struct {
	Data string
	Sp   lexer.Span
}

func (s *EmitRaw) Span() lexer.Span { return s.Sp }
func (s *EmitRaw) stmtNode()        {}

// ForLoop is `{% for target in iter [if filter] [recursive] %} body
// [{% else %} elseBody] {% endfor %}`.
type ForLoop struct {
	Target    AssignTarget
	Iter      Expr
	FilterExpr Expr // non-nil when a loop-level `if` filters items
	Recursive bool
	Body      []Stmt
	ElseBody  []Stmt
	Sp        lexer.Span
}

func (s *ForLoop) Span() lexer.Span { return s.Sp }
func (s *ForLoop) stmtNode()        {}

// CondBranch is one `if`/`elif` arm.
type CondBranch struct {
	Test Expr
	Body []Stmt
}

// IfCond is `{% if %}...{% elif %}...{% else %}...{% endif %}`.
type IfCond struct {
	Branches []CondBranch
	ElseBody []Stmt
	Sp       lexer.Span
}

func (s *IfCond) Span() lexer.Span { return s.Sp }
func (s *IfCond) stmtNode()        {}

// WithBlock is `{% with name = value, ... %} body {% endwith %}`,
// introducing a new scoped frame.
type WithBlock struct {
	Targets []AssignTarget
	Values  []Expr
	Body    []Stmt
	Sp      lexer.Span
}

func (s *WithBlock) Span() lexer.Span { return s.Sp }
func (s *WithBlock) stmtNode()        {}

// SetStmt is `{% set name = value %}` or `{% set name %}body{% endset %}`.
type SetStmt struct {
	Target AssignTarget
	Value  Expr  // non-nil for the expression form
	Body   []Stmt // non-nil for the block-capture form
	Filter string // optional filter applied to a captured block, e.g. `{% set x | upper %}`
	Sp     lexer.Span
}

func (s *SetStmt) Span() lexer.Span { return s.Sp }
func (s *SetStmt) stmtNode()        {}

// Block is a named, overridable template section.
type Block struct {
	Name     string
	Body     []Stmt
	Scoped   bool
	Required bool
	Sp       lexer.Span
}

func (s *Block) Span() lexer.Span { return s.Sp }
func (s *Block) stmtNode()        {}

// Extends declares the parent template this template inherits from.
type Extends struct {
	Name string
	Sp   lexer.Span
}

func (s *Extends) Span() lexer.Span { return s.Sp }
func (s *Extends) stmtNode()        {}

// Include pulls in and renders another template in place.
type Include struct {
	Name          Expr
	IgnoreMissing bool
	Sp            lexer.Span
}

func (s *Include) Span() lexer.Span { return s.Sp }
func (s *Include) stmtNode()        {}

// Import binds names exported by another template into scope.
type Import struct {
	Template Expr
	Target   string // alias for `{% import "x" as name %}`
	Names    []string // explicit names for `{% from "x" import a, b %}`
	WithContext bool
	Sp       lexer.Span
}

func (s *Import) Span() lexer.Span { return s.Sp }
func (s *Import) stmtNode()        {}

// AutoEscape is `{% autoescape mode %} body {% endautoescape %}`.
type AutoEscape struct {
	Mode Expr
	Body []Stmt
	Sp   lexer.Span
}

func (s *AutoEscape) Span() lexer.Span { return s.Sp }
func (s *AutoEscape) stmtNode()        {}

// FilterBlock is `{% filter name %} body {% endfilter %}`.
type FilterBlock struct {
	Name string
	Args []Expr
	Body []Stmt
	Sp   lexer.Span
}

func (s *FilterBlock) Span() lexer.Span { return s.Sp }
func (s *FilterBlock) stmtNode()        {}

// Macro is `{% macro name(args) %} body {% endmacro %}`.
type Macro struct {
	Name     string
	Params   []string
	Defaults []Expr // parallel to the trailing Params with default values; nil entries mean required
	Body     []Stmt
	Sp       lexer.Span
}

func (s *Macro) Span() lexer.Span { return s.Sp }
func (s *Macro) stmtNode()        {}
