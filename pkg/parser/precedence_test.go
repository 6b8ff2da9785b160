package parser

import (
	"testing"

	"github.com/kristofer/mjcore/pkg/ast"
)

// TestAndOrPrecedence verifies `and` binds tighter than `or`.
func TestAndOrPrecedence(t *testing.T) {
	tmpl := parseOK(t, `{{ a or b and c }}`)
	top, ok := tmpl.Body[0].(*ast.EmitExpr).Expr.(*ast.BinOp)
	if !ok || top.Op != ast.BinScOr {
		t.Fatalf("expected top-level or, got %+v", tmpl.Body[0])
	}
	right, ok := top.Right.(*ast.BinOp)
	if !ok || right.Op != ast.BinScAnd {
		t.Fatalf("expected right side and, got %+v", top.Right)
	}
}

// TestNotBindsTighterThanAnd verifies `not` binds tighter than `and`/`or`.
func TestNotBindsTighterThanAnd(t *testing.T) {
	tmpl := parseOK(t, `{{ not a and b }}`)
	top, ok := tmpl.Body[0].(*ast.EmitExpr).Expr.(*ast.BinOp)
	if !ok || top.Op != ast.BinScAnd {
		t.Fatalf("expected top-level and, got %+v", tmpl.Body[0])
	}
	if _, ok := top.Left.(*ast.UnaryOp); !ok {
		t.Fatalf("expected left side not(a), got %+v", top.Left)
	}
}

// TestComparisonBindsTighterThanAnd verifies comparisons bind tighter
// than the boolean connectives.
func TestComparisonBindsTighterThanAnd(t *testing.T) {
	tmpl := parseOK(t, `{{ a == 1 and b != 2 }}`)
	top, ok := tmpl.Body[0].(*ast.EmitExpr).Expr.(*ast.BinOp)
	if !ok || top.Op != ast.BinScAnd {
		t.Fatalf("expected top-level and, got %+v", tmpl.Body[0])
	}
	left, ok := top.Left.(*ast.BinOp)
	if !ok || left.Op != ast.BinEq {
		t.Fatalf("expected left side ==, got %+v", top.Left)
	}
	right, ok := top.Right.(*ast.BinOp)
	if !ok || right.Op != ast.BinNe {
		t.Fatalf("expected right side !=, got %+v", top.Right)
	}
}

// TestConcatBindsLooserThanAdditive verifies `~` binds looser than
// `+`/`-` so that `"x" ~ 1 + 1` concatenates "x" with 2, not "x1"+1.
func TestConcatBindsLooserThanAdditive(t *testing.T) {
	tmpl := parseOK(t, `{{ "x" ~ 1 + 1 }}`)
	top, ok := tmpl.Body[0].(*ast.EmitExpr).Expr.(*ast.BinOp)
	if !ok || top.Op != ast.BinConcat {
		t.Fatalf("expected top-level concat, got %+v", tmpl.Body[0])
	}
	right, ok := top.Right.(*ast.BinOp)
	if !ok || right.Op != ast.BinAdd {
		t.Fatalf("expected right side +, got %+v", top.Right)
	}
}

// TestMultiplicativeBindsTighterThanAdditive verifies the classic
// `*`/`/` over `+`/`-` precedence and left-associativity.
func TestMultiplicativeBindsTighterThanAdditive(t *testing.T) {
	tmpl := parseOK(t, `{{ 10 - 2 * 3 // 2 }}`)
	top, ok := tmpl.Body[0].(*ast.EmitExpr).Expr.(*ast.BinOp)
	if !ok || top.Op != ast.BinSub {
		t.Fatalf("expected top-level sub, got %+v", tmpl.Body[0])
	}
	right, ok := top.Right.(*ast.BinOp)
	if !ok || right.Op != ast.BinFloorDiv {
		t.Fatalf("expected right side //, got %+v", top.Right)
	}
	if _, ok := right.Left.(*ast.BinOp); !ok {
		t.Fatalf("expected left-associative (2*3) on the left of //, got %+v", right.Left)
	}
}

// TestUnaryMinusBindsTighterThanMultiplicative ensures `-2 * 3` parses
// as `(-2) * 3`.
func TestUnaryMinusBindsTighterThanMultiplicative(t *testing.T) {
	tmpl := parseOK(t, `{{ -2 * 3 }}`)
	top, ok := tmpl.Body[0].(*ast.EmitExpr).Expr.(*ast.BinOp)
	if !ok || top.Op != ast.BinMul {
		t.Fatalf("expected top-level mul, got %+v", tmpl.Body[0])
	}
	if _, ok := top.Left.(*ast.UnaryOp); !ok {
		t.Fatalf("expected left side to be unary neg, got %+v", top.Left)
	}
}

// TestPostfixBindsTighterThanUnaryMinus ensures `-a.b` negates the
// attribute access rather than the other way around.
func TestPostfixBindsTighterThanUnaryMinus(t *testing.T) {
	tmpl := parseOK(t, `{{ -a.b }}`)
	neg, ok := tmpl.Body[0].(*ast.EmitExpr).Expr.(*ast.UnaryOp)
	if !ok || neg.Op != ast.UnaryNeg {
		t.Fatalf("expected top-level unary neg, got %+v", tmpl.Body[0])
	}
	if _, ok := neg.Expr.(*ast.GetAttr); !ok {
		t.Fatalf("expected operand to be GetAttr, got %+v", neg.Expr)
	}
}
