package parser

import (
	"testing"

	"github.com/kristofer/mjcore/pkg/ast"
)

func parseOK(t *testing.T, src string) *ast.Template {
	t.Helper()
	p := New(src)
	tmpl, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error for %q: %v", src, err)
	}
	return tmpl
}

func TestParseEmitRawAndExpr(t *testing.T) {
	tmpl := parseOK(t, `hi {{ name }}!`)
	if len(tmpl.Body) != 3 {
		t.Fatalf("expected 3 statements, got %d: %+v", len(tmpl.Body), tmpl.Body)
	}
	if _, ok := tmpl.Body[0].(*ast.EmitRaw); !ok {
		t.Errorf("expected EmitRaw, got %T", tmpl.Body[0])
	}
	emit, ok := tmpl.Body[1].(*ast.EmitExpr)
	if !ok {
		t.Fatalf("expected EmitExpr, got %T", tmpl.Body[1])
	}
	v, ok := emit.Expr.(*ast.Var)
	if !ok || v.Name != "name" {
		t.Errorf("expected Var(name), got %+v", emit.Expr)
	}
}

func TestParseIfElif(t *testing.T) {
	tmpl := parseOK(t, `{% if a %}A{% elif b %}B{% else %}C{% endif %}`)
	node, ok := tmpl.Body[0].(*ast.IfCond)
	if !ok {
		t.Fatalf("expected IfCond, got %T", tmpl.Body[0])
	}
	if len(node.Branches) != 2 {
		t.Fatalf("expected 2 branches, got %d", len(node.Branches))
	}
	if len(node.ElseBody) != 1 {
		t.Fatalf("expected 1 else statement, got %d", len(node.ElseBody))
	}
}

func TestParseForLoopWithFilterAndElse(t *testing.T) {
	tmpl := parseOK(t, `{% for x in items if x.ok %}{{ x }}{% else %}empty{% endfor %}`)
	node, ok := tmpl.Body[0].(*ast.ForLoop)
	if !ok {
		t.Fatalf("expected ForLoop, got %T", tmpl.Body[0])
	}
	if node.Target.Name != "x" {
		t.Errorf("expected target x, got %+v", node.Target)
	}
	if node.FilterExpr == nil {
		t.Errorf("expected loop filter expression to be parsed")
	}
	if len(node.ElseBody) != 1 {
		t.Errorf("expected else body")
	}
}

func TestParseForUnpack(t *testing.T) {
	tmpl := parseOK(t, `{% for k, v in items %}{{ k }}{% endfor %}`)
	node := tmpl.Body[0].(*ast.ForLoop)
	if len(node.Target.List) != 2 || node.Target.List[0] != "k" || node.Target.List[1] != "v" {
		t.Errorf("expected unpack target [k v], got %+v", node.Target)
	}
}

func TestOperatorPrecedence(t *testing.T) {
	tmpl := parseOK(t, `{{ 1 + 2 * 3 }}`)
	emit := tmpl.Body[0].(*ast.EmitExpr)
	bin, ok := emit.Expr.(*ast.BinOp)
	if !ok || bin.Op != ast.BinAdd {
		t.Fatalf("expected top-level Add, got %+v", emit.Expr)
	}
	right, ok := bin.Right.(*ast.BinOp)
	if !ok || right.Op != ast.BinMul {
		t.Fatalf("expected right side Mul, got %+v", bin.Right)
	}
}

func TestPowerIsRightAssociative(t *testing.T) {
	tmpl := parseOK(t, `{{ 2 ** 3 ** 2 }}`)
	emit := tmpl.Body[0].(*ast.EmitExpr)
	top, ok := emit.Expr.(*ast.BinOp)
	if !ok || top.Op != ast.BinPow {
		t.Fatalf("expected Pow, got %+v", emit.Expr)
	}
	if _, ok := top.Right.(*ast.BinOp); !ok {
		t.Errorf("expected right-associative nesting on the right side")
	}
	if _, ok := top.Left.(*ast.Const); !ok {
		t.Errorf("expected a plain const on the left side")
	}
}

func TestTernaryIfElse(t *testing.T) {
	tmpl := parseOK(t, `{{ "yes" if cond else "no" }}`)
	emit := tmpl.Body[0].(*ast.EmitExpr)
	ifx, ok := emit.Expr.(*ast.IfExpr)
	if !ok {
		t.Fatalf("expected IfExpr, got %+v", emit.Expr)
	}
	if ifx.False == nil {
		t.Errorf("expected else branch to be present")
	}
}

func TestFilterAndTestChain(t *testing.T) {
	tmpl := parseOK(t, `{{ value|default("x")|upper is defined }}`)
	emit := tmpl.Body[0].(*ast.EmitExpr)
	test, ok := emit.Expr.(*ast.Test)
	if !ok || test.Name != "defined" {
		t.Fatalf("expected Test(defined), got %+v", emit.Expr)
	}
	upper, ok := test.Expr.(*ast.Filter)
	if !ok || upper.Name != "upper" {
		t.Fatalf("expected Filter(upper), got %+v", test.Expr)
	}
	def, ok := upper.Expr.(*ast.Filter)
	if !ok || def.Name != "default" {
		t.Fatalf("expected Filter(default), got %+v", upper.Expr)
	}
	if len(def.Args) != 1 {
		t.Errorf("expected 1 default arg, got %d", len(def.Args))
	}
}

func TestGetAttrGetItemAndCall(t *testing.T) {
	tmpl := parseOK(t, `{{ user.profile["bio"].strip() }}`)
	emit := tmpl.Body[0].(*ast.EmitExpr)
	call, ok := emit.Expr.(*ast.Call)
	if !ok || call.Kind != ast.CallMethod || call.Name != "strip" {
		t.Fatalf("expected method Call(strip), got %+v", emit.Expr)
	}
	item, ok := call.Func.(*ast.GetItem)
	if !ok {
		t.Fatalf("expected GetItem, got %+v", call.Func)
	}
	attr, ok := item.Expr.(*ast.GetAttr)
	if !ok || attr.Name != "profile" {
		t.Fatalf("expected GetAttr(profile), got %+v", item.Expr)
	}
}

func TestListAndMapLiterals(t *testing.T) {
	tmpl := parseOK(t, `{{ [1, 2, 3] }}{{ {"a": 1, "b": 2} }}`)
	list := tmpl.Body[0].(*ast.EmitExpr).Expr.(*ast.List)
	if len(list.Items) != 3 {
		t.Errorf("expected 3 list items, got %d", len(list.Items))
	}
	m := tmpl.Body[1].(*ast.EmitExpr).Expr.(*ast.Map)
	if len(m.Entries) != 2 {
		t.Errorf("expected 2 map entries, got %d", len(m.Entries))
	}
}

func TestBlockExtendsInclude(t *testing.T) {
	tmpl := parseOK(t, `{% extends "base.html" %}{% block content %}hi{% endblock %}{% include "partial.html" ignore missing %}`)
	ext, ok := tmpl.Body[0].(*ast.Extends)
	if !ok || ext.Name != "base.html" {
		t.Fatalf("expected Extends(base.html), got %+v", tmpl.Body[0])
	}
	block, ok := tmpl.Body[1].(*ast.Block)
	if !ok || block.Name != "content" {
		t.Fatalf("expected Block(content), got %+v", tmpl.Body[1])
	}
	inc, ok := tmpl.Body[2].(*ast.Include)
	if !ok || !inc.IgnoreMissing {
		t.Fatalf("expected Include with ignore-missing, got %+v", tmpl.Body[2])
	}
}

func TestWithAndSet(t *testing.T) {
	tmpl := parseOK(t, `{% with x = 1, y = 2 %}{% set z = x + y %}{{ z }}{% endwith %}`)
	with, ok := tmpl.Body[0].(*ast.WithBlock)
	if !ok || len(with.Targets) != 2 {
		t.Fatalf("expected WithBlock with 2 bindings, got %+v", tmpl.Body[0])
	}
	set, ok := with.Body[0].(*ast.SetStmt)
	if !ok || set.Target.Name != "z" {
		t.Fatalf("expected SetStmt(z), got %+v", with.Body[0])
	}
}

func TestMacroWithDefaults(t *testing.T) {
	tmpl := parseOK(t, `{% macro greet(name, greeting="hello") %}{{ greeting }}, {{ name }}{% endmacro %}`)
	m, ok := tmpl.Body[0].(*ast.Macro)
	if !ok || m.Name != "greet" {
		t.Fatalf("expected Macro(greet), got %+v", tmpl.Body[0])
	}
	if len(m.Params) != 2 || m.Defaults[0] != nil || m.Defaults[1] == nil {
		t.Errorf("expected second param to carry a default, got %+v", m.Defaults)
	}
}

func TestNotInOperator(t *testing.T) {
	tmpl := parseOK(t, `{{ x not in items }}`)
	emit := tmpl.Body[0].(*ast.EmitExpr)
	if _, ok := emit.Expr.(*ast.UnaryOp); !ok {
		t.Fatalf("expected UnaryOp(not, In(...)), got %+v", emit.Expr)
	}
}

func TestParseErrorsAccumulate(t *testing.T) {
	p := New(`{% if %}`)
	_, err := p.Parse()
	if err == nil {
		t.Fatalf("expected a parse error for a malformed if tag")
	}
}
