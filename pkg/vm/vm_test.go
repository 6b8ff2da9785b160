package vm

import (
	"strings"
	"testing"

	"github.com/kristofer/mjcore/pkg/bytecode"
	"github.com/kristofer/mjcore/pkg/compiler"
	"github.com/kristofer/mjcore/pkg/parser"
	"github.com/kristofer/mjcore/pkg/value"
)

// fakeResolver is a minimal Resolver double: globals from a map,
// `upper`/`default` filters, an `is even` test, a `length` function,
// and an in-memory template registry for extends/include.
type fakeResolver struct {
	globals   map[string]value.Value
	templates map[string]*Template
	autoEsc   bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		globals:   map[string]value.Value{},
		templates: map[string]*Template{},
		autoEsc:   true,
	}
}

func (r *fakeResolver) LookupGlobal(name string) (value.Value, bool) {
	v, ok := r.globals[name]
	return v, ok
}

func (r *fakeResolver) ApplyFilter(name string, v value.Value, args []value.Value) (value.Value, error) {
	switch name {
	case "upper":
		return value.FromString(strings.ToUpper(v.String())), nil
	case "default":
		if v.IsUndefined() && len(args) > 0 {
			return args[0], nil
		}
		return v, nil
	default:
		return value.Undefined(), nil
	}
}

func (r *fakeResolver) PerformTest(name string, v value.Value, args []value.Value) (bool, error) {
	switch name {
	case "even":
		i, _ := v.AsInt()
		return i%2 == 0, nil
	default:
		return false, nil
	}
}

func (r *fakeResolver) CallFunction(name string, args []value.Value) (value.Value, error) {
	switch name {
	case "length":
		n, _ := args[0].Len()
		return value.FromInt(int64(n)), nil
	default:
		return value.Undefined(), nil
	}
}

func (r *fakeResolver) CallMethod(recv value.Value, name string, args []value.Value) (value.Value, error) {
	return value.Undefined(), nil
}

func (r *fakeResolver) GetTemplate(name string) (*Template, error) {
	if t, ok := r.templates[name]; ok {
		return t, nil
	}
	return nil, errNotFound(name)
}

func (r *fakeResolver) AutoEscapeDefault(name string) bool { return r.autoEsc }

type errNotFound string

func (e errNotFound) Error() string { return "template not found: " + string(e) }

func compileTemplate(t *testing.T, name, src string) *Template {
	t.Helper()
	p := parser.New(src)
	tmpl, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ins, blocks, err := compiler.Compile(tmpl, name)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return &Template{Name: name, Instructions: ins, Blocks: blocks}
}

func render(t *testing.T, src string, root map[string]value.Value) string {
	t.Helper()
	tmpl := compileTemplate(t, "t", src)
	r := newFakeResolver()
	for k, v := range root {
		r.globals[k] = v
	}
	m := New(r, 0)
	out, err := m.Render(tmpl, nil)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	return out
}

func TestRenderEmitRawAndExpr(t *testing.T) {
	out := render(t, "hello {{ name }}!", map[string]value.Value{"name": value.FromString("world")})
	if out != "hello world!" {
		t.Errorf("expected %q, got %q", "hello world!", out)
	}
}

func TestRenderAutoEscapesUnsafeStrings(t *testing.T) {
	out := render(t, "{{ v }}", map[string]value.Value{"v": value.FromString("<b>")})
	if out != "&lt;b&gt;" {
		t.Errorf("expected escaped output, got %q", out)
	}
}

func TestRenderSafeStringSkipsEscaping(t *testing.T) {
	out := render(t, "{{ v }}", map[string]value.Value{"v": value.FromSafeString("<b>")})
	if out != "<b>" {
		t.Errorf("expected unescaped output, got %q", out)
	}
}

func TestRenderIfElse(t *testing.T) {
	out := render(t, "{% if flag %}yes{% else %}no{% endif %}", map[string]value.Value{"flag": value.FromBool(true)})
	if out != "yes" {
		t.Errorf("expected %q, got %q", "yes", out)
	}
	out = render(t, "{% if flag %}yes{% else %}no{% endif %}", map[string]value.Value{"flag": value.FromBool(false)})
	if out != "no" {
		t.Errorf("expected %q, got %q", "no", out)
	}
}

func TestRenderForLoopWithLoopVar(t *testing.T) {
	items := value.FromSlice([]value.Value{value.FromInt(1), value.FromInt(2), value.FromInt(3)})
	out := render(t, "{% for x in items %}{{ loop.index }}:{{ x }}{% if not loop.last %},{% endif %}{% endfor %}",
		map[string]value.Value{"items": items})
	if out != "1:1,2:2,3:3" {
		t.Errorf("expected %q, got %q", "1:1,2:2,3:3", out)
	}
}

func TestRenderForLoopWithFilter(t *testing.T) {
	items := value.FromSlice([]value.Value{value.FromInt(1), value.FromInt(2), value.FromInt(3), value.FromInt(4)})
	out := render(t, "{% for x in items if x is even %}{{ x }}{% endfor %}", map[string]value.Value{"items": items})
	if out != "24" {
		t.Errorf("expected %q, got %q", "24", out)
	}
}

func TestRenderForElseOnEmpty(t *testing.T) {
	out := render(t, "{% for x in items %}{{ x }}{% else %}empty{% endfor %}",
		map[string]value.Value{"items": value.FromSlice(nil)})
	if out != "empty" {
		t.Errorf("expected %q, got %q", "empty", out)
	}
}

func TestRenderFilterAndTest(t *testing.T) {
	out := render(t, "{{ name|upper }} {{ 4 is even }}", map[string]value.Value{"name": value.FromString("ada")})
	if out != "ADA true" {
		t.Errorf("expected %q, got %q", "ADA true", out)
	}
}

func TestRenderShortCircuitAnd(t *testing.T) {
	out := render(t, "{{ a and b }}", map[string]value.Value{"a": value.FromBool(false), "b": value.FromString("unused")})
	if out != "false" {
		t.Errorf("expected %q, got %q", "false", out)
	}
}

func TestRenderSetBlockCapture(t *testing.T) {
	out := render(t, "{% set x %}captured{% endset %}{{ x }}{{ x }}", nil)
	if out != "capturedcaptured" {
		t.Errorf("expected %q, got %q", "capturedcaptured", out)
	}
}

func TestRenderBlockInheritanceWithSuper(t *testing.T) {
	r := newFakeResolver()
	parent := compileTemplate(t, "parent.html", "[{% block content %}base{% endblock %}]")
	r.templates["parent.html"] = parent

	p := parser.New(`{% extends "parent.html" %}{% block content %}child-{{ super() }}{% endblock %}`)
	childAST, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	ins, blocks, err := compiler.Compile(childAST, "child.html")
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	child := &Template{Name: "child.html", Instructions: ins, Blocks: blocks, Extends: "parent.html"}

	m := New(r, 0)
	out, err := m.Render(child, nil)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if out != "[child-base]" {
		t.Errorf("expected %q, got %q", "[child-base]", out)
	}
}

func TestRenderOutOfFuel(t *testing.T) {
	items := make([]value.Value, 1000)
	for i := range items {
		items[i] = value.FromInt(int64(i))
	}
	tmpl := compileTemplate(t, "t", "{% for x in items %}{{ x }}{% endfor %}")
	r := newFakeResolver()
	r.globals["items"] = value.FromSlice(items)
	m := New(r, 5)
	if _, err := m.Render(tmpl, nil); err == nil {
		t.Errorf("expected out-of-fuel error")
	}
}

func TestDisassembleSmokeForDebugging(t *testing.T) {
	tmpl := compileTemplate(t, "t", "{{ 1 + 2 }}")
	out := bytecode.Disassemble(tmpl.Instructions)
	if !strings.Contains(out, "ADD") {
		t.Errorf("expected disassembly to contain ADD: %s", out)
	}
}
