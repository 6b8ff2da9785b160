package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/mjcore/pkg/value"
)

func TestRenderStringBasic(t *testing.T) {
	env := New()
	out, err := env.RenderString("hello {{ name }}!", map[string]value.Value{"name": value.FromString("world")})
	require.NoError(t, err)
	assert.Equal(t, "hello world!", out)
}

func TestBuiltinFilters(t *testing.T) {
	env := New()
	cases := []struct {
		src  string
		root map[string]value.Value
		want string
	}{
		{"{{ name|upper }}", map[string]value.Value{"name": value.FromString("ada")}, "ADA"},
		{"{{ name|capitalize }}", map[string]value.Value{"name": value.FromString("ada")}, "Ada"},
		{"{{ items|length }}", map[string]value.Value{"items": value.FromSlice([]value.Value{value.FromInt(1), value.FromInt(2)})}, "2"},
		{"{{ items|join(', ') }}", map[string]value.Value{"items": value.FromSlice([]value.Value{value.FromString("a"), value.FromString("b")})}, "a, b"},
		{"{{ missing|default('x') }}", nil, "x"},
		{"{{ items|first }}", map[string]value.Value{"items": value.FromSlice([]value.Value{value.FromInt(9), value.FromInt(2)})}, "9"},
		{"{{ items|sort|join(',') }}", map[string]value.Value{"items": value.FromSlice([]value.Value{value.FromInt(3), value.FromInt(1), value.FromInt(2)})}, "1,2,3"},
	}
	for _, c := range cases {
		out, err := env.RenderString(c.src, c.root)
		require.NoError(t, err)
		assert.Equal(t, c.want, out, c.src)
	}
}

func TestBuiltinTests(t *testing.T) {
	env := New()
	out, err := env.RenderString("{{ 4 is even }} {{ 3 is odd }} {{ x is defined }}", map[string]value.Value{"x": value.FromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "true true true", out)
}

func TestRangeGlobal(t *testing.T) {
	env := New()
	out, err := env.RenderString("{% for i in range(3) %}{{ i }}{% endfor %}", nil)
	require.NoError(t, err)
	assert.Equal(t, "012", out)
}

func TestForElseOnEmpty(t *testing.T) {
	env := New()
	out, err := env.RenderString("{% for x in items %}{{ x }}{% else %}empty{% endfor %}",
		map[string]value.Value{"items": value.FromSlice(nil)})
	require.NoError(t, err)
	assert.Equal(t, "empty", out)
}

func TestForElseSkippedWhenNonEmpty(t *testing.T) {
	env := New()
	out, err := env.RenderString("{% for x in items %}{{ x }}{% else %}empty{% endfor %}",
		map[string]value.Value{"items": value.FromSlice([]value.Value{value.FromInt(1), value.FromInt(2)})})
	require.NoError(t, err)
	assert.Equal(t, "12", out)
}

func TestAutoEscapeDefaultsByExtension(t *testing.T) {
	env := New()
	require.NoError(t, env.AddTemplate("page.html", "{{ v }}"))
	require.NoError(t, env.AddTemplate("page.txt", "{{ v }}"))

	out, err := env.Render("page.html", map[string]value.Value{"v": value.FromString("<b>")})
	require.NoError(t, err)
	assert.Equal(t, "&lt;b&gt;", out)

	out, err = env.Render("page.txt", map[string]value.Value{"v": value.FromString("<b>")})
	require.NoError(t, err)
	assert.Equal(t, "<b>", out)
}

func TestGetTemplateNotFound(t *testing.T) {
	env := New()
	_, err := env.GetTemplate("missing.html")
	assert.Error(t, err)
}

func TestMapLoaderResolvesOnMiss(t *testing.T) {
	env := New()
	env.SetLoader(NewMapLoader(map[string]string{
		"greeting.txt": "hi {{ name }}",
	}))
	out, err := env.Render("greeting.txt", map[string]value.Value{"name": value.FromString("ada")})
	require.NoError(t, err)
	assert.Equal(t, "hi ada", out)
}

func TestExtendsAcrossRegistry(t *testing.T) {
	env := New()
	require.NoError(t, env.AddTemplate("base.html", "[{% block content %}base{% endblock %}]"))
	require.NoError(t, env.AddTemplate("child.html", `{% extends "base.html" %}{% block content %}child-{{ super() }}{% endblock %}`))

	out, err := env.Render("child.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "[child-base]", out)
}

func TestIncludeResolvesThroughRegistry(t *testing.T) {
	env := New()
	require.NoError(t, env.AddTemplate("partial.html", "partial:{{ v }}"))
	require.NoError(t, env.AddTemplate("main.html", `{% include "partial.html" %}`))

	out, err := env.Render("main.html", map[string]value.Value{"v": value.FromString("x")})
	require.NoError(t, err)
	assert.Equal(t, "partial:x", out)
}

func TestFuelExhaustionSurfacesAsError(t *testing.T) {
	env := New()
	env.SetFuel(5)
	_, err := env.RenderString("{% for i in range(1000) %}{{ i }}{% endfor %}", nil)
	assert.Error(t, err)
}

func TestUnknownFilterIsAnError(t *testing.T) {
	env := New()
	_, err := env.RenderString("{{ v|nosuchfilter }}", map[string]value.Value{"v": value.FromInt(1)})
	assert.Error(t, err)
}

func TestDictMethodHelpers(t *testing.T) {
	env := New()
	m := value.NewOrderedMap()
	m.Set(value.FromString("a"), value.FromInt(1))
	out, err := env.RenderString("{{ d.get('a') }}-{{ d.get('missing', 'z') }}", map[string]value.Value{"d": value.FromMap(m)})
	require.NoError(t, err)
	assert.Equal(t, "1-z", out)
}
