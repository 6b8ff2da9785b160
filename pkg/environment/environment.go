// Package environment ties the engine together: the template registry,
// filter/test/global registries, the auto-escape policy, and the debug
// flag. It implements vm.Resolver so a vm.VM can drive rendering
// directly against it.
package environment

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kristofer/mjcore/pkg/ast"
	"github.com/kristofer/mjcore/pkg/compiler"
	"github.com/kristofer/mjcore/pkg/errkind"
	"github.com/kristofer/mjcore/pkg/parser"
	"github.com/kristofer/mjcore/pkg/value"
	"github.com/kristofer/mjcore/pkg/vm"
)

// FilterFunc consumes (state, value, args...) and produces a Value or
// an error.
type FilterFunc func(state value.CallState, v value.Value, args []value.Value) (value.Value, error)

// TestFunc returns a boolean verdict for `is name` expressions.
type TestFunc func(state value.CallState, v value.Value, args []value.Value) (bool, error)

// GlobalFunc backs `{{ name(args) }}` calls to a registered global
// function (as opposed to a plain global value).
type GlobalFunc func(state value.CallState, args []value.Value) (value.Value, error)

// AutoEscapePolicy decides whether a freshly loaded template defaults
// to HTML auto-escaping, based on its name.
type AutoEscapePolicy func(templateName string) bool

// DefaultAutoEscapePolicy matches on the common HTML/XML extensions,
// following Jinja2's own default policy.
func DefaultAutoEscapePolicy(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".html", ".htm", ".xml", ".xhtml"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Environment holds everything templates are resolved and rendered
// against: a compile-once-on-insert template registry, filter/test/
// global registries, an auto-escape policy, a fuel budget, and a debug
// flag. It is safe to share across goroutines for rendering once setup
// (registration) has finished; registration itself is guarded by a
// mutex but is not meant to race with concurrent renders.
type Environment struct {
	mu sync.RWMutex

	loader     TemplateLoader
	templates  map[string]*vm.Template
	filters    map[string]FilterFunc
	tests      map[string]TestFunc
	globals    map[string]value.Value
	globalFns  map[string]GlobalFunc
	autoEscape AutoEscapePolicy

	debug bool
	fuel  int
	log   *logrus.Logger
}

// New returns an Environment with the built-in filters, tests and
// globals registered.
func New() *Environment {
	env := &Environment{
		templates:  make(map[string]*vm.Template),
		filters:    make(map[string]FilterFunc),
		tests:      make(map[string]TestFunc),
		globals:    make(map[string]value.Value),
		globalFns:  make(map[string]GlobalFunc),
		autoEscape: DefaultAutoEscapePolicy,
		log:        logrus.New(),
	}
	env.log.SetLevel(logrus.WarnLevel)
	registerBuiltinFilters(env)
	registerBuiltinTests(env)
	registerBuiltinGlobals(env)
	return env
}

// SetLoader installs the TemplateLoader consulted on a registry miss.
func (env *Environment) SetLoader(l TemplateLoader) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.loader = l
}

// SetAutoEscapePolicy overrides the default extension-based policy.
func (env *Environment) SetAutoEscapePolicy(p AutoEscapePolicy) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.autoEscape = p
}

// SetDebug toggles debug mode: when on, the log level drops to Debug
// and each render logs every executed instruction through a
// vm.LogTracer. No source or context snapshot is attached to errors.
func (env *Environment) SetDebug(on bool) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.debug = on
	if on {
		env.log.SetLevel(logrus.DebugLevel)
	} else {
		env.log.SetLevel(logrus.WarnLevel)
	}
}

// SetFuel sets the per-render instruction budget; zero or negative
// means unlimited.
func (env *Environment) SetFuel(n int) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.fuel = n
}

// Logger returns the environment's structured logger, for callers
// (e.g. cmd/mjcore) that want to configure its output or level
// directly.
func (env *Environment) Logger() *logrus.Logger { return env.log }

// AddTemplate compiles src under name and inserts it into the
// registry, replacing any existing entry of the same name. Templates
// are compiled once on insertion; later unregistering a
// filter/test/global does not invalidate templates already compiled.
func (env *Environment) AddTemplate(name, src string) error {
	p := parser.New(src)
	tmpl, err := p.Parse()
	if err != nil {
		return errors.Wrapf(err, "parsing template %q", name)
	}
	ins, blocks, err := compiler.Compile(tmpl, name)
	if err != nil {
		return errors.Wrapf(err, "compiling template %q", name)
	}
	t := &vm.Template{Name: name, Instructions: ins, Blocks: blocks, Extends: extendsName(tmpl)}

	env.mu.Lock()
	env.templates[name] = t
	env.mu.Unlock()
	env.log.WithField("template", name).Debug("template registered")
	return nil
}

// extendsName returns the parent template name a top-level
// {% extends %} names, or "" if the template body has none. The
// compiler itself only emits LoadBlocks for bookkeeping; vm.resolveChain
// needs the parent's name before running any bytecode, so it's pulled
// straight out of the AST here instead.
func extendsName(tmpl *ast.Template) string {
	for _, s := range tmpl.Body {
		if ext, ok := s.(*ast.Extends); ok {
			return ext.Name
		}
	}
	return ""
}

func (env *Environment) shouldAutoEscape(name string) bool {
	env.mu.RLock()
	policy := env.autoEscape
	env.mu.RUnlock()
	if policy == nil {
		return DefaultAutoEscapePolicy(name)
	}
	return policy(name)
}

// RemoveTemplate drops name from the registry; it does not affect any
// in-flight render of a template that had already resolved name into
// its extends/include chain.
func (env *Environment) RemoveTemplate(name string) {
	env.mu.Lock()
	defer env.mu.Unlock()
	delete(env.templates, name)
}

// AddFilter registers a filter under name, replacing any existing
// registration.
func (env *Environment) AddFilter(name string, f FilterFunc) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.filters[name] = f
}

// AddTest registers a test under name.
func (env *Environment) AddTest(name string, t TestFunc) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.tests[name] = t
}

// AddGlobal registers a plain global value (e.g. a host-provided
// config constant) under name.
func (env *Environment) AddGlobal(name string, v value.Value) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.globals[name] = v
}

// AddGlobalFunc registers a callable global under name (e.g. `range`).
func (env *Environment) AddGlobalFunc(name string, f GlobalFunc) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.globalFns[name] = f
}

// RenderString renders src directly without registering it, under the
// synthetic name "<string>" for error messages.
func (env *Environment) RenderString(src string, root map[string]value.Value) (string, error) {
	p := parser.New(src)
	tmpl, err := p.Parse()
	if err != nil {
		return "", errkind.Wrap(errkind.Syntax, "failed to parse template", err)
	}
	ins, blocks, err := compiler.Compile(tmpl, "<string>")
	if err != nil {
		return "", errors.Wrap(err, "compiling inline template")
	}
	t := &vm.Template{Name: "<string>", Instructions: ins, Blocks: blocks, Extends: extendsName(tmpl)}
	return env.render(t, root)
}

// Render looks up name in the registry (consulting the loader on a
// miss) and renders it against root.
func (env *Environment) Render(name string, root map[string]value.Value) (string, error) {
	t, err := env.GetTemplate(name)
	if err != nil {
		return "", err
	}
	return env.render(t, root)
}

func (env *Environment) render(t *vm.Template, root map[string]value.Value) (string, error) {
	env.mu.RLock()
	fuel := env.fuel
	env.mu.RUnlock()
	m := vm.New(env, fuel)
	if env.debug {
		m.SetTracer(vm.NewLogTracer(env.log))
	}
	return m.Render(t, root)
}

// --- vm.Resolver implementation ---

func (env *Environment) LookupGlobal(name string) (value.Value, bool) {
	env.mu.RLock()
	defer env.mu.RUnlock()
	if v, ok := env.globals[name]; ok {
		return v, true
	}
	return value.Undefined(), false
}

func (env *Environment) ApplyFilter(name string, v value.Value, args []value.Value) (value.Value, error) {
	env.mu.RLock()
	f, ok := env.filters[name]
	env.mu.RUnlock()
	if !ok {
		return value.Undefined(), errkind.New(errkind.UnknownFilter, name)
	}
	return f(nil, v, args)
}

func (env *Environment) PerformTest(name string, v value.Value, args []value.Value) (bool, error) {
	env.mu.RLock()
	t, ok := env.tests[name]
	env.mu.RUnlock()
	if !ok {
		return false, errkind.New(errkind.UnknownTest, name)
	}
	return t(nil, v, args)
}

func (env *Environment) CallFunction(name string, args []value.Value) (value.Value, error) {
	env.mu.RLock()
	f, ok := env.globalFns[name]
	env.mu.RUnlock()
	if ok {
		return f(nil, args)
	}
	env.mu.RLock()
	g, ok := env.globals[name]
	env.mu.RUnlock()
	if ok {
		if callable, ok := g.Raw().(value.Callable); ok {
			return callable.Call(nil, args)
		}
	}
	return value.Undefined(), errkind.New(errkind.UnknownMethod, "no such function: "+name)
}

func (env *Environment) CallMethod(recv value.Value, name string, args []value.Value) (value.Value, error) {
	if mc, ok := recv.Raw().(value.MethodCallable); ok {
		return mc.CallMethod(nil, name, args)
	}
	switch name {
	case "items":
		if m, ok := recv.Raw().(*value.OrderedMap); ok {
			out := make([]value.Value, 0, m.Len())
			for _, k := range m.Keys() {
				v, _ := m.Get(k)
				out = append(out, value.FromSlice([]value.Value{k, v}))
			}
			return value.FromSlice(out), nil
		}
	case "keys":
		if m, ok := recv.Raw().(*value.OrderedMap); ok {
			return value.FromSlice(m.Keys()), nil
		}
	case "values":
		if m, ok := recv.Raw().(*value.OrderedMap); ok {
			out := make([]value.Value, 0, m.Len())
			for _, k := range m.Keys() {
				v, _ := m.Get(k)
				out = append(out, v)
			}
			return value.FromSlice(out), nil
		}
	case "get":
		if m, ok := recv.Raw().(*value.OrderedMap); ok && len(args) > 0 {
			if v, ok := m.Get(args[0]); ok {
				return v, nil
			}
			if len(args) > 1 {
				return args[1], nil
			}
			return value.Undefined(), nil
		}
	}
	return value.Undefined(), errkind.New(errkind.UnknownMethod, name)
}

func (env *Environment) GetTemplate(name string) (*vm.Template, error) {
	env.mu.RLock()
	t, ok := env.templates[name]
	loader := env.loader
	env.mu.RUnlock()
	if ok {
		return t, nil
	}
	if loader == nil {
		return nil, errkind.New(errkind.TemplateNotFound, name)
	}
	src, err := loader.Load(name)
	if err != nil {
		return nil, errkind.Wrap(errkind.TemplateNotFound, name, err)
	}
	if err := env.AddTemplate(name, src); err != nil {
		return nil, err
	}
	env.mu.RLock()
	t = env.templates[name]
	env.mu.RUnlock()
	return t, nil
}

func (env *Environment) AutoEscapeDefault(name string) bool {
	return env.shouldAutoEscape(name)
}

var _ vm.Resolver = (*Environment)(nil)
