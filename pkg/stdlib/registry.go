// Package stdlib provides the sandscript built-in functions and modules.
package stdlib

import (
	"sort"

	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

// Registry holds global built-in functions and modules. It is read-only
// once populated and may be shared by concurrently running scripts.
type Registry struct {
	fns     map[string]*evaluator.Builtin
	modules map[string]*evaluator.Module
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		fns:     make(map[string]*evaluator.Builtin),
		modules: make(map[string]*evaluator.Module),
	}
}

// Register adds a global function.
func (r *Registry) Register(name string, fn evaluator.NativeFunc) {
	r.fns[name] = &evaluator.Builtin{Name: name, Fn: fn}
}

// RegisterModule adds a module under its own name.
func (r *Registry) RegisterModule(m *evaluator.Module) {
	r.modules[m.Name] = m
}

// LookupFunction retrieves a global function by name.
func (r *Registry) LookupFunction(name string) (*evaluator.Builtin, bool) {
	fn, ok := r.fns[name]
	return fn, ok
}

// LookupModule retrieves a module by name.
func (r *Registry) LookupModule(name string) (*evaluator.Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Functions returns the global function names in sorted order.
func (r *Registry) Functions() []string {
	names := make([]string, 0, len(r.fns))
	for k := range r.fns {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Modules returns the module names in sorted order.
func (r *Registry) Modules() []string {
	names := make([]string, 0, len(r.modules))
	for k := range r.modules {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry populated with every built-in.
func Default() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	return r
}

// RegisterDefaults adds all built-in functions and modules.
func RegisterDefaults(r *Registry) {
	registerGlobals(r)

	r.RegisterModule(stringModule())
	r.RegisterModule(mathModule())
	r.RegisterModule(listModule())
	r.RegisterModule(recordModule())
	r.RegisterModule(jsonModule())
	r.RegisterModule(evaluator.CoroutineModule())
	r.RegisterModule(ioModule())
	r.RegisterModule(osModule())
	r.RegisterModule(httpModule())
	r.RegisterModule(debugModule())
}
