package aim

import (
	"sort"

	"github.com/roach88/caps/internal/errs"
)

// Registry maps AIM names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Re-registering a name replaces it.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// New instantiates the named AIM.
func (r *Registry) New(name string) (AIM, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "no AIM registered as %q", name)
	}
	return f(), nil
}

// Names lists the registered AIMs, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
