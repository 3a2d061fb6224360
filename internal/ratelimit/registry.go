package ratelimit

import (
	"fmt"
	"sort"

	"github.com/aman-churiwal/request-governance/internal/storage"
)

// Registry holds one Limiter per endpoint class, all sharing a store.
type Registry struct {
	limiters map[string]*Limiter
}

func NewRegistry(store storage.Store, classes []Config, opts ...Option) (*Registry, error) {
	r := &Registry{limiters: make(map[string]*Limiter, len(classes))}

	for _, cfg := range classes {
		if _, dup := r.limiters[cfg.Name]; dup {
			return nil, fmt.Errorf("%w: class %q defined twice", ErrInvalidConfig, cfg.Name)
		}

		l, err := New(store, cfg, opts...)
		if err != nil {
			return nil, err
		}
		r.limiters[cfg.Name] = l
	}

	return r, nil
}

func (r *Registry) For(class string) (*Limiter, error) {
	l, ok := r.limiters[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}
	return l, nil
}

// MustFor is For for route wiring at startup.
func (r *Registry) MustFor(class string) *Limiter {
	l, err := r.For(class)
	if err != nil {
		panic(err)
	}
	return l
}

func (r *Registry) Classes() []string {
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
