// Package registry maps logical service names to backend base URLs.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"api-gateway-go/internal/config"
)

// ErrUnknownService is returned by Resolve when no backend is registered
// under the requested name.
var ErrUnknownService = errors.New("unknown service")

// Registry is an immutable name → base URL table built once at startup.
// It is safe for concurrent use.
type Registry struct {
	urls  map[string]string
	names []string
}

// New builds a Registry from the configured services. Every entry must be
// non-empty; a partially configured gateway must not start.
func New(services config.ServicesConfig) (*Registry, error) {
	return FromMap(services.Map())
}

// FromMap builds a Registry from an explicit table. The map is copied.
func FromMap(urls map[string]string) (*Registry, error) {
	if len(urls) == 0 {
		return nil, errors.New("registry: no services configured")
	}

	r := &Registry{urls: make(map[string]string, len(urls))}
	for name, u := range urls {
		if name == "" {
			return nil, errors.New("registry: empty service name")
		}
		if u == "" {
			return nil, fmt.Errorf("registry: base URL for service %q is empty", name)
		}
		r.urls[name] = u
	}
	r.names = slices.Sorted(maps.Keys(r.urls))
	return r, nil
}

// Resolve returns the base URL registered for service. The lookup is exact
// and case-sensitive.
func (r *Registry) Resolve(service string) (string, error) {
	u, ok := r.urls[service]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return u, nil
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}
