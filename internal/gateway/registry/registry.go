// Package registry resolves logical backend names to their base URLs.
// A Registry is built once at startup and is read-only afterwards, so it
// needs no locking.
package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
)

type Registry struct {
	targets map[string]models.ServiceTarget
}

// New validates and copies urls. Trailing slashes are trimmed from base URLs.
func New(urls map[string]string) (*Registry, error) {
	targets := make(map[string]models.ServiceTarget, len(urls))
	for name, raw := range urls {
		base := strings.TrimRight(raw, "/")
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("service %s: invalid base URL %q", name, raw)
		}
		targets[name] = models.ServiceTarget{Name: name, BaseURL: base}
	}
	return &Registry{targets: targets}, nil
}

// Lookup returns the target registered under name.
func (r *Registry) Lookup(name string) (models.ServiceTarget, bool) {
	t, ok := r.targets[name]
	return t, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.targets[name]
	return ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Targets returns all targets in name order.
func (r *Registry) Targets() []models.ServiceTarget {
	names := r.Names()
	out := make([]models.ServiceTarget, 0, len(names))
	for _, name := range names {
		out = append(out, r.targets[name])
	}
	return out
}
