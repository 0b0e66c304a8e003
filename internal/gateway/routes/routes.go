// Package routes holds the gateway route table: which paths are exposed,
// which backend serves them, and what credentials they require.
package routes

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
)

// Handlers served by the gateway itself.
const (
	LocalHealth        = "health"
	LocalHealthAll     = "health_all"
	LocalHealthService = "health_service"
	LocalMetrics       = "metrics"
)

var localHandlers = map[string]bool{
	LocalHealth:        true,
	LocalHealthAll:     true,
	LocalHealthService: true,
	LocalMetrics:       true,
}

// Default returns the built-in route table in match order: the first
// matching entry wins, so specific public routes precede protected wildcards.
func Default() []models.Route {
	get := []string{"GET"}
	return []models.Route{
		{Name: "health", Methods: get, Path: "/health", Visibility: models.Public, Local: LocalHealth},
		{Name: "health-all", Methods: get, Path: "/health/all", Visibility: models.Public, Local: LocalHealthAll},
		{Name: "health-service", Methods: get, Path: "/health/{service}", Visibility: models.Public, Local: LocalHealthService},
		{Name: "metrics", Methods: get, Path: "/metrics", Visibility: models.Protected, Roles: []string{"admin"}, Local: LocalMetrics},

		{Name: "auth-login", Path: "/auth/login", Service: "auth", Visibility: models.Public},
		{Name: "auth-register", Path: "/auth/register", Service: "auth", Visibility: models.Public},
		{Name: "auth-logout", Path: "/auth/logout", Service: "auth", Visibility: models.Public},
		{Name: "auth-refresh", Path: "/auth/refresh", Service: "auth", Visibility: models.Public},
		{Name: "auth-me", Path: "/auth/me", Service: "auth", Visibility: models.Protected},
		{Name: "auth-validate", Path: "/auth/validate", Service: "auth", Visibility: models.Protected},

		{Name: "animales-list", Methods: get, Path: "/api/animales", Service: "core", Visibility: models.Public},
		{Name: "refugios-list", Methods: get, Path: "/api/refugios", Service: "core", Visibility: models.Public},
		{Name: "causas-urgentes-list", Methods: get, Path: "/api/causas-urgentes", Service: "core", Visibility: models.Public},
		{Name: "api", Path: "/api", Prefix: true, Service: "core", Visibility: models.Protected, FileField: "file"},

		{Name: "graphql", Path: "/graphql", Service: "graphql", Visibility: models.Public},
		{Name: "graphql-playground", Path: "/graphql/playground", Service: "graphql", Visibility: models.Public},

		{Name: "payments-health", Path: "/payments/health", Service: "payments", Visibility: models.Public},
		{Name: "payments-stripe-webhook", Path: "/payments/webhooks/stripe", Service: "payments", Visibility: models.Public},
		{Name: "payments", Path: "/payments", Prefix: true, Service: "payments", Visibility: models.Protected},

		{Name: "mcp", Path: "/mcp", Prefix: true, Service: "chat", Visibility: models.Public},
	}
}

type file struct {
	Routes []models.Route `yaml:"routes"`
}

// LoadFile reads a YAML route table. The file replaces the built-in table.
func LoadFile(path string) ([]models.Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table %q: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse route table %q: %w", path, err)
	}
	if len(f.Routes) == 0 {
		return nil, fmt.Errorf("route table %q has no routes", path)
	}
	return f.Routes, nil
}

// Validate checks every route against the set of known services.
func Validate(table []models.Route, hasService func(string) bool) error {
	var err error
	names := make(map[string]bool, len(table))

	for i, r := range table {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			err = multierr.Append(err, fmt.Errorf("route %s: name is required", label))
		} else if names[r.Name] {
			err = multierr.Append(err, fmt.Errorf("route %s: duplicate name", label))
		}
		names[r.Name] = true

		if !strings.HasPrefix(r.Path, "/") {
			err = multierr.Append(err, fmt.Errorf("route %s: path must start with /", label))
		}
		switch r.Visibility {
		case models.Public:
			if len(r.Roles) > 0 {
				err = multierr.Append(err, fmt.Errorf("route %s: public routes cannot require roles", label))
			}
		case models.Protected:
		default:
			err = multierr.Append(err, fmt.Errorf("route %s: unknown visibility %q", label, r.Visibility))
		}

		switch {
		case r.Local != "":
			if !localHandlers[r.Local] {
				err = multierr.Append(err, fmt.Errorf("route %s: unknown local handler %q", label, r.Local))
			}
		case r.Service == "":
			err = multierr.Append(err, fmt.Errorf("route %s: service is required", label))
		case !hasService(r.Service):
			err = multierr.Append(err, fmt.Errorf("route %s: unknown service %q", label, r.Service))
		}
	}

	if err != nil {
		return errors.Join(errors.New("invalid route table"), err)
	}
	return nil
}

// UpstreamPath maps an inbound path to the path forwarded to the backend.
func UpstreamPath(r models.Route, inbound string) string {
	if r.UpstreamPrefix == "" || !r.Prefix {
		return inbound
	}
	rest := strings.TrimPrefix(inbound, r.Path)
	return strings.TrimRight(r.UpstreamPrefix, "/") + rest
}
