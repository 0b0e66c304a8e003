package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
)

var ErrForbidden = errors.New("insufficient role")

// Authorize checks identity against the route's required roles. Routes
// without required roles admit any caller, including anonymous callers of
// public routes.
func Authorize(route models.Route, identity *models.Identity) error {
	if len(route.Roles) == 0 {
		return nil
	}
	if identity != nil && slices.Contains(route.Roles, identity.Role) {
		return nil
	}
	return fmt.Errorf("%w: requires one of the roles: %s", ErrForbidden, strings.Join(route.Roles, ", "))
}
