// Package reqctx carries per-request gateway state through context.Context.
// The request pipeline writes these values; later stages only read them.
package reqctx

import (
	"context"

	"github.com/quirck3n/refugio-gateway/internal/gateway/models"
)

type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyClientKey contextKey = "client_key"
	keyRoute     contextKey = "route"
	keyIdentity  contextKey = "identity"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID returns the correlation id, or "" when none was assigned.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}

func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyClientKey, key)
}

func ClientKey(ctx context.Context) string {
	key, _ := ctx.Value(keyClientKey).(string)
	return key
}

func WithRoute(ctx context.Context, route *models.Route) context.Context {
	return context.WithValue(ctx, keyRoute, route)
}

func Route(ctx context.Context) *models.Route {
	route, _ := ctx.Value(keyRoute).(*models.Route)
	return route
}

func WithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, keyIdentity, id)
}

// Identity returns the authenticated caller, or nil on public routes.
func Identity(ctx context.Context) *models.Identity {
	id, _ := ctx.Value(keyIdentity).(*models.Identity)
	return id
}
