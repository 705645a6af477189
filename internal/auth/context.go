// Package auth provides tenant authentication helpers: bearer token minting
// and verification, and the request context carrying the verified tenant.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// tenantContextKey is the key used to store the authenticated tenant.
	tenantContextKey contextKey = "tenant"
)

// TenantID retrieves the authenticated tenant from the context.
//
// Usage:
//
//	tenantID, ok := auth.TenantID(r.Context())
//	if !ok {
//	    // Handle unauthenticated request
//	}
func TenantID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantContextKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// TenantFromRequest is a convenience wrapper around TenantID.
func TenantFromRequest(r *http.Request) (uuid.UUID, bool) {
	return TenantID(r.Context())
}

// SetTenant stores a tenant ID in the context.
//
// This is called by the bearer middleware after verifying a token.
func SetTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenantID)
}
