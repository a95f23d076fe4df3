// Package auth issues and verifies the bearer tokens that guard the admin API.
package auth

import (
	"context"
	"time"
)

// RoleAdmin is the only role the admin API knows about.
const RoleAdmin = "admin"

// Claims is the verified content of an admin token.
type Claims struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role,omitempty"`
	ExpiresAt time.Time `json:"exp"`
}

type contextKey string

const claimsContextKey contextKey = "auth_claims"

// ClaimsFromContext retrieves the verified claims from the context.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a new context with the claims attached.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// IsAuthenticated returns true if the context carries verified claims.
func IsAuthenticated(ctx context.Context) bool {
	return ClaimsFromContext(ctx) != nil
}
