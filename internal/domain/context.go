// Package domain provides core billing types, the error taxonomy and context
// helpers for the tuition service.
//
// Context helpers centralize request-scoped data access so handlers and services
// read the authenticated principal the same way everywhere.
package domain

import (
	"context"
)

// contextKey is an unexported type for context keys to prevent collisions.
type contextKey int

const (
	// principalContextKey stores the authenticated caller in context.
	principalContextKey contextKey = iota

	// requestIDContextKey stores the request ID for tracing.
	requestIDContextKey
)

// Principal is the authenticated caller of an API request, as asserted by the
// identity provider's verified ID token.
type Principal struct {
	UID   string
	Email string
	Admin bool // "admin" custom claim
}

// --- Principal Context Helpers ---

// NewContextWithPrincipal returns a new context with the principal attached.
func NewContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the principal from context.
// Returns nil if no principal is present.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// PrincipalUIDFromContext retrieves the principal's UID from context.
// Returns empty string if no principal is present.
func PrincipalUIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UID
	}
	return ""
}

// MustPrincipal retrieves the principal from context, panicking if not present.
// The panic will be caught by error recovery middleware in HTTP handlers.
func MustPrincipal(ctx context.Context) *Principal {
	p := PrincipalFromContext(ctx)
	if p == nil {
		panic("principal required in context but not found")
	}
	return p
}

// --- Request ID Context Helpers ---

// NewContextWithRequestID returns a new context with the request ID attached.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDContextKey).(string)
	return requestID
}

// --- Convenience Helpers ---

// IsAuthenticated returns true if there is a principal in context.
func IsAuthenticated(ctx context.Context) bool {
	return PrincipalFromContext(ctx) != nil
}

// IsAdmin returns true if the principal in context carries the admin claim.
func IsAdmin(ctx context.Context) bool {
	p := PrincipalFromContext(ctx)
	return p != nil && p.Admin
}
