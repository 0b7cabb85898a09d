// Package authz identifies callers of the form-sync API and enforces the
// viewer/operator split on its routes.
package authz

import (
	"context"
	"net/http"
	"strings"
)

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the authenticated caller of a request.
type Identity struct {
	User string
	Role Role
}

// Anonymous is the user recorded when a request carries no user.
const Anonymous = "anonymous"

// UserHeader carries the caller's user name behind a trusted proxy.
const UserHeader = "X-Remote-User"

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// UserFromContext returns the caller's user name, or Anonymous.
func UserFromContext(ctx context.Context) string {
	if id, ok := IdentityFromContext(ctx); ok && id.User != "" {
		return id.User
	}
	return Anonymous
}

// Extractor derives an Identity from a request.
type Extractor func(r *http.Request) Identity

// HeaderExtractor reads X-Remote-User and X-User-Role. A missing user
// defaults to Anonymous and a missing or unknown role to RoleViewer.
func HeaderExtractor(r *http.Request) Identity {
	user := strings.TrimSpace(r.Header.Get(UserHeader))
	if user == "" {
		user = Anonymous
	}
	return Identity{User: user, Role: ParseRole(r.Header.Get(RoleHeader))}
}

// OpenExtractor grants every caller RoleOperator. It backs AuthModeNone.
func OpenExtractor(r *http.Request) Identity {
	id := HeaderExtractor(r)
	id.Role = RoleOperator
	return id
}

// IdentityMiddleware returns HTTP middleware that extracts the caller's
// identity and stores it in the request context. A nil extractor uses
// HeaderExtractor.
func IdentityMiddleware(extractor Extractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = HeaderExtractor
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithIdentity(r.Context(), extractor(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
