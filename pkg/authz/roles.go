package authz

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Role represents a caller's access level.
type Role string

const (
	// RoleViewer reads templates, receipts, submissions and sync logs.
	RoleViewer Role = "viewer"

	// RoleOperator additionally edits templates and triggers syncs and pulls.
	RoleOperator Role = "operator"
)

// RoleHeader is the HTTP header read by HeaderExtractor.
const RoleHeader = "X-User-Role"

// ParseRole maps a header or claim value to a Role. Unknown values are
// RoleViewer.
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(RoleOperator)) {
		return RoleOperator
	}
	return RoleViewer
}

// RequireRole returns middleware that enforces a minimum role on the identity
// stored by IdentityMiddleware. Requests without an identity are viewers.
func RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				id.Role = RoleViewer
			}
			if !hasRole(id.Role, role) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "forbidden",
					"message": "insufficient permissions",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hasRole checks whether userRole satisfies the required role.
// Operator can do everything Viewer can do plus mutations.
func hasRole(userRole, required Role) bool {
	switch required {
	case RoleViewer:
		return true
	case RoleOperator:
		return userRole == RoleOperator
	default:
		return false
	}
}
