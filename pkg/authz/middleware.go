package authz

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
)

// Checker decides whether an identity may read or author an action given
// its access lists.
type Checker struct {
	mode AuthzMode
}

// NewChecker creates a Checker for the given mode.
func NewChecker(mode AuthzMode) *Checker {
	return &Checker{mode: mode}
}

// Enforced reports whether access lists are checked at all.
func (c *Checker) Enforced() bool {
	return c != nil && c.mode == AuthzModeACL
}

// CanRead reports whether id appears in readers, directly or via a group.
func (c *Checker) CanRead(id Identity, readers []string) bool {
	return !c.Enforced() || matches(id, readers)
}

// CanAuthor reports whether id appears in authors, directly or via a group.
func (c *Checker) CanAuthor(id Identity, authors []string) bool {
	return !c.Enforced() || matches(id, authors)
}

func matches(id Identity, list []string) bool {
	for _, entry := range list {
		if id.Email != "" && strings.EqualFold(entry, id.Email) {
			return true
		}
		if slices.Contains(id.Groups, entry) {
			return true
		}
	}
	return false
}

// RequireIdentity rejects anonymous requests with 401 when access lists are
// enforced.
func RequireIdentity(c *Checker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c.Enforced() {
				id, _ := IdentityFromContext(r.Context())
				if id.Anonymous() {
					WriteDenied(w, http.StatusUnauthorized, "unauthenticated", "caller identity is required")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteDenied writes a JSON error body for authentication or authorization
// failures.
func WriteDenied(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
