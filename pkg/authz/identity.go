package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the user making a request. Groups are group
// addresses the user belongs to; they match group entries in access lists.
type Identity struct {
	ID     string
	Name   string
	Email  string
	Groups []string
}

// Anonymous reports whether no user could be determined.
func (id Identity) Anonymous() bool {
	return id.Email == "" && id.ID == ""
}

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

// IdentityMiddleware returns HTTP middleware that stores the caller identity
// in the request context. A valid bearer token takes precedence when a
// parser is given and a token is present; an invalid token yields an
// anonymous identity. Without a token, X-User-Id, X-User-Name, X-User-Email
// and the comma-separated X-User-Groups headers are used.
func IdentityMiddleware(parser *JWTParser, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id Identity
			token := extractBearerToken(r)
			switch {
			case parser != nil && token != "":
				tokID, err := parser.Parse(token)
				if err != nil {
					logger.Debug("bearer token rejected", "error", err)
				} else {
					id = tokID
				}
			default:
				id = identityFromHeaders(r)
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func identityFromHeaders(r *http.Request) Identity {
	id := Identity{
		ID:    strings.TrimSpace(r.Header.Get("X-User-Id")),
		Name:  strings.TrimSpace(r.Header.Get("X-User-Name")),
		Email: strings.ToLower(strings.TrimSpace(r.Header.Get("X-User-Email"))),
	}
	id.Groups = splitList(r.Header.Get("X-User-Groups"))
	return id
}

func splitList(v string) []string {
	var out []string
	for _, g := range strings.Split(v, ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			out = append(out, g)
		}
	}
	return out
}
