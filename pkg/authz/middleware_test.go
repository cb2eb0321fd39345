package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker(t *testing.T) {
	acl := NewChecker(AuthzModeACL)
	none := NewChecker(AuthzModeNone)

	alice := Identity{Email: "alice@example.com"}
	member := Identity{Email: "carol@example.com", Groups: []string{"quality@example.com"}}
	readers := []string{"ALICE@example.com", "quality@example.com"}

	tests := []struct {
		name    string
		checker *Checker
		id      Identity
		want    bool
	}{
		{"direct match ignores case", acl, alice, true},
		{"group match", acl, member, true},
		{"stranger denied", acl, Identity{Email: "eve@example.com"}, false},
		{"anonymous denied", acl, Identity{}, false},
		{"none mode allows all", none, Identity{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.checker.CanRead(tt.id, readers))
			assert.Equal(t, tt.want, tt.checker.CanAuthor(tt.id, readers))
		})
	}
}

func TestRequireIdentity(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	IdentityMiddleware(nil, nil)(RequireIdentity(NewChecker(AuthzModeACL))(ok)).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Email", "alice@example.com")
	rec = httptest.NewRecorder()
	IdentityMiddleware(nil, nil)(RequireIdentity(NewChecker(AuthzModeACL))(ok)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	RequireIdentity(NewChecker(AuthzModeNone))(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ACTIONS_AUTHZ_MODE", "ACL")
	t.Setenv("ACTIONS_JWT_PUBLIC_KEY_PATH", "/etc/keys/jwt.pem")
	t.Setenv("ACTIONS_JWT_EMAIL_CLAIM", "preferred_username")

	cfg := ConfigFromEnv()
	assert.Equal(t, AuthzModeACL, cfg.Mode)
	assert.True(t, cfg.JWTEnabled)
	assert.Equal(t, "/etc/keys/jwt.pem", cfg.PublicKeyPath)
	assert.Equal(t, "preferred_username", cfg.EmailClaim)
	assert.Equal(t, "name", cfg.NameClaim)
}
