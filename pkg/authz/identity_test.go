package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityContextRoundTrip(t *testing.T) {
	id := Identity{ID: "u1", Name: "Alice", Email: "alice@example.com", Groups: []string{"quality@example.com"}}
	got, ok := IdentityFromContext(WithIdentity(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = IdentityFromContext(context.Background())
	assert.False(t, ok)
}

func serveIdentity(t *testing.T, parser *JWTParser, req *http.Request) Identity {
	t.Helper()
	var got Identity
	h := IdentityMiddleware(parser, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestIdentityMiddleware_Headers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("X-User-Name", "Alice")
	req.Header.Set("X-User-Email", " Alice@Example.com ")
	req.Header.Set("X-User-Groups", "quality@example.com, ,ops@example.com")

	got := serveIdentity(t, nil, req)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.Equal(t, []string{"quality@example.com", "ops@example.com"}, got.Groups)
}

func TestIdentityMiddleware_NoHeadersIsAnonymous(t *testing.T) {
	got := serveIdentity(t, nil, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, got.Anonymous())
}

func TestIdentityMiddleware_UnverifiedJWT(t *testing.T) {
	parser, err := NewJWTParser(*DefaultConfig(), nil)
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    "u42",
		"email":  "Bob@Example.com",
		"name":   "Bob",
		"groups": []any{"quality@example.com"},
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("X-User-Email", "spoofed@example.com")

	got := serveIdentity(t, parser, req)
	assert.Equal(t, "u42", got.ID)
	assert.Equal(t, "bob@example.com", got.Email)
	assert.Equal(t, "Bob", got.Name)
	assert.Equal(t, []string{"quality@example.com"}, got.Groups)
}

func TestIdentityMiddleware_InvalidJWTIsAnonymous(t *testing.T) {
	parser, err := NewJWTParser(*DefaultConfig(), nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	req.Header.Set("X-User-Email", "spoofed@example.com")

	got := serveIdentity(t, parser, req)
	assert.True(t, got.Anonymous())
}

func TestLookupClaimNested(t *testing.T) {
	claims := jwt.MapClaims{"realm_access": map[string]any{"roles": []any{"a", "b"}}}
	assert.Equal(t, []string{"a", "b"}, claimStrings(claims, "realm_access.roles"))
	assert.Equal(t, "", claimString(claims, "realm_access.missing"))
}
