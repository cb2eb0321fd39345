package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTParser turns bearer tokens into identities.
type JWTParser struct {
	cfg       Config
	publicKey *rsa.PublicKey
}

// NewJWTParser creates a parser. If cfg.PublicKeyPath is set, tokens are
// verified with RS256; otherwise they are parsed without verification
// (suitable behind a trusted proxy).
func NewJWTParser(cfg Config, logger *slog.Logger) (*JWTParser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EmailClaim == "" {
		cfg.EmailClaim = "email"
	}
	if cfg.NameClaim == "" {
		cfg.NameClaim = "name"
	}

	p := &JWTParser{cfg: cfg}
	if cfg.PublicKeyPath == "" {
		logger.Warn("JWT identity: no public key configured, tokens parsed without verification (trusted proxy mode)")
		return p, nil
	}

	keyData, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT public key from %s: %w", cfg.PublicKeyPath, err)
	}
	key, err := parseRSAPublicKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.PublicKeyPath, err)
	}
	p.publicKey = key
	logger.Info("JWT identity: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	return p, nil
}

func parseRSAPublicKey(keyData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	parsedKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaKey, ok := parsedKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsedKey)
	}
	return rsaKey, nil
}

// Parse validates the token (when a key is configured) and maps its claims
// to an Identity. The subject becomes the user id.
func (p *JWTParser) Parse(tokenString string) (Identity, error) {
	claims, err := p.parseClaims(tokenString)
	if err != nil {
		return Identity{}, err
	}

	id := Identity{
		Email: strings.ToLower(claimString(claims, p.cfg.EmailClaim)),
		Name:  claimString(claims, p.cfg.NameClaim),
	}
	if sub, err := claims.GetSubject(); err == nil {
		id.ID = sub
	}
	if p.cfg.GroupsClaim != "" {
		id.Groups = claimStrings(claims, p.cfg.GroupsClaim)
	}
	if id.Anonymous() {
		return Identity{}, fmt.Errorf("token carries neither subject nor %s claim", p.cfg.EmailClaim)
	}
	return id, nil
}

func (p *JWTParser) parseClaims(tokenString string) (jwt.MapClaims, error) {
	parserOpts := []jwt.ParserOption{}
	if p.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.cfg.Issuer))
	}
	if p.cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(p.cfg.Audience))
	}

	var token *jwt.Token
	var err error
	if p.publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return p.publicKey, nil
		}, parserOpts...)
	} else {
		token, _, err = jwt.NewParser(parserOpts...).ParseUnverified(tokenString, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}
	return claims, nil
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// lookupClaim walks a dot-separated claim path, e.g. "realm_access.roles".
func lookupClaim(claims jwt.MapClaims, path string) (any, bool) {
	var current any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func claimString(claims jwt.MapClaims, path string) string {
	v, ok := lookupClaim(claims, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func claimStrings(claims jwt.MapClaims, path string) []string {
	v, ok := lookupClaim(claims, path)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		return splitList(val)
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
