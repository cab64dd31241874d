// Package queryapi implements the read-only popup/batch query HTTP
// surface (§6 EXTERNAL INTERFACES). It is the only network-facing
// component in the pipeline and is bound to localhost only
// (internal/config.Load enforces this at load time).
package queryapi

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// claims is a minimal registered-claims JWT — this is a single-user
// local tool, not a multi-tenant identity system, so there is no
// principal/role/scope structure to carry beyond standard expiry.
type claims struct {
	jwt.RegisteredClaims
}

// TokenManager issues and validates short-lived bearer tokens for the
// local query API using a process-lifetime HMAC secret. There is no
// durable key store: a restart invalidates outstanding tokens, which
// is acceptable for a localhost tool whose only client is the local
// popup UI re-requesting a token on demand.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager generates a fresh random signing secret and builds
// a manager issuing tokens valid for ttl.
func NewTokenManager(ttl time.Duration) (*TokenManager, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("queryapi: generate signing secret: %w", err)
	}
	return &TokenManager{secret: secret, ttl: ttl}, nil
}

// Issue mints a new bearer token.
func (tm *TokenManager) Issue() (string, error) {
	now := time.Now().UTC()
	c := claims{RegisteredClaims: jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		Issuer:    "autocapture-query-api",
	}}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(tm.secret)
}

// Validate parses and checks a bearer token string.
func (tm *TokenManager) Validate(tokenString string) error {
	_, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	})
	return err
}

// RequireBearer wraps a handler, rejecting requests without a valid
// "Authorization: Bearer <token>" header with a 401.
func (tm *TokenManager) RequireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		tok, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || tok == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		if err := tm.Validate(tok); err != nil {
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		next(w, r)
	}
}
