package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken indicates the request carried no session token.
	ErrMissingToken = errors.New("no session token provided")
	// ErrInvalidToken indicates the session token failed verification.
	ErrInvalidToken = errors.New("invalid session token")
)

// sessionCookieName is the cookie fallback used by beacon-style requests
// that cannot set an Authorization header.
const sessionCookieName = "session_token"

// Verifier validates platform-issued HS256 session tokens and extracts the
// authenticated profile identity.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a verifier for the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken checks the token signature and expiry and returns the profile
// id from the subject claim.
func (v *Verifier) VerifyToken(token string) (string, error) {
	if len(v.secret) == 0 {
		return "", fmt.Errorf("%w: verifier not configured", ErrInvalidToken)
	}
	if token == "" {
		return "", ErrMissingToken
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}

	return subject, nil
}

// VerifyRequest extracts the session token from the Authorization header or
// the session cookie and verifies it.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			return "", ErrMissingToken
		}
		return v.VerifyToken(token)
	}

	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return v.VerifyToken(cookie.Value)
	}

	return "", ErrMissingToken
}

// ServiceKeyGuard authorizes the privileged presence endpoints. Only the
// platform server process holds the key, so clients can never write other
// viewers' presence rows.
type ServiceKeyGuard struct {
	key []byte
}

// NewServiceKeyGuard constructs a guard around the shared service key.
func NewServiceKeyGuard(key string) *ServiceKeyGuard {
	return &ServiceKeyGuard{key: []byte(key)}
}

// Allow reports whether the provided key matches the configured one. An
// unconfigured guard denies everything.
func (g *ServiceKeyGuard) Allow(provided string) bool {
	if len(g.key) == 0 || provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare(g.key, []byte(provided)) == 1
}
