package push

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what a verified bearer token attaches to a connection for its
// lifetime: the principal's user id and the permissions it carries.
// Grounded on the teacher's JWT claim shape (internal/auth/adapters/jwt_tokens.go),
// trimmed to what channel authorisation needs.
type Claims struct {
	UserID      string
	Permissions []string
}

// HasPermission reports whether c carries perm or the blanket "admin" permission.
func (c Claims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm || p == "admin" {
			return true
		}
	}
	return false
}

// Authenticator verifies a bearer token and extracts its claims.
type Authenticator interface {
	Verify(token string) (Claims, error)
}

// jwtAuthenticator verifies HS256 tokens signed with a shared secret.
type jwtAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator builds an Authenticator backed by HMAC-signed JWTs.
func NewJWTAuthenticator(secret string) Authenticator {
	return &jwtAuthenticator{secret: []byte(secret)}
}

func (a *jwtAuthenticator) Verify(token string) (Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token claims")
	}
	if exp, ok := claims["exp"].(float64); ok {
		if time.Unix(int64(exp), 0).Before(time.Now()) {
			return Claims{}, errors.New("token expired")
		}
	}
	userID, _ := claims["sub"].(string)
	var perms []string
	if raw, ok := claims["permissions"].([]interface{}); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				perms = append(perms, s)
			}
		}
	}
	return Claims{UserID: userID, Permissions: perms}, nil
}

// anonymousAuthenticator accepts every connection as anonymous; used when
// the server is configured with authentication disabled.
type anonymousAuthenticator struct{}

func (anonymousAuthenticator) Verify(string) (Claims, error) { return Claims{}, nil }

// NewAnonymousAuthenticator returns an Authenticator that accepts all
// connections without a claims check (auth disabled per spec.md §4.8).
func NewAnonymousAuthenticator() Authenticator { return anonymousAuthenticator{} }

// authorizeChannel enforces the channel-authorisation rules of spec.md §4.8.
// It is only consulted when authentication is enabled for the server.
func authorizeChannel(claims Claims, channel string) error {
	switch {
	case hasPrefix(channel, "workflow:"):
		return requirePermission(claims, "workflow:read")
	case hasPrefix(channel, "pool:"):
		return requirePermission(claims, "pool:read")
	case hasPrefix(channel, "worker:"):
		return requirePermission(claims, "worker:read")
	default:
		return requirePermission(claims, "admin")
	}
}

func requirePermission(claims Claims, perm string) error {
	if claims.HasPermission(perm) {
		return nil
	}
	return errForbidden
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
