package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ScopeGenerate allows analysis and generation; ScopeRefine additionally allows edits.
const (
	ScopeGenerate = "generate"
	ScopeRefine   = "refine"
)

// ErrScope indicates a valid token lacking the required scope.
var ErrScope = errors.New("jwt: insufficient scope")

// Claims defines the API token payload.
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwtlib.RegisteredClaims
}

// Allows reports whether the claims grant scope. Refine implies generate.
func (c *Claims) Allows(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope || (s == ScopeRefine && scope == ScopeGenerate) {
			return true
		}
	}
	return false
}

// GenerateToken issues a signed HS256 token for subject with the given scopes.
func GenerateToken(subject string, scopes []string, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			Issuer:    "manifestor",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Parse validates and extracts claims from token.
func Parse(token string, secret string) (*Claims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}), jwtlib.WithIssuer("manifestor"))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
