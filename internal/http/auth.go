package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/manifestor/pkg/jwt"
)

type authContextKey string

const contextKeySubject authContextKey = "manifestor-subject"

type subjectSetter interface {
	setSubject(string)
}

// requireScope validates the bearer token when a JWT secret is configured.
// Without a secret the API is open.
func (r *Router) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.jwtSecret == "" {
			next(w, req)
			return
		}
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := jwt.Parse(token, r.jwtSecret)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		if !claims.Allows(scope) {
			writeError(w, http.StatusForbidden, jwt.ErrScope.Error())
			return
		}
		if setter, ok := w.(subjectSetter); ok {
			setter.setSubject(claims.Subject)
		}
		ctx := context.WithValue(req.Context(), contextKeySubject, claims.Subject)
		next(w, req.WithContext(ctx))
	}
}

func subjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(contextKeySubject).(string)
	return subject
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
