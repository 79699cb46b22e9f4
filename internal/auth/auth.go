// Package auth provides JWT Bearer token validation middleware for the
// gateway. It runs inside the prefix fallback stage, so the route lookup sees
// the path that is actually dispatched.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dskow/prefix-fallback/internal/apierror"
	"github.com/dskow/prefix-fallback/internal/config"
	"github.com/dskow/prefix-fallback/internal/metrics"
)

type contextKey string

// ClaimsKey is the context key used to store validated JWT claims.
const ClaimsKey contextKey = "jwt_claims"

// Claims represents the validated JWT claims injected into the request context.
type Claims struct {
	Subject  string   `json:"sub"`
	Issuer   string   `json:"iss"`
	Audience string   `json:"aud"`
	Scopes   []string `json:"scopes"`
}

// tokenClaims is the wire form: registered claims plus an OAuth2
// space-separated scope string.
type tokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// ClaimsFromContext returns the claims stored by Middleware, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ClaimsKey).(*Claims)
	return c, ok
}

// errMissingToken is reported when no usable Bearer credential is present.
var errMissingToken = errors.New("missing or malformed Authorization header")

// Middleware returns an HTTP middleware that validates JWT Bearer tokens.
// Requests for which routeRequiresAuth is false are passed through.
func Middleware(cfg config.AuthConfig, routeRequiresAuth func(path string) bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || !routeRequiresAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := authenticate(r, cfg)
			if err != nil {
				reject(w, r, err, logger)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
		})
	}
}

func authenticate(r *http.Request, cfg config.AuthConfig) (*Claims, error) {
	token, ok := extractBearerToken(r)
	if !ok {
		return nil, errMissingToken
	}
	return validateToken(token, cfg)
}

// reject writes the error response for a failed authentication and counts it
// by reason.
func reject(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var se *ScopeError
	switch {
	case errors.Is(err, errMissingToken):
		metrics.AuthFailures.WithLabelValues("missing_token").Inc()
		apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthMissingToken, err.Error())
		return
	case errors.As(err, &se):
		metrics.AuthFailures.WithLabelValues("insufficient_scope").Inc()
		apierror.WriteJSON(w, r, http.StatusForbidden, apierror.AuthInsufficientScope, se.Error())
	default:
		metrics.AuthFailures.WithLabelValues("invalid_token").Inc()
		apierror.WriteJSON(w, r, http.StatusUnauthorized, apierror.AuthInvalidToken, "invalid token")
	}
	logger.Warn("auth failure", "error", err, "path", r.URL.Path)
}

func extractBearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func validateToken(tokenStr string, cfg config.AuthConfig) (*Claims, error) {
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(tokenStr, &tc, func(*jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{
		Subject: tc.Subject,
		Issuer:  tc.Issuer,
		Scopes:  strings.Fields(tc.Scope),
	}
	if len(tc.Audience) > 0 {
		claims.Audience = tc.Audience[0]
	}

	for _, required := range cfg.Scopes {
		if !slices.Contains(claims.Scopes, required) {
			return nil, &ScopeError{MissingScope: required}
		}
	}

	return claims, nil
}

// ScopeError indicates the token is valid but lacks required scopes.
type ScopeError struct {
	MissingScope string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("missing required scope: %s", e.MissingScope)
}
