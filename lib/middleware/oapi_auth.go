package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/golang-jwt/jwt/v5"
	"github.com/onkernel/vmconf/lib/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

// ScopeRead marks a token that may only call read-only endpoints.
// Tokens without a scope claim have full access.
const ScopeRead = "read"

// Claims are the JWT claims the API understands.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// authError is an authentication failure with the status JwtAuth answers with.
type authError struct {
	status  int
	message string
	cause   error
}

func (e *authError) Error() string { return e.message }
func (e *authError) Unwrap() error { return e.cause }

func unauthorized(message string, cause error) *authError {
	return &authError{status: http.StatusUnauthorized, message: message, cause: cause}
}

// authenticate checks the bearer token of r and returns its claims.
func authenticate(r *http.Request, jwtSecret string) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, unauthorized("authorization header required", nil)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, unauthorized("invalid authorization header format", nil)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return nil, unauthorized("invalid token", err)
	}

	switch {
	case claims.Scope == "":
	case claims.Scope != ScopeRead:
		return nil, &authError{status: http.StatusForbidden, message: "invalid token scope"}
	case isWriteOperation(r.Method):
		return nil, &authError{status: http.StatusForbidden, message: "token does not allow write operations"}
	}
	return claims, nil
}

// OapiAuthenticationFunc creates an AuthenticationFunc compatible with nethttp-middleware
// that validates JWT bearer tokens for endpoints with security requirements.
func OapiAuthenticationFunc(jwtSecret string) openapi3filter.AuthenticationFunc {
	return func(ctx context.Context, input *openapi3filter.AuthenticationInput) error {
		if input.SecurityScheme == nil {
			return nil
		}
		if input.SecurityScheme.Type != "http" || input.SecurityScheme.Scheme != "bearer" {
			return fmt.Errorf("unsupported security scheme: %s", input.SecurityScheme.Type)
		}

		req := input.RequestValidationInput.Request
		claims, err := authenticate(req, jwtSecret)
		if err != nil {
			logger.FromContext(ctx).DebugContext(ctx, "authentication failed", "error", errors.Unwrap(err), "reason", err.Error())
			return err
		}
		*req = *req.WithContext(context.WithValue(req.Context(), userIDKey, claims.Subject))
		return nil
	}
}

// JwtAuth creates a chi middleware that validates JWT bearer tokens.
// Missing or invalid tokens get 401, scope violations 403.
func JwtAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := authenticate(r, jwtSecret)
			if err != nil {
				var ae *authError
				errors.As(err, &ae)
				logger.FromContext(r.Context()).DebugContext(r.Context(), "authentication failed",
					"reason", ae.message, "method", r.Method)
				OapiErrorHandler(w, ae.message, ae.status)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, claims.Subject)))
		})
	}
}

// OapiErrorHandler writes request validation failures in the API's error shape.
func OapiErrorHandler(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `{"code":"%s","message":"%s"}`,
		http.StatusText(statusCode),
		strings.ReplaceAll(message, `"`, `'`))
}

// GetUserIDFromContext returns the token subject of an authenticated request.
func GetUserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}

func isWriteOperation(method string) bool {
	switch method {
	case http.MethodPut, http.MethodPost, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
