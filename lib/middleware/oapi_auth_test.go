package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key-for-testing"

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func userClaims(sub string, extra jwt.MapClaims) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return claims
}

func TestJwtAuth(t *testing.T) {
	valid := signToken(t, testJWTSecret, jwt.SigningMethodHS256, userClaims("user-123", nil))
	readOnly := signToken(t, testJWTSecret, jwt.SigningMethodHS256, userClaims("viewer", jwt.MapClaims{"scope": ScopeRead}))
	badScope := signToken(t, testJWTSecret, jwt.SigningMethodHS256, userClaims("someone", jwt.MapClaims{"scope": "push"}))
	expired := signToken(t, testJWTSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongSecret := signToken(t, "wrong-secret", jwt.SigningMethodHS256, userClaims("user-123", nil))
	hs512 := signToken(t, testJWTSecret, jwt.SigningMethodHS512, userClaims("user-512", nil))

	tests := []struct {
		name     string
		method   string
		header   string
		wantCode int
		wantBody string
		wantUser string
	}{
		{name: "valid token", method: http.MethodPost, header: "Bearer " + valid, wantCode: http.StatusOK, wantUser: "user-123"},
		{name: "scheme is case insensitive", method: http.MethodGet, header: "bearer " + valid, wantCode: http.StatusOK, wantUser: "user-123"},
		{name: "HS512 token", method: http.MethodGet, header: "Bearer " + hs512, wantCode: http.StatusOK, wantUser: "user-512"},
		{name: "read token lists vms", method: http.MethodGet, header: "Bearer " + readOnly, wantCode: http.StatusOK, wantUser: "viewer"},
		{name: "read token cannot hotplug", method: http.MethodPut, header: "Bearer " + readOnly, wantCode: http.StatusForbidden, wantBody: "does not allow write operations"},
		{name: "unknown scope", method: http.MethodGet, header: "Bearer " + badScope, wantCode: http.StatusForbidden, wantBody: "invalid token scope"},
		{name: "missing header", method: http.MethodGet, wantCode: http.StatusUnauthorized, wantBody: "authorization header required"},
		{name: "basic auth", method: http.MethodGet, header: "Basic abc123", wantCode: http.StatusUnauthorized, wantBody: "invalid authorization header format"},
		{name: "bearer without token", method: http.MethodGet, header: "Bearer", wantCode: http.StatusUnauthorized, wantBody: "invalid authorization header format"},
		{name: "expired token", method: http.MethodGet, header: "Bearer " + expired, wantCode: http.StatusUnauthorized, wantBody: "invalid token"},
		{name: "wrong secret", method: http.MethodGet, header: "Bearer " + wrongSecret, wantCode: http.StatusUnauthorized, wantBody: "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			handler := JwtAuth(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = GetUserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/vms", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			if tt.wantBody != "" {
				assert.Contains(t, rr.Body.String(), tt.wantBody)
			}
			assert.Equal(t, tt.wantUser, gotUser)
		})
	}
}

func TestJwtAuth_RejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, userClaims("mallory", nil)).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	handler := JwtAuth(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/vms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOapiAuthenticationFunc(t *testing.T) {
	authFn := OapiAuthenticationFunc(testJWTSecret)
	bearer := &openapi3.SecurityScheme{Type: "http", Scheme: "bearer"}

	newInput := func(method, header string, scheme *openapi3.SecurityScheme) *openapi3filter.AuthenticationInput {
		req := httptest.NewRequest(method, "/vms", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		return &openapi3filter.AuthenticationInput{
			RequestValidationInput: &openapi3filter.RequestValidationInput{Request: req},
			SecuritySchemeName:     "bearerAuth",
			SecurityScheme:         scheme,
		}
	}

	t.Run("stores the subject on the request", func(t *testing.T) {
		token := signToken(t, testJWTSecret, jwt.SigningMethodHS256, userClaims("user-123", nil))
		input := newInput(http.MethodPost, "Bearer "+token, bearer)

		require.NoError(t, authFn(context.Background(), input))
		assert.Equal(t, "user-123", GetUserIDFromContext(input.RequestValidationInput.Request.Context()))
	})

	t.Run("no security scheme", func(t *testing.T) {
		assert.NoError(t, authFn(context.Background(), newInput(http.MethodGet, "", nil)))
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		input := newInput(http.MethodGet, "", &openapi3.SecurityScheme{Type: "apiKey"})
		assert.ErrorContains(t, authFn(context.Background(), input), "unsupported security scheme")
	})

	t.Run("read scope on a write", func(t *testing.T) {
		token := signToken(t, testJWTSecret, jwt.SigningMethodHS256, userClaims("viewer", jwt.MapClaims{"scope": ScopeRead}))
		input := newInput(http.MethodDelete, "Bearer "+token, bearer)
		assert.ErrorContains(t, authFn(context.Background(), input), "does not allow write operations")
	})
}
