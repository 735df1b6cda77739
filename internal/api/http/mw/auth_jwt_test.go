package mw

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseoracle/internal/security"
)

func newTestVerifier(t *testing.T, audience, issuer string) (*rsa.PrivateKey, *security.RS256Verifier) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	pubPath := filepath.Join(t.TempDir(), "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	}), 0o600))

	v, err := security.NewRS256Verifier(pubPath, audience, issuer)
	require.NoError(t, err)

	return key, v
}

func createTestToken(t *testing.T, key *rsa.PrivateKey, sub, aud, iss string, expiry time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Audience:  jwt.ClaimStrings{aud},
		Issuer:    iss,
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return tokenString
}

func TestNewJWTMiddlewarePanicsOnNilVerifier(t *testing.T) {
	assert.Panics(t, func() {
		NewJWTMiddleware(nil)
	})
}

func TestJWTMiddlewareValidToken(t *testing.T) {
	key, verifier := newTestVerifier(t, "oracle-api", "oracle-issuer")
	middleware := NewJWTMiddleware(verifier)

	token := createTestToken(t, key, "user123", "oracle-api", "oracle-issuer", time.Hour)

	nextCalled := false
	var capturedSubject string
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		capturedSubject = subjectFromContext(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.True(t, nextCalled)
	assert.Equal(t, "user123", capturedSubject)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTMiddlewareMissingOrMalformedHeader(t *testing.T) {
	_, verifier := newTestVerifier(t, "oracle-api", "oracle-issuer")
	middleware := NewJWTMiddleware(verifier)

	nextCalled := false
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))

	for _, header := range []string{"", "Bearer", "Bearer ", "sometoken", "Basic abc"} {
		nextCalled = false

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.False(t, nextCalled, "header=%q", header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header=%q", header)
	}
}

func TestJWTMiddlewareExpiredToken(t *testing.T) {
	key, verifier := newTestVerifier(t, "oracle-api", "oracle-issuer")
	middleware := NewJWTMiddleware(verifier)

	token := createTestToken(t, key, "user123", "oracle-api", "oracle-issuer", -2*time.Hour)

	nextCalled := false
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddlewareWrongAudience(t *testing.T) {
	key, verifier := newTestVerifier(t, "oracle-api", "oracle-issuer")
	middleware := NewJWTMiddleware(verifier)

	token := createTestToken(t, key, "user123", "some-other-api", "oracle-issuer", time.Hour)

	nextCalled := false
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddlewareWrongSignature(t *testing.T) {
	_, verifier := newTestVerifier(t, "oracle-api", "oracle-issuer")
	otherKey, _ := newTestVerifier(t, "oracle-api", "oracle-issuer")
	middleware := NewJWTMiddleware(verifier)

	token := createTestToken(t, otherKey, "user123", "oracle-api", "oracle-issuer", time.Hour)

	nextCalled := false
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
