package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/carelog/authcore/internal/auth"
	"github.com/carelog/authcore/internal/config"
	"github.com/carelog/authcore/internal/database"
	"github.com/carelog/authcore/internal/logger"
	"github.com/carelog/authcore/internal/service"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthenticator struct {
	tokens *auth.TokenService
	err    error
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*auth.AccessClaims, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tokens.ValidateAccessToken(token, true)
}

func (s *stubAuthenticator) Touch(token string) (string, error) {
	return s.tokens.RefreshActivity(token)
}

func newTestMiddleware(t *testing.T, rateLimited bool) (*Middleware, *miniredis.Miniredis) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Security.RateLimiting = config.RateLimitingConfig{Enabled: rateLimited, DefaultLimit: 3, DefaultWindow: "1m"}

	if !rateLimited {
		return New(nil, logger.Nop(), cfg), nil
	}
	mr := miniredis.RunT(t)
	rdb := &database.Redis{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, logger.Nop(), cfg), mr
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService(config.TokenConfig{Secret: "middleware-test-secret"})
	require.NoError(t, err)
	return tokens
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func protected(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		w.Header().Set("X-User", strconv.FormatInt(claims.UserID, 10))
		w.Header().Set("X-Token", TokenFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth_ValidToken(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	tokens := newTestTokens(t)
	token, err := tokens.IssueAccessToken(auth.Identity{UserID: 1, Login: "admin"})
	require.NoError(t, err)

	h := mw.Auth(&stubAuthenticator{tokens: tokens})(protected(t))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-User"))
	refreshed := rec.Header().Get(RefreshedTokenHeader)
	require.NotEmpty(t, refreshed)
	assert.Equal(t, refreshed, rec.Header().Get("X-Token"))

	_, err = tokens.ValidateAccessToken(refreshed, true)
	assert.NoError(t, err)
}

func TestAuth_MissingOrBadScheme(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	h := mw.Auth(&stubAuthenticator{tokens: newTestTokens(t)})(protected(t))

	for _, header := range []string{"", "Basic abc", "bearer abc", "Bearer "} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Equal(t, "unauthorized", decodeErrorCode(t, rec), header)
	}
}

func TestAuth_ErrorMapping(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	tokens := newTestTokens(t)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"expired", &auth.ValidationError{Kind: auth.ErrExpired}, http.StatusUnauthorized, "token_expired"},
		{"inactive", &auth.ValidationError{Kind: auth.ErrInactive}, http.StatusUnauthorized, "session_inactive"},
		{"signature", &auth.ValidationError{Kind: auth.ErrSignatureInvalid}, http.StatusUnauthorized, "token_invalid_signature"},
		{"malformed", &auth.ValidationError{Kind: auth.ErrMalformedToken}, http.StatusUnauthorized, "token_malformed"},
		{"revoked", &auth.ValidationError{Kind: auth.ErrRevoked}, http.StatusUnauthorized, "token_revoked"},
		{"revocation down", service.ErrRevocationCheck, http.StatusServiceUnavailable, "service_unavailable"},
		{"unexpected", assert.AnError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := mw.Auth(&stubAuthenticator{tokens: tokens, err: tt.err})(protected(t))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer x.y.z")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeErrorCode(t, rec))
			assert.Empty(t, rec.Header().Get(RefreshedTokenHeader))
		})
	}
}

func TestAuth_NotYetValidSetsRetryAfter(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	nbf := time.Now().Add(30 * time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		NotBefore: jwt.NewNumericDate(nbf),
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)

	stub := &stubAuthenticator{tokens: newTestTokens(t), err: &auth.ValidationError{Kind: auth.ErrNotYetValid}}
	h := mw.Auth(stub)(protected(t))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_not_yet_valid", decodeErrorCode(t, rec))
	wait, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, wait, 29)
	assert.LessOrEqual(t, wait, 30)
}

func TestRateLimit(t *testing.T) {
	mw, mr := newTestMiddleware(t, true)
	h := mw.RateLimit(RateLimitConfig{Name: "login", Limit: 2, Window: time.Minute})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call().Code)
	second := call()
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	third := call()
	assert.Equal(t, http.StatusTooManyRequests, third.Code)
	assert.Equal(t, "rate_limit_exceeded", decodeErrorCode(t, third))
	assert.NotEmpty(t, third.Header().Get("Retry-After"))

	assert.Equal(t, time.Minute, mr.TTL("ratelimit:login:10.0.0.1"))
	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, call().Code)
}

func TestRateLimit_FailsOpen(t *testing.T) {
	mw, mr := newTestMiddleware(t, true)
	mr.Close()

	h := mw.RateLimit(RateLimitConfig{Limit: 1})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRequestIDAndRecover(t *testing.T) {
	mw, _ := newTestMiddleware(t, false)
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), mw.Recover, mw.RequestID, mw.Logger)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeErrorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-123", GetRequestID(r.Context()))
	})).ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1:1234", ClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientIP(req))
}
