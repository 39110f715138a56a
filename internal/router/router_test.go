package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carelog/authcore/internal/auth"
	"github.com/carelog/authcore/internal/config"
	"github.com/carelog/authcore/internal/handler"
	"github.com/carelog/authcore/internal/logger"
	"github.com/carelog/authcore/internal/metrics"
	"github.com/carelog/authcore/internal/middleware"
	"github.com/carelog/authcore/internal/model"
	"github.com/carelog/authcore/internal/repository"
	"github.com/carelog/authcore/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	mu    sync.Mutex
	users map[int64]*model.User
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetByLogin(_ context.Context, login string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) UpdatePasswordHash(context.Context, int64, string) error { return nil }

func (m *memUsers) IncrementFailedAttempts(_ context.Context, id int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].FailedAttempts++
	return m.users[id].FailedAttempts, nil
}

func (m *memUsers) ResetFailedAttempts(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].FailedAttempts = 0
	return nil
}

func (m *memUsers) LockUntil(_ context.Context, id int64, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id].LockedUntil = &until
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	records []*model.AuditRecord
}

func (m *memAudit) Create(_ context.Context, rec *model.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *memAudit) GetByID(_ context.Context, id string) (*model.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAudit) ListByEntity(_ context.Context, entityType string, entityID int64, limit int) ([]*model.AuditRecord, error) {
	return m.list(limit, func(r *model.AuditRecord) bool { return r.EntityType == entityType && r.EntityID == entityID }), nil
}

func (m *memAudit) ListByActor(_ context.Context, actorID int64, limit int) ([]*model.AuditRecord, error) {
	return m.list(limit, func(r *model.AuditRecord) bool { return r.ActorID == actorID }), nil
}

func (m *memAudit) list(limit int, match func(*model.AuditRecord) bool) []*model.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.AuditRecord
	for _, rec := range m.records {
		if match(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func (m *memDenylist) Revoke(_ context.Context, id string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[id] = until
	return nil
}

func (m *memDenylist) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[id]
	return ok, nil
}

type testServer struct {
	http.Handler
	audit *memAudit
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{}
	log := logger.Nop()
	m := metrics.New()

	tokens, err := auth.NewTokenService(config.TokenConfig{Secret: "router-test-secret"})
	require.NoError(t, err)
	signer, err := auth.NewAuditSigner("router-audit-secret")
	require.NoError(t, err)
	hasher := auth.NewPasswordHasher(config.PasswordConfig{Argon2Memory: 1024, Argon2Iterations: 1, Argon2Parallelism: 1})
	hash, err := hasher.Hash("correct horse")
	require.NoError(t, err)

	users := &memUsers{users: map[int64]*model.User{
		42: {
			ID: 42, Email: "dr.martin@example.com", Login: "dmartin", PasswordHash: hash,
			Status: model.UserStatusActive, ScopeID: 7,
			Role: model.Role{ID: 3, Name: "Medecin"}, Profile: model.Profile{ID: 5, Name: "Cardiologie"},
		},
	}}
	audits := &memAudit{}

	auditSvc := service.NewAuditService(audits, signer, cfg.Audit, m, log)
	sessionSvc := service.NewSessionService(users, tokens, hasher, auditSvc, &memDenylist{revoked: map[string]time.Time{}}, nil, m, log)

	h := handler.New(nil, nil, log, cfg, sessionSvc, auditSvc, m)
	mw := middleware.New(nil, log, cfg)
	return &testServer{Handler: New(h, mw, sessionSvc, m), audit: audits}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) auth.TokenPair {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"login": "dmartin", "password": "correct horse"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair auth.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestLoginAndSession(t *testing.T) {
	srv := newTestServer(t)
	pair := srv.login(t)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.RefreshToken)

	rec := srv.do(t, http.MethodGet, "/api/v1/session", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RefreshedTokenHeader))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var info model.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, int64(42), info.UserID)
	assert.Equal(t, "Medecin", info.RoleName)
	assert.Positive(t, info.InactivityExpiresIn)

	bad := srv.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"login": "dmartin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, bad))

	missing := srv.do(t, http.MethodGet, "/api/v1/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
}

func TestRefreshAndLogout(t *testing.T) {
	srv := newTestServer(t)
	pair := srv.login(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var refreshed auth.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refreshed))
	assert.NotEmpty(t, refreshed.AccessToken)

	wrongType := srv.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", map[string]string{"refreshToken": pair.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, wrongType.Code)
	assert.Equal(t, "token_malformed", errorCode(t, wrongType))

	out := srv.do(t, http.MethodPost, "/api/v1/auth/logout", pair.AccessToken, map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
	assert.Empty(t, out.Header().Get(middleware.RefreshedTokenHeader))

	after := srv.do(t, http.MethodGet, "/api/v1/session", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, after.Code)
	assert.Equal(t, "token_revoked", errorCode(t, after))

	again := srv.do(t, http.MethodPost, "/api/v1/auth/token/refresh", "", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, "token_revoked", errorCode(t, again))

	// The access token minted by refresh is a separate jti.
	still := srv.do(t, http.MethodGet, "/api/v1/session", refreshed.AccessToken, nil)
	assert.Equal(t, http.StatusOK, still.Code)
}

func TestTokenHint(t *testing.T) {
	srv := newTestServer(t)
	pair := srv.login(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/auth/token/hint", "", map[string]string{"token": pair.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Verified bool                   `json:"verified"`
		Claims   map[string]interface{} `json:"claims"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Verified)
	assert.Equal(t, "dmartin", body.Claims["login"])

	junk := srv.do(t, http.MethodPost, "/api/v1/auth/token/hint", "", map[string]string{"token": "not-a-jwt"})
	assert.Equal(t, http.StatusBadRequest, junk.Code)
}

func TestAuditEndpoints(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t).AccessToken

	rec := srv.do(t, http.MethodPost, "/api/v1/audit/records", token, map[string]interface{}{
		"action":      "UPDATE",
		"entityType":  "Patient",
		"entityId":    99,
		"description": "renamed patient",
		"before":      map[string]string{"nom": "Dupont"},
		"after":       map[string]string{"nom": "Durand"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created model.AuditRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(42), created.ActorID)
	assert.Equal(t, int64(7), created.ScopeID)
	assert.NotEmpty(t, created.Signature)

	// Scope comes from the caller's account, never from the body.
	forged := srv.do(t, http.MethodPost, "/api/v1/audit/records", token, map[string]interface{}{
		"scopeId":    99,
		"action":     "READ",
		"entityType": "Patient",
		"entityId":   99,
	})
	assert.Equal(t, http.StatusBadRequest, forged.Code)

	nullBefore := srv.do(t, http.MethodPost, "/api/v1/audit/records", token, map[string]interface{}{
		"action":     "UPDATE",
		"entityType": "Patient",
		"entityId":   99,
		"before":     nil,
		"after":      map[string]string{"nom": "Durand"},
	})
	assert.Equal(t, http.StatusBadRequest, nullBefore.Code)

	invalid := srv.do(t, http.MethodPost, "/api/v1/audit/records", token, map[string]interface{}{"action": "PURGE", "entityType": "Patient"})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	history := srv.do(t, http.MethodGet, "/api/v1/audit/entities/Patient/99?limit=10", token, nil)
	require.Equal(t, http.StatusOK, history.Code)
	var list struct {
		Records []model.AuditRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(history.Body.Bytes(), &list))
	require.Len(t, list.Records, 1)
	assert.JSONEq(t, `{"nom":"Durand"}`, string(list.Records[0].After))

	actor := srv.do(t, http.MethodGet, "/api/v1/audit/actors/42", token, nil)
	require.Equal(t, http.StatusOK, actor.Code)
	require.NoError(t, json.Unmarshal(actor.Body.Bytes(), &list))
	assert.Len(t, list.Records, 2) // login + update

	verify := srv.do(t, http.MethodGet, "/api/v1/audit/entities/Patient/99/verify", token, nil)
	require.Equal(t, http.StatusOK, verify.Code)
	var report service.VerificationReport
	require.NoError(t, json.Unmarshal(verify.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Valid)

	srv.audit.mu.Lock()
	for _, r := range srv.audit.records {
		if r.ID == created.ID {
			r.ActorID = 1
		}
	}
	srv.audit.mu.Unlock()

	verify = srv.do(t, http.MethodGet, "/api/v1/audit/entities/Patient/99/verify", token, nil)
	require.NoError(t, json.Unmarshal(verify.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Valid)
	require.Len(t, report.Suspect, 1)

	one := srv.do(t, http.MethodGet, "/api/v1/audit/records/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, one.Code)
	assert.Contains(t, one.Body.String(), `"valid":false`)

	notFound := srv.do(t, http.MethodGet, "/api/v1/audit/records/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, notFound.Code)

	badID := srv.do(t, http.MethodGet, "/api/v1/audit/actors/abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, badID.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.login(t)

	rec := srv.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `authcore_logins_total{outcome="SUCCESS"} 1`), body)
	assert.Contains(t, body, `http_requests_total{method="POST",path="/api/v1/auth/login",status="200"} 1`)
}
