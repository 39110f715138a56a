package router

import (
	"net/http"
	"time"

	"github.com/carelog/authcore/internal/handler"
	"github.com/carelog/authcore/internal/metrics"
	"github.com/carelog/authcore/internal/middleware"
)

// New creates and configures the HTTP router
func New(h *handler.Handler, mw *middleware.Middleware, authn middleware.Authenticator, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoints (no auth required)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /metrics", h.Metrics)

	mux.HandleFunc("GET /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"authcore API v1","version":"` + handler.Version + `"}`))
	})

	// Public authentication routes (rate limited)
	loginRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "login",
		Limit:  5,
		Window: 15 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	refreshRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:   "refresh",
		Limit:  10,
		Window: 1 * time.Minute,
		KeyFn:  middleware.IPKey,
	})
	hintRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:  "hint",
		KeyFn: middleware.IPKey,
	})

	mux.Handle("POST /api/v1/auth/login", loginRateLimit(http.HandlerFunc(h.Login)))
	mux.Handle("POST /api/v1/auth/token/refresh", refreshRateLimit(http.HandlerFunc(h.RefreshToken)))
	mux.Handle("POST /api/v1/auth/token/hint", hintRateLimit(http.HandlerFunc(h.TokenHint)))

	// Protected routes (require auth)
	authMw := mw.Auth(authn)
	userRateLimit := mw.RateLimit(middleware.RateLimitConfig{
		Name:  "user",
		KeyFn: middleware.UserKey,
	})
	protected := func(fn http.HandlerFunc) http.Handler {
		return middleware.Chain(fn, authMw, userRateLimit)
	}

	mux.Handle("POST /api/v1/auth/logout", protected(h.Logout))
	mux.Handle("GET /api/v1/session", protected(h.GetSession))

	// Audit trail
	mux.Handle("POST /api/v1/audit/records", protected(h.RecordAudit))
	mux.Handle("GET /api/v1/audit/records/{id}", protected(h.GetAuditRecord))
	mux.Handle("GET /api/v1/audit/entities/{type}/{id}", protected(h.EntityHistory))
	mux.Handle("GET /api/v1/audit/entities/{type}/{id}/verify", protected(h.VerifyEntityHistory))
	mux.Handle("GET /api/v1/audit/actors/{id}", protected(h.ActorHistory))
	mux.Handle("GET /api/v1/audit/actors/{id}/verify", protected(h.VerifyActorHistory))

	// Apply middleware stack; panic recovery is outermost.
	return middleware.Chain(mux,
		mw.Recover,
		mw.RequestID,
		m.Instrument,
		mw.Logger,
	)
}
