package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/carelog/authcore/internal/config"
	"github.com/carelog/authcore/internal/logger"
	"github.com/carelog/authcore/internal/metrics"
	"github.com/carelog/authcore/internal/middleware"
	"github.com/carelog/authcore/internal/model"
	"github.com/carelog/authcore/internal/service"
)

// HealthChecker is implemented by database.Postgres and database.Redis.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers
type Handler struct {
	db         HealthChecker
	rdb        HealthChecker
	log        *logger.Logger
	cfg        *config.Config
	sessionSvc *service.SessionService
	auditSvc   *service.AuditService
	metrics    *metrics.Metrics
}

// New creates a new Handler instance
func New(db, rdb HealthChecker, log *logger.Logger, cfg *config.Config, sessionSvc *service.SessionService, auditSvc *service.AuditService, m *metrics.Metrics) *Handler {
	return &Handler{
		db:         db,
		rdb:        rdb,
		log:        log.WithComponent("handler"),
		cfg:        cfg,
		sessionSvc: sessionSvc,
		auditSvc:   auditSvc,
		metrics:    m,
	}
}

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func originOf(r *http.Request) *model.Origin {
	return &model.Origin{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// queryLimit reads ?limit=; absent or unparsable means the service default.
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
