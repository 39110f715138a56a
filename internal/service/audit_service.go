package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/carelog/authcore/internal/auth"
	"github.com/carelog/authcore/internal/config"
	"github.com/carelog/authcore/internal/logger"
	"github.com/carelog/authcore/internal/metrics"
	"github.com/carelog/authcore/internal/model"
	"github.com/google/uuid"
)

// Audit service errors
var (
	ErrInvalidAuditEntry = errors.New("invalid audit entry")
	ErrAuditPersistence  = errors.New("audit record could not be persisted")
)

// AuditStore is the append-only persistence the audit service writes to.
// Implemented by repository.AuditRepository.
type AuditStore interface {
	Create(ctx context.Context, rec *model.AuditRecord) error
	GetByID(ctx context.Context, id string) (*model.AuditRecord, error)
	ListByEntity(ctx context.Context, entityType string, entityID int64, limit int) ([]*model.AuditRecord, error)
	ListByActor(ctx context.Context, actorID int64, limit int) ([]*model.AuditRecord, error)
}

// AuditEntry is the input of Record. Before and After are marshaled to JSON;
// nil means the snapshot is absent.
type AuditEntry struct {
	ActorID      int64
	ScopeID      int64
	Action       model.ActionKind
	EntityType   string
	EntityID     int64
	Description  string
	Before       interface{}
	After        interface{}
	Origin       *model.Origin
	Outcome      model.Outcome
	ErrorMessage string
}

// AuditService writes signed audit records and checks them later.
type AuditService struct {
	store        AuditStore
	signer       *auth.AuditSigner
	defaultLimit int
	maxLimit     int
	metrics      *metrics.Metrics
	log          *logger.Logger
	now          func() time.Time
}

// NewAuditService creates a new AuditService
func NewAuditService(store AuditStore, signer *auth.AuditSigner, cfg config.AuditConfig, m *metrics.Metrics, log *logger.Logger) *AuditService {
	s := &AuditService{
		store:        store,
		signer:       signer,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		metrics:      m,
		log:          log.WithComponent("audit_service"),
		now:          time.Now,
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 50
	}
	if s.maxLimit <= 0 {
		s.maxLimit = 500
	}
	return s
}

// Record builds, signs and persists one audit record. A persistence failure
// is returned to the caller; the record is never silently dropped.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) (*model.AuditRecord, error) {
	if entry.Outcome == "" {
		entry.Outcome = model.OutcomeSuccess
	}
	if !entry.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidAuditEntry, entry.Action)
	}
	if !entry.Outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrInvalidAuditEntry, entry.Outcome)
	}
	if entry.EntityType == "" {
		return nil, fmt.Errorf("%w: entity type is required", ErrInvalidAuditEntry)
	}

	before, err := snapshot(entry.Before)
	if err != nil {
		return nil, fmt.Errorf("%w: before: %v", ErrInvalidAuditEntry, err)
	}
	after, err := snapshot(entry.After)
	if err != nil {
		return nil, fmt.Errorf("%w: after: %v", ErrInvalidAuditEntry, err)
	}
	if entry.Action == model.ActionUpdate && (before == nil || after == nil) {
		return nil, fmt.Errorf("%w: update needs before and after snapshots", ErrInvalidAuditEntry)
	}

	rec := &model.AuditRecord{
		ID:          uuid.NewString(),
		ActorID:     entry.ActorID,
		ScopeID:     entry.ScopeID,
		Action:      entry.Action,
		EntityType:  entry.EntityType,
		EntityID:    entry.EntityID,
		Description: entry.Description,
		Before:      before,
		After:       after,
		Outcome:     entry.Outcome,
		// Stored precision is microseconds, so sign what will be read back.
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if entry.ErrorMessage != "" {
		rec.ErrorMessage = &entry.ErrorMessage
	}
	if entry.Origin != nil {
		rec.IPAddress = optional(entry.Origin.IPAddress)
		rec.UserAgent = optional(entry.Origin.UserAgent)
	}
	rec.Signature = s.signer.Sign(rec)

	if err := s.store.Create(ctx, rec); err != nil {
		s.log.Error().Err(err).
			Str("action", string(rec.Action)).
			Str("entity_type", rec.EntityType).
			Int64("entity_id", rec.EntityID).
			Msg("failed to persist audit record")
		return nil, fmt.Errorf("%w: %v", ErrAuditPersistence, err)
	}

	s.metrics.ObserveAuditRecord(string(rec.Action), string(rec.Outcome))
	return rec, nil
}

// RecordCreate audits the creation of an entity; there is no before state.
func (s *AuditService) RecordCreate(ctx context.Context, actorID, scopeID int64, entityType string, entityID int64, description string, after interface{}, origin *model.Origin) (*model.AuditRecord, error) {
	return s.Record(ctx, AuditEntry{
		ActorID:     actorID,
		ScopeID:     scopeID,
		Action:      model.ActionCreate,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
		After:       after,
		Origin:      origin,
	})
}

// RecordUpdate audits a modification. Both snapshots are required.
func (s *AuditService) RecordUpdate(ctx context.Context, actorID, scopeID int64, entityType string, entityID int64, description string, before, after interface{}, origin *model.Origin) (*model.AuditRecord, error) {
	return s.Record(ctx, AuditEntry{
		ActorID:     actorID,
		ScopeID:     scopeID,
		Action:      model.ActionUpdate,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
		Before:      before,
		After:       after,
		Origin:      origin,
	})
}

// RecordDelete audits a deletion; there is no after state.
func (s *AuditService) RecordDelete(ctx context.Context, actorID, scopeID int64, entityType string, entityID int64, description string, before interface{}, origin *model.Origin) (*model.AuditRecord, error) {
	return s.Record(ctx, AuditEntry{
		ActorID:     actorID,
		ScopeID:     scopeID,
		Action:      model.ActionDelete,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
		Before:      before,
		Origin:      origin,
	})
}

// RecordAccess audits a read, export or import. No snapshots are kept.
func (s *AuditService) RecordAccess(ctx context.Context, actorID, scopeID int64, action model.ActionKind, entityType string, entityID int64, description string, origin *model.Origin) (*model.AuditRecord, error) {
	switch action {
	case model.ActionRead, model.ActionExport, model.ActionImport:
	default:
		return nil, fmt.Errorf("%w: %s is not an access action", ErrInvalidAuditEntry, action)
	}
	return s.Record(ctx, AuditEntry{
		ActorID:     actorID,
		ScopeID:     scopeID,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		Description: description,
		Origin:      origin,
	})
}

// RecordLogin audits a login attempt. On failure the reason is kept as the
// error message.
func (s *AuditService) RecordLogin(ctx context.Context, userID, scopeID int64, success bool, reason string, origin *model.Origin) (*model.AuditRecord, error) {
	entry := AuditEntry{
		ActorID:     userID,
		ScopeID:     scopeID,
		Action:      model.ActionLogin,
		EntityType:  model.EntityUser,
		EntityID:    userID,
		Description: "login succeeded",
		Origin:      origin,
		Outcome:     model.OutcomeSuccess,
	}
	if !success {
		entry.Description = "login failed"
		entry.Outcome = model.OutcomeFailure
		entry.ErrorMessage = reason
	}
	return s.Record(ctx, entry)
}

// RecordLogout audits the end of a session.
func (s *AuditService) RecordLogout(ctx context.Context, userID, scopeID int64, origin *model.Origin) (*model.AuditRecord, error) {
	return s.Record(ctx, AuditEntry{
		ActorID:     userID,
		ScopeID:     scopeID,
		Action:      model.ActionLogout,
		EntityType:  model.EntityUser,
		EntityID:    userID,
		Description: "logout",
		Origin:      origin,
	})
}

// Verify reports whether rec still matches its signature. A mismatch is
// logged as a security event; it is never an error.
func (s *AuditService) Verify(rec *model.AuditRecord) bool {
	if s.signer.Verify(rec) {
		return true
	}

	fields := map[string]interface{}{}
	if rec != nil {
		fields["audit_id"] = rec.ID
		fields["entity_type"] = rec.EntityType
		fields["entity_id"] = rec.EntityID
	}
	s.log.SecurityEvent("audit_signature_mismatch", fields)
	s.metrics.ObserveAuditVerifyFailures(1)
	return false
}

// Get returns a single record by id.
func (s *AuditService) Get(ctx context.Context, id string) (*model.AuditRecord, error) {
	return s.store.GetByID(ctx, id)
}

// History returns the newest records for an entity, newest first.
func (s *AuditService) History(ctx context.Context, entityType string, entityID int64, limit int) ([]*model.AuditRecord, error) {
	records, err := s.store.ListByEntity(ctx, entityType, entityID, s.clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to load entity history: %w", err)
	}
	return records, nil
}

// HistoryForActor returns the newest records written by an actor, newest first.
func (s *AuditService) HistoryForActor(ctx context.Context, actorID int64, limit int) ([]*model.AuditRecord, error) {
	records, err := s.store.ListByActor(ctx, actorID, s.clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to load actor history: %w", err)
	}
	return records, nil
}

// VerificationReport summarizes a verification pass over a history window.
type VerificationReport struct {
	Checked int                  `json:"checked"`
	Valid   int                  `json:"valid"`
	Suspect []*model.AuditRecord `json:"suspect"`
}

// VerifyHistory checks every record of an entity history window.
func (s *AuditService) VerifyHistory(ctx context.Context, entityType string, entityID int64, limit int) (*VerificationReport, error) {
	records, err := s.History(ctx, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	return s.verifyAll(records), nil
}

// VerifyActorHistory checks every record of an actor history window.
func (s *AuditService) VerifyActorHistory(ctx context.Context, actorID int64, limit int) (*VerificationReport, error) {
	records, err := s.HistoryForActor(ctx, actorID, limit)
	if err != nil {
		return nil, err
	}
	return s.verifyAll(records), nil
}

func (s *AuditService) verifyAll(records []*model.AuditRecord) *VerificationReport {
	report := &VerificationReport{Checked: len(records), Suspect: []*model.AuditRecord{}}
	for _, rec := range records {
		if s.Verify(rec) {
			report.Valid++
			continue
		}
		report.Suspect = append(report.Suspect, rec)
	}
	return report
}

func (s *AuditService) clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultLimit
	case limit > s.maxLimit:
		return s.maxLimit
	}
	return limit
}

// snapshot encodes v; nil, typed nils and JSON null all mean "no snapshot".
func snapshot(v interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if !json.Valid(t) && len(t) > 0 {
			return nil, errors.New("snapshot is not valid JSON")
		}
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	return raw, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
