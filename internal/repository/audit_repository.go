package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carelog/authcore/internal/database"
	"github.com/carelog/authcore/internal/model"
	"github.com/google/uuid"
)

const auditColumns = `id, actor_id, scope_id, action, entity_type, entity_id, description,
	before_state, after_state, outcome, error_message, ip_address, user_agent, created_at, signature`

// AuditRepository persists audit records. The table is append-only: there is
// no update or delete method, and the schema rejects both.
type AuditRepository struct {
	db *database.Postgres
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts a signed audit record in a single statement
func (r *AuditRepository) Create(ctx context.Context, rec *model.AuditRecord) error {
	if rec.ID == "" || rec.Signature == "" {
		return fmt.Errorf("%w: audit record needs an id and a signature", ErrInvalidInput)
	}

	query := `
		INSERT INTO audit_records (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.ActorID,
		rec.ScopeID,
		string(rec.Action),
		rec.EntityType,
		rec.EntityID,
		rec.Description,
		nullableJSON(rec.Before),
		nullableJSON(rec.After),
		string(rec.Outcome),
		rec.ErrorMessage,
		rec.IPAddress,
		rec.UserAgent,
		rec.CreatedAt,
		rec.Signature,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit record: %w", err)
	}
	return nil
}

// GetByID retrieves a single audit record
func (r *AuditRepository) GetByID(ctx context.Context, id string) (*model.AuditRecord, error) {
	// ids are UUIDs; anything else cannot match a row
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query := `SELECT ` + auditColumns + ` FROM audit_records WHERE id = $1`

	rec, err := scanAuditRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return rec, nil
}

// ListByEntity returns the newest records for one entity, newest first
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType string, entityID int64, limit int) ([]*model.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	return r.list(ctx, query, entityType, entityID, limit)
}

// ListByActor returns the newest records written by one actor, newest first
func (r *AuditRepository) ListByActor(ctx context.Context, actorID int64, limit int) ([]*model.AuditRecord, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_records
		WHERE actor_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	return r.list(ctx, query, actorID, limit)
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.AuditRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*model.AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditRecord(row rowScanner) (*model.AuditRecord, error) {
	var (
		rec           model.AuditRecord
		action        string
		outcome       string
		before, after []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.ActorID,
		&rec.ScopeID,
		&action,
		&rec.EntityType,
		&rec.EntityID,
		&rec.Description,
		&before,
		&after,
		&outcome,
		&rec.ErrorMessage,
		&rec.IPAddress,
		&rec.UserAgent,
		&rec.CreatedAt,
		&rec.Signature,
	)
	if err != nil {
		return nil, err
	}

	rec.Action = model.ActionKind(action)
	rec.Outcome = model.Outcome(outcome)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if len(before) > 0 {
		rec.Before = json.RawMessage(before)
	}
	if len(after) > 0 {
		rec.After = json.RawMessage(after)
	}
	return &rec, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
