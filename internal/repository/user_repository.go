package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/carelog/authcore/internal/database"
	"github.com/carelog/authcore/internal/model"
)

const userSelect = `
	SELECT u.id, u.email, u.login, u.password_hash, u.status, u.scope_id,
	       r.id, r.name, p.id, p.name,
	       u.failed_attempts, u.locked_until, u.created_at, u.updated_at
	FROM users u
	JOIN roles r ON r.id = u.role_id
	JOIN profiles p ON p.id = u.profile_id
`

// UserRepository handles user data persistence
type UserRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.Postgres) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user and fills in its generated id
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (email, login, password_hash, status, scope_id, role_id, profile_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		user.Email,
		user.Login,
		user.PasswordHash,
		user.Status,
		user.ScopeID,
		user.Role.ID,
		user.Profile.ID,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user with role and profile
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, userSelect+` WHERE u.id = $1`, id))
}

// GetByLogin retrieves a user with role and profile by login name
func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	return r.scanUser(r.db.QueryRowContext(ctx, userSelect+` WHERE u.login = $1`, login))
}

// UpdatePasswordHash replaces the stored hash, used when parameters are upgraded
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	query := `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, hash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementFailedAttempts increments the failed login attempts counter
func (r *UserRepository) IncrementFailedAttempts(ctx context.Context, id int64) (int, error) {
	query := `
		UPDATE users
		SET failed_attempts = failed_attempts + 1
		WHERE id = $1
		RETURNING failed_attempts
	`
	var attempts int
	err := r.db.QueryRowContext(ctx, query, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to increment failed attempts: %w", err)
	}
	return attempts, nil
}

// ResetFailedAttempts resets the failed login attempts counter
func (r *UserRepository) ResetFailedAttempts(ctx context.Context, id int64) error {
	query := `UPDATE users SET failed_attempts = 0, locked_until = NULL WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset failed attempts: %w", err)
	}
	return nil
}

// LockUntil locks the user account until the specified time
func (r *UserRepository) LockUntil(ctx context.Context, id int64, until time.Time) error {
	query := `UPDATE users SET locked_until = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, until, id)
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}
	return nil
}

func (r *UserRepository) scanUser(row *sql.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Login,
		&user.PasswordHash,
		&user.Status,
		&user.ScopeID,
		&user.Role.ID,
		&user.Role.Name,
		&user.Profile.ID,
		&user.Profile.Name,
		&user.FailedAttempts,
		&user.LockedUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}
