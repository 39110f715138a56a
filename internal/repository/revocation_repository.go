package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/carelog/authcore/internal/database"
)

const revokedKeyPrefix = "revoked:"

// RevocationRepository keeps revoked token ids in Redis. Each key expires
// with the token it denies, so the set never outgrows the live tokens.
type RevocationRepository struct {
	redis *database.Redis
	now   func() time.Time
}

// NewRevocationRepository creates a new RevocationRepository
func NewRevocationRepository(redis *database.Redis) *RevocationRepository {
	return &RevocationRepository{redis: redis, now: time.Now}
}

// Revoke denies tokenID until the given time. Already expired tokens are a no-op.
func (r *RevocationRepository) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return ErrInvalidInput
	}
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.redis.SetWithTTL(ctx, revokedKeyPrefix+tokenID, "1", ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether tokenID is on the denylist
func (r *RevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.redis.Exists(ctx, revokedKeyPrefix+tokenID)
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return n > 0, nil
}
