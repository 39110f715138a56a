package auth

import (
	"context"
	"time"
)

// Denylist stores revoked token ids until the token would have expired anyway.
// TokenService never consults it; session handling does.
type Denylist interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}
