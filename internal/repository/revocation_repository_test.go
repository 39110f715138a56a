package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/carelog/authcore/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*database.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &database.Redis{Client: client}, mr
}

func TestRevocationRepository_RevokeAndExpire(t *testing.T) {
	rdb, mr := newTestRedis(t)
	repo := NewRevocationRepository(rdb)
	ctx := context.Background()

	revoked, err := repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, repo.Revoke(ctx, "jti-1", time.Now().Add(10*time.Minute)))

	revoked, err = repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, mr.Exists("revoked:jti-1"))

	ttl := mr.TTL("revoked:jti-1")
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)

	mr.FastForward(11 * time.Minute)
	revoked, err = repo.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRevocationRepository_AlreadyExpired(t *testing.T) {
	rdb, mr := newTestRedis(t)
	repo := NewRevocationRepository(rdb)

	require.NoError(t, repo.Revoke(context.Background(), "jti-old", time.Now().Add(-time.Minute)))
	assert.False(t, mr.Exists("revoked:jti-old"))

	assert.ErrorIs(t, repo.Revoke(context.Background(), "", time.Now().Add(time.Minute)), ErrInvalidInput)
}

func TestRevocationRepository_RedisDown(t *testing.T) {
	rdb, mr := newTestRedis(t)
	repo := NewRevocationRepository(rdb)
	mr.Close()

	_, err := repo.IsRevoked(context.Background(), "jti-1")
	assert.Error(t, err)
}
