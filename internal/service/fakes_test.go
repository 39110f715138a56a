package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/carelog/authcore/internal/model"
	"github.com/carelog/authcore/internal/repository"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeAuditStore struct {
	mu        sync.Mutex
	records   []*model.AuditRecord
	createErr error
	lastLimit int
}

func (f *fakeAuditStore) Create(_ context.Context, rec *model.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	stored := *rec
	f.records = append(f.records, &stored)
	return nil
}

func (f *fakeAuditStore) GetByID(_ context.Context, id string) (*model.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ID == id {
			out := *rec
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAuditStore) ListByEntity(_ context.Context, entityType string, entityID int64, limit int) ([]*model.AuditRecord, error) {
	return f.list(limit, func(r *model.AuditRecord) bool {
		return r.EntityType == entityType && r.EntityID == entityID
	}), nil
}

func (f *fakeAuditStore) ListByActor(_ context.Context, actorID int64, limit int) ([]*model.AuditRecord, error) {
	return f.list(limit, func(r *model.AuditRecord) bool { return r.ActorID == actorID }), nil
}

func (f *fakeAuditStore) list(limit int, match func(*model.AuditRecord) bool) []*model.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = limit

	var out []*model.AuditRecord
	for _, rec := range f.records {
		if match(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeAuditStore) byAction(action model.ActionKind) []*model.AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AuditRecord
	for _, rec := range f.records {
		if rec.Action == action {
			out = append(out, rec)
		}
	}
	return out
}

type fakeUserStore struct {
	mu       sync.Mutex
	users    map[int64]*model.User
	lockedAt map[int64]time.Time
	rehashed map[int64]string
	getErr   error
}

func newFakeUserStore(users ...*model.User) *fakeUserStore {
	f := &fakeUserStore{
		users:    map[int64]*model.User{},
		lockedAt: map[int64]time.Time{},
		rehashed: map[int64]string{},
	}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserStore) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) GetByLogin(_ context.Context, login string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if u.Login == login {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserStore) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rehashed[id] = hash
	return nil
}

func (f *fakeUserStore) IncrementFailedAttempts(_ context.Context, id int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (f *fakeUserStore) ResetFailedAttempts(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.FailedAttempts = 0
		u.LockedUntil = nil
	}
	return nil
}

func (f *fakeUserStore) LockUntil(_ context.Context, id int64, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		u.LockedUntil = &until
		f.lockedAt[id] = until
	}
	return nil
}

type fakeDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func newFakeDenylist() *fakeDenylist {
	return &fakeDenylist{revoked: map[string]time.Time{}}
}

func (f *fakeDenylist) Revoke(_ context.Context, tokenID string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.revoked[tokenID] = until
	return nil
}

func (f *fakeDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.revoked[tokenID]
	return ok, nil
}

type published struct {
	channel string
	message []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := message.([]byte)
	if !ok {
		return errors.New("unexpected message type")
	}
	f.sent = append(f.sent, published{channel: channel, message: b})
	return nil
}
