package repository

import (
	"context"
	"go-admission-api/common"
	"go-admission-api/model"
	"sync"
	"time"
)

// keyLocks hands out one exclusive lock per key. Locks are channels so that
// waiting for one can be abandoned when the context ends.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return func() {
			<-l.ch
			k.unref(key, l)
		}, nil
	case <-ctx.Done():
		k.unref(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyLocks) unref(key string, l *keyLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// MemoryTokenRepository keeps tokens in process memory.
type MemoryTokenRepository struct {
	mu      sync.RWMutex
	byHash  map[string]model.Token
	byOwner map[string]map[string]struct{}
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{
		byHash:  make(map[string]model.Token),
		byOwner: make(map[string]map[string]struct{}),
	}
}

func (r *MemoryTokenRepository) ReplaceForOwner(ctx context.Context, token *model.Token) error {
	if err := ctx.Err(); err != nil {
		return common.StoreError("tokens.replace", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteOwnerLocked(token.OwnerID)
	r.byHash[token.Hash] = *token
	r.byOwner[token.OwnerID] = map[string]struct{}{token.Hash: {}}
	return nil
}

func (r *MemoryTokenRepository) GetByHash(ctx context.Context, hash string) (*model.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.StoreError("tokens.get", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, ok := r.byHash[hash]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &token, nil
}

func (r *MemoryTokenRepository) DeleteByOwner(ctx context.Context, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return common.StoreError("tokens.delete", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deleteOwnerLocked(ownerID)
	return nil
}

func (r *MemoryTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.StoreError("tokens.purge", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, token := range r.byHash {
		if token.ExpiresAt.After(now) {
			continue
		}
		delete(r.byHash, hash)
		if owned := r.byOwner[token.OwnerID]; owned != nil {
			delete(owned, hash)
			if len(owned) == 0 {
				delete(r.byOwner, token.OwnerID)
			}
		}
		n++
	}
	return n, nil
}

func (r *MemoryTokenRepository) deleteOwnerLocked(ownerID string) {
	for hash := range r.byOwner[ownerID] {
		delete(r.byHash, hash)
	}
	delete(r.byOwner, ownerID)
}

// MemoryRateLimitRepository keeps rate-limit records in process memory.
// Updates of one key are serialized, updates of distinct keys run in
// parallel.
type MemoryRateLimitRepository struct {
	locks   *keyLocks
	mu      sync.RWMutex
	records map[string]model.RateLimitRecord
}

func NewMemoryRateLimitRepository() *MemoryRateLimitRepository {
	return &MemoryRateLimitRepository{
		locks:   newKeyLocks(),
		records: make(map[string]model.RateLimitRecord),
	}
}

func (r *MemoryRateLimitRepository) Update(ctx context.Context, key model.RateLimitKey, fn UpdateFunc) error {
	id := key.String()
	release, err := r.locks.acquire(ctx, id)
	if err != nil {
		return common.StoreError("rate_limits.update", err)
	}
	defer release()

	r.mu.RLock()
	stored, ok := r.records[id]
	r.mu.RUnlock()

	rec := model.RateLimitRecord{Key: key}
	if ok {
		rec.Timestamps = append([]int64(nil), stored.Timestamps...)
		rec.UpdatedAt = stored.UpdatedAt
	}

	if !fn(&rec) {
		return nil
	}

	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	return nil
}

func (r *MemoryRateLimitRepository) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.StoreError("rate_limits.purge", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, rec := range r.records {
		if rec.UpdatedAt.Before(before) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (r *MemoryRateLimitRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

type MemoryUserRepository struct {
	mu      sync.RWMutex
	byEmail map[string]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byEmail: make(map[string]model.User)}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[user.Email]; ok {
		return common.ErrEmailTaken
	}
	user.CreatedAt = time.Now().UTC()
	r.byEmail[user.Email] = *user
	return nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byEmail[email]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &user, nil
}

func (r *MemoryUserRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for email, user := range r.byEmail {
		if user.ID == id {
			delete(r.byEmail, email)
			return nil
		}
	}
	return common.ErrNotFound
}
