package repository

import (
	"context"
	"go-admission-api/model"
	"time"
)

// ITokenRepository defines the contract for session token storage.
// Every backend failure is returned wrapped in common.ErrStoreUnavailable.
type ITokenRepository interface {
	// ReplaceForOwner atomically deletes every token of token.OwnerID and
	// stores token. Concurrent calls for one owner leave exactly one token.
	ReplaceForOwner(ctx context.Context, token *model.Token) error
	// GetByHash returns common.ErrNotFound when no token has the hash.
	GetByHash(ctx context.Context, hash string) (*model.Token, error)
	DeleteByOwner(ctx context.Context, ownerID string) error
	// DeleteExpired removes tokens whose expiry is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// UpdateFunc inspects and mutates the record of one key. It returns true
// when the mutated record must be persisted. It may be invoked more than
// once per Update call when the backend retries, so it must derive all of
// its effects from the record it is given.
type UpdateFunc func(rec *model.RateLimitRecord) bool

// IRateLimitRepository defines the contract for rate-limit record storage.
type IRateLimitRepository interface {
	// Update runs fn with the current record of key while no other Update
	// for the same key can interleave. An absent record is passed as empty.
	Update(ctx context.Context, key model.RateLimitKey, fn UpdateFunc) error
	// PurgeStale deletes records last updated before the given instant.
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}

// IUserRepository defines the contract for user account storage.
type IUserRepository interface {
	// Create returns common.ErrEmailTaken when the email is in use.
	Create(ctx context.Context, user *model.User) error
	// GetByEmail returns common.ErrNotFound for unknown emails.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Delete removes the user with the given id, or returns
	// common.ErrNotFound.
	Delete(ctx context.Context, id string) error
}
