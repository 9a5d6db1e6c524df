package repository

import (
	"context"
	"encoding/json"
	"errors"
	"go-admission-api/common"
	"go-admission-api/model"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// maxWatchRetries bounds the optimistic transaction loop of one call.
	maxWatchRetries = 64
	// expiredTokenGrace keeps expired tokens around long enough to report
	// them as expired rather than unknown.
	expiredTokenGrace = time.Hour
)

var errWatchContention = errors.New("too many concurrent writers")

// RedisStore implements the token, rate-limit and user repositories on
// Redis. Read-modify-write sequences use WATCH/MULTI and are retried when
// another client touched the watched keys.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	log       logrus.FieldLogger
}

// NewRedisStore creates a RedisStore. Rate-limit records expire retention
// after their last update.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration, log logrus.FieldLogger) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, retention: retention, log: log}
}

func (s *RedisStore) tokenKey(hash string) string { return s.prefix + "token:" + hash }
func (s *RedisStore) ownerKey(owner string) string { return s.prefix + "owner:" + owner }
func (s *RedisStore) userKey(email string) string { return s.prefix + "user:" + email }
func (s *RedisStore) userIDKey(id string) string { return s.prefix + "user_id:" + id }
func (s *RedisStore) recordKey(k model.RateLimitKey) string { return s.prefix + "rl:" + k.String() }

// watch runs fn in an optimistic transaction over keys, retrying on
// conflicts until it succeeds, fails otherwise or runs out of attempts.
func (s *RedisStore) watch(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			s.log.WithError(err).WithField("operation", op).Error("Redis transaction failed")
			return common.StoreError(op, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return common.StoreError(op, ctxErr)
		}
	}
	s.log.WithField("operation", op).Error("Redis transaction gave up after repeated conflicts")
	return common.StoreError(op, errWatchContention)
}

func (s *RedisStore) ReplaceForOwner(ctx context.Context, token *model.Token) error {
	ownerKey := s.ownerKey(token.OwnerID)
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := token.ExpiresAt.Sub(token.IssuedAt) + expiredTokenGrace

	return s.watch(ctx, "tokens.replace", func(tx *redis.Tx) error {
		hashes, err := tx.SMembers(ctx, ownerKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, h := range hashes {
				pipe.Del(ctx, s.tokenKey(h))
			}
			pipe.Del(ctx, ownerKey)
			pipe.Set(ctx, s.tokenKey(token.Hash), payload, ttl)
			pipe.SAdd(ctx, ownerKey, token.Hash)
			pipe.Expire(ctx, ownerKey, ttl)
			return nil
		})
		return err
	}, ownerKey)
}

func (s *RedisStore) GetByHash(ctx context.Context, hash string) (*model.Token, error) {
	raw, err := s.client.Get(ctx, s.tokenKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrNotFound
		}
		s.log.WithError(err).WithField("token_hash", hashPrefix(hash)).Error("Failed to get token from redis")
		return nil, common.StoreError("tokens.get", err)
	}

	token := &model.Token{}
	if err := json.Unmarshal(raw, token); err != nil {
		return nil, common.StoreError("tokens.get", err)
	}
	token.Hash = hash
	return token, nil
}

func (s *RedisStore) DeleteByOwner(ctx context.Context, ownerID string) error {
	ownerKey := s.ownerKey(ownerID)
	return s.watch(ctx, "tokens.delete", func(tx *redis.Tx) error {
		hashes, err := tx.SMembers(ctx, ownerKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, h := range hashes {
				pipe.Del(ctx, s.tokenKey(h))
			}
			pipe.Del(ctx, ownerKey)
			return nil
		})
		return err
	}, ownerKey)
}

// DeleteExpired is a no-op: token keys carry their own TTL.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) Update(ctx context.Context, key model.RateLimitKey, fn UpdateFunc) error {
	recKey := s.recordKey(key)
	return s.watch(ctx, "rate_limits.update", func(tx *redis.Tx) error {
		rec := &model.RateLimitRecord{Key: key}
		raw, err := tx.Get(ctx, recKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, rec); err != nil {
				return err
			}
		}

		if !fn(rec) {
			return nil
		}

		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, recKey, payload, s.retention)
			return nil
		})
		return err
	}, recKey)
}

// PurgeStale is a no-op: record keys expire retention after their last
// update.
func (s *RedisStore) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) Create(ctx context.Context, user *model.User) error {
	user.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(redisUser{User: *user, Password: user.Password})
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, s.userKey(user.Email), payload, 0).Result()
	if err != nil {
		s.log.WithError(err).WithField("email", user.Email).Error("Failed to create user in redis")
		return common.StoreError("users.create", err)
	}
	if !ok {
		return common.ErrEmailTaken
	}

	if err := s.client.Set(ctx, s.userIDKey(user.ID), user.Email, 0).Err(); err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Error("Failed to index user id in redis")
		s.client.Del(context.WithoutCancel(ctx), s.userKey(user.Email))
		return common.StoreError("users.create", err)
	}
	return nil
}

func (s *RedisStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	raw, err := s.client.Get(ctx, s.userKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrNotFound
		}
		s.log.WithError(err).WithField("email", email).Error("Failed to get user from redis")
		return nil, common.StoreError("users.get", err)
	}

	var stored redisUser
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, common.StoreError("users.get", err)
	}
	user := stored.User
	user.Password = stored.Password
	return &user, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	idKey := s.userIDKey(id)
	email, err := s.client.Get(ctx, idKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return common.ErrNotFound
		}
		s.log.WithError(err).WithField("user_id", id).Error("Failed to look up user id in redis")
		return common.StoreError("users.delete", err)
	}

	if err := s.client.Del(ctx, s.userKey(email), idKey).Err(); err != nil {
		s.log.WithError(err).WithField("user_id", id).Error("Failed to delete user from redis")
		return common.StoreError("users.delete", err)
	}
	return nil
}

// Ping reports whether the server answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// redisUser persists the password hash that model.User hides from JSON.
type redisUser struct {
	model.User
	Password string `json:"password_hash"`
}
