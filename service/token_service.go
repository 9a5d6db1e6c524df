package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"go-admission-api/common"
	"go-admission-api/metrics"
	"go-admission-api/model"
	"go-admission-api/repository"
	"time"

	"github.com/sirupsen/logrus"
)

// tokenBytes is the entropy of an issued token.
const tokenBytes = 32

// TokenService issues, validates and revokes opaque session tokens. An
// owner has at most one live token at a time.
type TokenService struct {
	repo     repository.ITokenRepository
	lifetime time.Duration
	timeout  time.Duration
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewTokenService creates a TokenService. Each store call is bounded by
// storeTimeout; zero leaves it to the caller's context.
func NewTokenService(repo repository.ITokenRepository, lifetime, storeTimeout time.Duration, log logrus.FieldLogger, m *metrics.Metrics) *TokenService {
	return &TokenService{
		repo:     repo,
		lifetime: lifetime,
		timeout:  storeTimeout,
		log:      log,
		metrics:  m,
		now:      time.Now,
	}
}

// Issue revokes every token of ownerID and returns a fresh one.
func (s *TokenService) Issue(ctx context.Context, ownerID string) (*model.IssuedToken, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}

	value, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	token := &model.Token{
		Hash:      HashToken(value),
		OwnerID:   ownerID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.lifetime),
	}
	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.ReplaceForOwner(ctx, token); err != nil {
		s.observe("issue", err)
		return nil, err
	}
	s.observe("issue", nil)

	s.log.WithFields(logrus.Fields{
		"owner_id":   ownerID,
		"expires_at": token.ExpiresAt,
	}).Info("Issued session token")

	return &model.IssuedToken{
		Token:     value,
		TokenType: "bearer",
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Validate resolves a token value to its owner. The expiry instant itself
// is already invalid. Expired tokens are left for PurgeExpired.
func (s *TokenService) Validate(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", common.ErrInvalidToken
	}

	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()
	token, err := s.repo.GetByHash(ctx, HashToken(value))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.observe("validate", common.ErrInvalidToken)
			return "", common.ErrInvalidToken
		}
		s.observe("validate", err)
		return "", err
	}

	if !s.now().Before(token.ExpiresAt) {
		s.observe("validate", common.ErrExpiredToken)
		return "", common.ErrExpiredToken
	}

	s.observe("validate", nil)
	return token.OwnerID, nil
}

// Revoke deletes every token of ownerID. Revoking an owner without tokens
// succeeds.
func (s *TokenService) Revoke(ctx context.Context, ownerID string) error {
	ctx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.DeleteByOwner(ctx, ownerID); err != nil {
		s.observe("revoke", err)
		return err
	}
	s.observe("revoke", nil)
	s.log.WithField("owner_id", ownerID).Info("Revoked session tokens")
	return nil
}

// PurgeExpired deletes tokens that are past their expiry.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return n, nil
}

func (s *TokenService) observe(op string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, common.ErrStoreUnavailable):
		status = "store_error"
		s.metrics.StoreErrors.WithLabelValues("token_" + op).Inc()
	default:
		status = "rejected"
	}
	s.metrics.TokenOps.WithLabelValues(op, status).Inc()
}

// HashToken returns the storage form of a token value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
