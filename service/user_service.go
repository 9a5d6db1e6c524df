package service

import (
	"context"
	"errors"
	"go-admission-api/common"
	"go-admission-api/model"
	"go-admission-api/repository"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// TokenIssuer is the part of TokenService the user flows depend on.
type TokenIssuer interface {
	Issue(ctx context.Context, ownerID string) (*model.IssuedToken, error)
	Revoke(ctx context.Context, ownerID string) error
}

// UserService handles registration, login and logout.
type UserService struct {
	users  repository.IUserRepository
	tokens  TokenIssuer
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewUserService creates a new UserService. storeTimeout bounds each call
// to the user store.
func NewUserService(users repository.IUserRepository, tokens TokenIssuer, storeTimeout time.Duration, log logrus.FieldLogger) *UserService {
	return &UserService{users: users, tokens: tokens, timeout: storeTimeout, log: log}
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Register creates a user account. It returns common.ErrEmailTaken when the
// email is already registered.
func (s *UserService) Register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	hashed, err := HashPassword(req.Password)
	if err != nil {
		s.log.WithError(err).Error("Failed to hash password")
		return nil, err
	}

	user := &model.User{
		ID:       uuid.NewString(),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: hashed,
	}
	storeCtx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.users.Create(storeCtx, user); err != nil {
		return nil, err
	}

	s.log.WithField("user_id", user.ID).Info("Registered new user")
	return user, nil
}

// Login checks the password and issues a session token, which invalidates
// any token the user held before.
func (s *UserService) Login(ctx context.Context, req model.LoginRequest) (*model.IssuedToken, error) {
	storeCtx, cancel := withStoreTimeout(ctx, s.timeout)
	user, err := s.users.GetByEmail(storeCtx, strings.ToLower(strings.TrimSpace(req.Email)))
	cancel()
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, err
	}

	if !CheckPasswordHash(req.Password, user.Password) {
		s.log.WithField("user_id", user.ID).Warn("Login attempt with wrong password")
		return nil, common.ErrInvalidCredentials
	}

	return s.tokens.Issue(ctx, user.ID)
}

// Logout revokes every session of the user.
func (s *UserService) Logout(ctx context.Context, userID string) error {
	return s.tokens.Revoke(ctx, userID)
}

// DeleteAccount revokes every session of the user, then removes the
// account. Sessions go first so a failed delete never leaves a live token
// for a half-removed user.
func (s *UserService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.tokens.Revoke(ctx, userID); err != nil {
		return err
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.users.Delete(storeCtx, userID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.log.WithField("user_id", userID).Warn("Authenticated owner has no account, sessions revoked")
		}
		return err
	}

	s.log.WithField("user_id", userID).Info("Deleted user account")
	return nil
}
