package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"go-admission-api/model"
	"net/http"

	"github.com/sirupsen/logrus"
)

var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrMalformedCredential = errors.New("malformed credential")
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("expired token")
	ErrStoreUnavailable    = errors.New("store unavailable")

	ErrNotFound           = errors.New("record not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// RateLimitExceededError is returned when an admission is denied.
type RateLimitExceededError struct {
	RetryAfterSeconds int64
	Limit             int
	IdentityClass     model.IdentityClass
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit of %d exceeded for %s identity, retry after %ds",
		e.Limit, e.IdentityClass, e.RetryAfterSeconds)
}

// IsCredentialError reports whether err means the caller could not be
// authenticated, as opposed to the store failing.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrMalformedCredential) ||
		errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrExpiredToken)
}

// StoreError wraps a backend failure so that it matches ErrStoreUnavailable.
func StoreError(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func (e *AppError) Send(w http.ResponseWriter, log logrus.FieldLogger) {
	if e.Err != nil {
		log.WithFields(logrus.Fields{
			"status_code":    e.Code,
			"internal_error": e.Err.Error(),
		}).Error(e.Message)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Code)
	json.NewEncoder(w).Encode(e)
}

// CredentialAppError maps an authentication failure to a 401 response.
func CredentialAppError(err error) *AppError {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return NewAppError(http.StatusUnauthorized, "Authorization header is required", nil)
	case errors.Is(err, ErrMalformedCredential):
		return NewAppError(http.StatusUnauthorized, "Invalid authorization header format", nil)
	case errors.Is(err, ErrExpiredToken):
		return NewAppError(http.StatusUnauthorized, "Token has expired", nil)
	default:
		return NewAppError(http.StatusUnauthorized, "Invalid or expired token", nil)
	}
}
