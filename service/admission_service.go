package service

import (
	"context"
	"go-admission-api/common"
	"go-admission-api/metrics"
	"go-admission-api/model"
	"time"

	"github.com/sirupsen/logrus"
)

// TokenValidator resolves a token value to its owner.
type TokenValidator interface {
	Validate(ctx context.Context, value string) (string, error)
}

// RateLimiter is the check-and-record half of admission.
type RateLimiter interface {
	CheckAndRecord(ctx context.Context, key model.RateLimitKey, limit int, windowSeconds int64) (model.Decision, error)
}

// AdmissionGate authenticates a request if it can and applies the rate
// limit of the resulting identity.
type AdmissionGate struct {
	tokens   TokenValidator
	limiter  RateLimiter
	failOpen bool
	timeout  time.Duration
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
}

// AdmissionOptions tunes failure handling of the gate.
type AdmissionOptions struct {
	// FailOpen degrades token store failures to an unauthenticated caller.
	// Limiter store failures always reject the request.
	FailOpen bool
	// StoreTimeout bounds the store calls of one admission. Zero disables it.
	StoreTimeout time.Duration
}

func NewAdmissionGate(tokens TokenValidator, limiter RateLimiter, opts AdmissionOptions, log logrus.FieldLogger, m *metrics.Metrics) *AdmissionGate {
	return &AdmissionGate{
		tokens:   tokens,
		limiter:  limiter,
		failOpen: opts.FailOpen,
		timeout:  opts.StoreTimeout,
		log:      log,
		metrics:  m,
	}
}

// Admit returns the admission of req. A denied request yields both the
// admission, for its headers, and a *common.RateLimitExceededError. Store
// failures yield only an error matching common.ErrStoreUnavailable.
// Credential problems never fail Admit; they are reported in AuthErr.
func (g *AdmissionGate) Admit(ctx context.Context, req model.AdmissionRequest) (*model.Admission, error) {
	ctx, cancel := withStoreTimeout(ctx, g.timeout)
	defer cancel()

	log := g.log.WithFields(logrus.Fields{
		"endpoint":  req.Endpoint,
		"source_ip": req.SourceIP,
	})

	ownerID, authErr := g.authenticate(ctx, req.Credential)
	if authErr != nil && !common.IsCredentialError(authErr) {
		if !g.failOpen {
			g.metrics.StoreErrors.WithLabelValues("authenticate").Inc()
			g.metrics.Decisions.WithLabelValues(string(model.ClassUnauthenticated), "error").Inc()
			log.WithError(authErr).Error("Token store unavailable, rejecting request")
			return nil, authErr
		}
		g.metrics.StoreErrors.WithLabelValues("authenticate").Inc()
		log.WithError(authErr).Warn("Token store unavailable, treating caller as unauthenticated")
	}

	key := ResolveIdentity(ownerID, req.SourceIP, req.Endpoint)
	class := key.Class()
	limit := req.Policy.LimitFor(class)

	decision, err := g.limiter.CheckAndRecord(ctx, key, limit, req.Policy.WindowSeconds)
	if err != nil {
		g.metrics.StoreErrors.WithLabelValues("check").Inc()
		g.metrics.Decisions.WithLabelValues(string(class), "error").Inc()
		log.WithError(err).WithFields(logrus.Fields{
			"identity_kind": key.Kind,
			"identity":      key.Value,
		}).Error("Rate limit store unavailable, rejecting request")
		return nil, err
	}

	admission := &model.Admission{
		Decision:      decision,
		OwnerID:       ownerID,
		IdentityClass: class,
		Key:           key,
		AuthErr:       authErr,
	}

	if !decision.Allowed {
		g.metrics.Decisions.WithLabelValues(string(class), "denied").Inc()
		return admission, &common.RateLimitExceededError{
			RetryAfterSeconds: decision.ResetAfter,
			Limit:             decision.Limit,
			IdentityClass:     class,
		}
	}

	g.metrics.Decisions.WithLabelValues(string(class), "allowed").Inc()
	return admission, nil
}

// authenticate returns the owner of the credential, or the reason there is
// none.
func (g *AdmissionGate) authenticate(ctx context.Context, credential string) (string, error) {
	value, err := ParseCredential(credential)
	if err != nil {
		return "", err
	}
	return g.tokens.Validate(ctx, value)
}
