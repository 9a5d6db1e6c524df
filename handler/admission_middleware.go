package handler

import (
	"context"
	"errors"
	"fmt"
	"go-admission-api/common"
	"go-admission-api/model"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Admitter decides whether a request may proceed.
type Admitter interface {
	Admit(ctx context.Context, req model.AdmissionRequest) (*model.Admission, error)
}

// AdmissionMiddleware runs every gated request through the admission gate
// and translates its decision to HTTP.
type AdmissionMiddleware struct {
	gate           Admitter
	trustForwarded bool
	log            logrus.FieldLogger
}

func NewAdmissionMiddleware(gate Admitter, trustForwarded bool, log logrus.FieldLogger) *AdmissionMiddleware {
	return &AdmissionMiddleware{gate: gate, trustForwarded: trustForwarded, log: log}
}

// Gate limits requests to endpoint under policy. The endpoint names the
// rate-limit bucket, so every path served by one route shares it.
func (m *AdmissionMiddleware) Gate(endpoint string, policy model.Policy) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := m.log.WithField("request_id", RequestIDFromContext(r.Context()))

			admission, err := m.gate.Admit(r.Context(), model.AdmissionRequest{
				Credential: r.Header.Get("Authorization"),
				SourceIP:   ClientIP(r, m.trustForwarded),
				Endpoint:   endpoint,
				Policy:     policy,
			})

			var limited *common.RateLimitExceededError
			switch {
			case errors.As(err, &limited):
				setRateLimitHeaders(w, admission.Decision)
				w.Header().Set("Retry-After", strconv.FormatInt(limited.RetryAfterSeconds, 10))
				msg := fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", limited.RetryAfterSeconds)
				common.NewAppError(http.StatusTooManyRequests, msg, nil).Send(w, log)
				return
			case err != nil:
				common.NewAppError(http.StatusServiceUnavailable, "Service temporarily unavailable", err).Send(w, log)
				return
			}

			setRateLimitHeaders(w, admission.Decision)
			ctx := context.WithValue(r.Context(), AdmissionKey, admission)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d model.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt, 10))
}

// AdmissionFromContext returns the admission recorded by Gate.
func AdmissionFromContext(ctx context.Context) (*model.Admission, bool) {
	a, ok := ctx.Value(AdmissionKey).(*model.Admission)
	return a, ok
}

// OwnerIDFromContext returns the authenticated owner of the request, if any.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	a, ok := AdmissionFromContext(ctx)
	if !ok || !a.Authenticated() {
		return "", false
	}
	return a.OwnerID, true
}
