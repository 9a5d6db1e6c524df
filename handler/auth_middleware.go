package handler

import (
	"errors"
	"go-admission-api/common"
	"net/http"

	"github.com/sirupsen/logrus"
)

// RequireAuth rejects requests that the admission gate could not attach an
// owner to. It must run after Gate, so that unauthenticated traffic is still
// counted against its address.
func RequireAuth(log logrus.FieldLogger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admission, ok := AdmissionFromContext(r.Context())
			if !ok {
				common.NewAppError(http.StatusInternalServerError, "Internal server error",
					errors.New("RequireAuth used without an admission gate")).Send(w, log)
				return
			}
			if admission.Authenticated() {
				next.ServeHTTP(w, r)
				return
			}

			if errors.Is(admission.AuthErr, common.ErrStoreUnavailable) {
				common.NewAppError(http.StatusServiceUnavailable, "Service temporarily unavailable", admission.AuthErr).Send(w, log)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			common.CredentialAppError(admission.AuthErr).Send(w, log)
		})
	}
}
