package handler

import (
	"go-admission-api/common"
	"net/http"

	"github.com/sirupsen/logrus"
)

func ErrorHandlingMiddleware(log logrus.FieldLogger, next func(http.ResponseWriter, *http.Request) *common.AppError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := next(w, r); err != nil {
			err.Send(w, log.WithField("request_id", RequestIDFromContext(r.Context())))
		}
	}
}
