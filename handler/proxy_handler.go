package handler

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/sirupsen/logrus"
)

const authenticatedUserHeader = "X-Authenticated-User"

// NewProxyHandler forwards admitted requests to upstream, replacing any
// client supplied X-Authenticated-User with the owner resolved by the gate.
// With a nil upstream the request is only admitted and answered with 204.
func NewProxyHandler(upstream *url.URL, log logrus.FieldLogger) http.Handler {
	if upstream == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Header.Del(authenticatedUserHeader)
		if ownerID, ok := OwnerIDFromContext(r.Context()); ok {
			r.Header.Set(authenticatedUserHeader, ownerID)
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.WithError(err).WithField("path", r.URL.Path).Error("Upstream request failed")
		http.Error(w, "Bad gateway", http.StatusBadGateway)
	}
	return proxy
}
