package router

import (
	"go-admission-api/handler"
	"go-admission-api/model"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Dependencies are the handlers and policies the router is assembled from.
type Dependencies struct {
	Users     *handler.UserHandler
	Health    *handler.HealthHandler
	Admission *handler.AdmissionMiddleware
	Proxy     http.Handler
	Metrics   http.Handler
	// DefaultPolicy gates the account endpoints.
	DefaultPolicy model.Policy
	Routes        []model.Route
	Log           logrus.FieldLogger
}

func NewRouter(d Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", d.Health.HealthCheck)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	gate := func(endpoint string, policy model.Policy, h http.Handler, requireAuth bool) http.Handler {
		mws := []handler.Middleware{d.Admission.Gate(endpoint, policy)}
		if requireAuth {
			mws = append(mws, handler.RequireAuth(d.Log))
		}
		return handler.Chain(h, mws...)
	}

	mux.Handle("POST /register", gate("/register", d.DefaultPolicy,
		handler.ErrorHandlingMiddleware(d.Log, d.Users.Register), false))
	mux.Handle("POST /login", gate("/login", d.DefaultPolicy,
		handler.ErrorHandlingMiddleware(d.Log, d.Users.Login), false))
	mux.Handle("POST /logout", gate("/logout", d.DefaultPolicy,
		handler.ErrorHandlingMiddleware(d.Log, d.Users.Logout), true))
	mux.Handle("DELETE /account", gate("/account", d.DefaultPolicy,
		handler.ErrorHandlingMiddleware(d.Log, d.Users.DeleteAccount), true))

	for _, route := range d.Routes {
		mux.Handle(route.Path, gate(route.Path, route.Policy, d.Proxy, route.RequireAuth))
	}

	return handler.Chain(mux,
		handler.RequestID(),
		handler.Logging(d.Log),
		handler.Recover(d.Log),
	)
}
