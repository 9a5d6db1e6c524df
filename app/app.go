// File: app/app.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"go-admission-api/config"
	"go-admission-api/db"
	"go-admission-api/handler"
	"go-admission-api/logger"
	"go-admission-api/metrics"
	"go-admission-api/model"
	"go-admission-api/repository"
	"go-admission-api/router"
	"go-admission-api/service"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// App is the assembled service.
type App struct {
	Router  http.Handler
	Janitor *service.Janitor
	Tokens  *service.TokenService

	closers []func() error
}

// stores groups the repositories of one backend.
type stores struct {
	tokens repository.ITokenRepository
	limits repository.IRateLimitRepository
	users  repository.IUserRepository
	ping   handler.Pinger
	close  func() error
}

// New wires every layer for cfg. Collectors are registered on reg.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, reg *prometheus.Registry) (*App, error) {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	tokenRepo, limitRepo := st.tokens, st.limits
	if cfg.Store.Breaker.Enabled {
		tokenRepo = repository.NewBreakerTokenRepository(tokenRepo,
			repository.NewBreaker("tokens", cfg.Store.Breaker.MaxFailures, cfg.Store.Breaker.OpenTimeout, log))
		limitRepo = repository.NewBreakerRateLimitRepository(limitRepo,
			repository.NewBreaker("rate_limits", cfg.Store.Breaker.MaxFailures, cfg.Store.Breaker.OpenTimeout, log))
	}

	m := metrics.New(reg)

	tokenService := service.NewTokenService(tokenRepo, cfg.TokenLifetime(), cfg.Store.Timeout, log, m)
	limiter := service.NewSlidingWindowLimiter(limitRepo, log, m)
	gate := service.NewAdmissionGate(tokenService, limiter, service.AdmissionOptions{
		FailOpen:     cfg.Auth.FailOpen,
		StoreTimeout: cfg.Store.Timeout,
	}, log, m)
	userService := service.NewUserService(st.users, tokenService, cfg.Store.Timeout, log)

	var upstream *url.URL
	if cfg.Gateway.UpstreamURL != "" {
		if upstream, err = url.Parse(cfg.Gateway.UpstreamURL); err != nil {
			st.close()
			return nil, fmt.Errorf("invalid gateway.upstream_url: %w", err)
		}
	}

	r := router.NewRouter(router.Dependencies{
		Users:         handler.NewUserHandler(userService),
		Health:        handler.NewHealthHandler(st.ping),
		Admission:     handler.NewAdmissionMiddleware(gate, cfg.Gateway.TrustXForwardedFor, log),
		Proxy:         handler.NewProxyHandler(upstream, log),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		DefaultPolicy: toPolicy(cfg.DefaultPolicy),
		Routes:        toRoutes(cfg),
		Log:           log,
	})

	return &App{
		Router:  r,
		Janitor: service.NewJanitor(tokenService, limiter, cfg.Store.PurgeInterval, cfg.Store.RecordRetention, log),
		Tokens:  tokenService,
		closers: []func() error{st.close},
	}, nil
}

// Close releases the store connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func openStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*stores, error) {
	switch cfg.Store.Backend {
	case "postgres":
		database, err := db.Connect(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(database, log); err != nil {
				database.Close()
				return nil, err
			}
		}
		return postgresStores(database, log), nil

	case "redis":
		client, err := db.ConnectRedis(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		rs := repository.NewRedisStore(client, cfg.Redis.Prefix, cfg.Store.RecordRetention, log)
		return &stores{tokens: rs, limits: rs, users: rs, ping: rs.Ping, close: client.Close}, nil

	case "memory", "":
		log.Warn("Using in-memory credential store; state is lost on restart and not shared between replicas")
		return &stores{
			tokens: repository.NewMemoryTokenRepository(),
			limits: repository.NewMemoryRateLimitRepository(),
			users:  repository.NewMemoryUserRepository(),
			close:  func() error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func postgresStores(database *sql.DB, log logrus.FieldLogger) *stores {
	return &stores{
		tokens: repository.NewTokenRepository(database, log),
		limits: repository.NewRateLimitRepository(database, log),
		users:  repository.NewUserRepository(database, log),
		ping:   database.PingContext,
		close:  database.Close,
	}
}

func toPolicy(p config.PolicyConfig) model.Policy {
	return model.Policy{
		AuthenticatedLimit:   p.AuthenticatedLimit,
		UnauthenticatedLimit: p.UnauthenticatedLimit,
		WindowSeconds:        p.WindowSeconds,
	}
}

func toRoutes(cfg *config.Config) []model.Route {
	routes := make([]model.Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		policy := toPolicy(cfg.DefaultPolicy)
		if rc.Policy != nil {
			policy = toPolicy(*rc.Policy)
		}
		routes = append(routes, model.Route{Path: rc.Path, RequireAuth: rc.RequireAuth, Policy: policy})
	}
	return routes
}

func Run() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logrus.Fatalf("Error loading configuration: %v", err)
	}
	log := logger.New(cfg.Log)
	log.WithField("backend", cfg.Store.Backend).Info("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	application, err := New(ctx, cfg, log, reg)
	if err != nil {
		log.Fatalf("Error initializing application: %v", err)
	}
	defer application.Close()

	application.Janitor.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           application.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Server starting on port :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Failed to start server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Warn("Shutdown signal received. Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Info("Server exited properly")
}
