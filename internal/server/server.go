package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/wordgate/apiserver/config"
	"github.com/wordgate/apiserver/internal/handlers"
	"github.com/wordgate/apiserver/internal/rewrite"
	"github.com/wordgate/apiserver/internal/services"
	"github.com/wordgate/apiserver/internal/worker"
)

// Server wraps the HTTP server, router and background workers.
type Server struct {
	httpServer *http.Server
	app        *App
	logger     *slog.Logger

	workerCtx     context.Context
	cancelWorkers context.CancelFunc
	workers       sync.WaitGroup
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	rewriter, err := rewrite.NewClient(cfg.Rewrite)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	router := NewRouter(app, rewriter)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Rewrite.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		httpServer:    httpServer,
		app:           app,
		logger:        logger,
		workerCtx:     workerCtx,
		cancelWorkers: cancel,
	}, nil
}

// NewRouter builds the HTTP routes over app. rewriter serves the metered
// rewrite endpoint.
func NewRouter(app *App, rewriter services.Rewriter) *chi.Mux {
	cfg := app.Config
	logger := app.Logger

	usage := services.NewUsageService(app.Accounts, app.Quota, app.Activities, rewriter,
		services.WithLogger(logger),
		services.WithRewriteTimeout(cfg.Rewrite.Timeout),
		services.WithAlerter(app.notifier),
	)
	auth := handlers.NewAuthHandler(app.Accounts, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)

	requestTimeout := cfg.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(requestTimeout),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}),
	)

	router.Get("/healthz", handlers.Healthz(app.Ping))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, auth)
	})
	router.Post("/webhooks/billing",
		handlers.NewWebhookHandler(app.Billing, cfg.Billing.WebhookSecret, cfg.Billing.Tolerance, logger).Billing)

	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		handlers.UsageRouter(r, handlers.NewUsageHandler(usage, app.Activities, logger))
		r.Route("/admin", func(r chi.Router) {
			r.Use(handlers.RequireAdmin(app.Accounts, logger))
			handlers.AdminRouter(r, handlers.NewAdminHandler(
				app.Accounts, app.Lifecycle, app.Activities, app.ReplayDeadLetters(), logger,
			))
		})
	})
	return router
}

// Start launches the background workers and runs the HTTP server until
// Shutdown is called.
func (s *Server) Start() error {
	s.startWorkers(s.workerCtx)

	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) startWorkers(ctx context.Context) {
	cfg := s.app.Config
	if cfg.Sweep.Enabled {
		sweeper := worker.NewSweeper(s.app.Lifecycle, cfg.Sweep.Interval, s.logger)
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			sweeper.Run(ctx)
		}()
	}

	if s.app.Queue != nil && cfg.Billing.Channel != "" {
		consumer := worker.NewBillingConsumer(s.app.Queue, cfg.Billing.Channel, s.app.Billing, s.logger)
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			if err := consumer.Run(ctx); err != nil {
				s.logger.Error("billing consumer exited", "error", err)
			}
		}()
	}
}

// Shutdown drains in-flight requests, stops the workers and closes every
// connection.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.cancelWorkers()
	s.workers.Wait()
	return errors.Join(err, s.app.Close())
}
