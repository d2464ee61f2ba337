package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/osmosync/service/config"
	"github.com/brojonat/osmosync/service/db"
	"github.com/brojonat/osmosync/service/metrics"
	natspkg "github.com/brojonat/osmosync/service/nats"
	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/brojonat/osmosync/service/syncer"
	"github.com/brojonat/osmosync/service/temporal"
	"github.com/brojonat/osmosync/service/txpipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	accountCacheTTL     = 30 * time.Second
	accountCacheCleanup = time.Minute
)

// AccountStore is the persistence the handlers need. *db.Store implements it.
type AccountStore interface {
	UpsertAccount(ctx context.Context, params db.UpsertAccountParams) (*db.Account, error)
	GetAccount(ctx context.Context, address string) (*db.Account, error)
	ListAccounts(ctx context.Context) ([]*db.Account, error)
	DeleteAccount(ctx context.Context, address string) error
	LoadSnapshot(ctx context.Context, address string) (osmosis.AccountSnapshot, error)
	SaveSnapshot(ctx context.Context, network string, snap osmosis.AccountSnapshot) (int, error)
	ListOperations(ctx context.Context, params db.ListOperationsParams) ([]osmosis.Operation, error)
}

// Syncer runs an on-demand sync. *syncer.Engine implements it.
type Syncer interface {
	Sync(ctx context.Context, previous osmosis.AccountSnapshot, address string) (syncer.Result, error)
}

// Broadcaster submits signed operations. *txpipeline.Broadcaster implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, signed txpipeline.SignedOperation) (osmosis.Operation, error)
}

// Deps are the collaborators of the HTTP server.
// Publisher, Broadcaster, SSE and Metrics are optional.
type Deps struct {
	Store       AccountStore
	Scheduler   temporal.Scheduler
	Engine      Syncer
	Validator   *txpipeline.StatusValidator
	Broadcaster Broadcaster
	Publisher   temporal.PublisherInterface
	SSE         *SSEPublisher
	Metrics     *metrics.Metrics
}

// Server represents the HTTP server for the account service.
type Server struct {
	addr   string
	cfg    *config.Config
	deps   Deps
	cache  *gocache.Cache
	logger *slog.Logger
	server *http.Server
}

// New creates a new HTTP server with the given dependencies.
func New(addr string, cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = txpipeline.NewStatusValidator(osmosis.NewBech32Validator(nil), cfg.CurrencyID)
	}
	return &Server{
		addr:   addr,
		cfg:    cfg,
		deps:   deps,
		cache:  gocache.New(accountCacheTTL, accountCacheCleanup),
		logger: logger,
	}
}

// Handler builds the router. It is exposed so tests can drive the server with httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware(s.logger))
	r.Use(metrics.HTTPMetricsMiddleware(s.deps.Metrics))
	r.Use(corsMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/accounts", s.handleRegisterAccount)
		r.Get("/accounts", s.handleListAccounts)
		r.Get("/accounts/{address}", s.handleGetAccount)
		r.Delete("/accounts/{address}", s.handleUnregisterAccount)
		r.Get("/accounts/{address}/operations", s.handleListOperations)
		r.Post("/accounts/{address}/sync", s.handleSyncAccount)
		r.Post("/accounts/{address}/status", s.handleTransactionStatus)
		r.Get("/accounts/{address}/max", s.handleMaxSpendable)
		r.Post("/broadcast", s.handleBroadcast)

		// SSE streaming endpoints (if SSE publisher is configured)
		if s.deps.SSE != nil {
			r.Get("/stream/operations", handleStreamOperations(s.deps.SSE, s.logger))
			r.Get("/stream/operations/{address}", handleStreamOperations(s.deps.SSE, s.logger))
		}
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	if s.deps.SSE == nil {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.deps.SSE != nil {
		s.deps.SSE.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestIDMiddleware tags every request with a request id, echoed in the
// X-Request-ID header and attached to the request logger.
func requestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = newRequestID()
			}
			w.Header().Set("X-Request-ID", requestID)
			ctx := withLogger(r.Context(), logger.With("request_id", requestID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

var _ temporal.PublisherInterface = (*natspkg.JetStreamPublisher)(nil)
