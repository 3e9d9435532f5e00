package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/xray/service/chain"
	"github.com/brojonat/xray/service/classify"
	"github.com/brojonat/xray/service/config"
	"github.com/brojonat/xray/service/db"
	"github.com/brojonat/xray/service/metrics"
	natspkg "github.com/brojonat/xray/service/nats"
	"github.com/brojonat/xray/service/temporal"
)

// Store is the persistence the HTTP API needs. *db.Store implements it.
type Store interface {
	UpsertTransaction(ctx context.Context, viewer string, tx classify.Transaction) error
	GetTransaction(ctx context.Context, signature, viewer string) (*db.ClassifiedTransaction, error)
	ListTransactionsByViewer(ctx context.Context, params db.ListTransactionsByViewerParams) ([]*db.ClassifiedTransaction, error)
	CountTransactionsByViewer(ctx context.Context, viewer string) (int64, error)
	UpsertWatchedAddress(ctx context.Context, params db.UpsertWatchedAddressParams) (*db.WatchedAddress, error)
	GetWatchedAddress(ctx context.Context, address string) (*db.WatchedAddress, error)
	ListWatchedAddresses(ctx context.Context) ([]*db.WatchedAddress, error)
	DeleteWatchedAddress(ctx context.Context, address string) error
}

// Dependencies are the collaborators of the HTTP API. Only Classifier is
// required; endpoints whose dependency is nil respond 503.
type Dependencies struct {
	Classifier *classify.Classifier
	Source     chain.Source
	Store      Store
	Scheduler  temporal.Scheduler
	Subscriber natspkg.Subscriber
}

// Server represents the HTTP server for the classification API.
type Server struct {
	addr    string
	cfg     *config.Config
	deps    Dependencies
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, deps Dependencies, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &config.Config{DefaultPollInterval: 30 * time.Second, MinPollInterval: 10 * time.Second}
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.NewClassifier(classify.DefaultLabels(), cfg.ClassifyOptions(), m, logger)
	}
	return &Server{
		addr:    addr,
		cfg:     cfg,
		deps:    deps,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Classification
	route("POST /api/v1/classify", "/api/v1/classify", handleClassify(s.deps.Classifier, s.logger))
	route("GET /api/v1/transactions/{signature}", "/api/v1/transactions", handleGetTransaction(s.deps.Classifier, s.deps.Source, s.deps.Store, s.logger))
	route("GET /api/v1/addresses/{address}/transactions", "/api/v1/addresses/transactions", handleListAddressTransactions(s.deps.Classifier, s.deps.Source, s.logger))
	route("GET /api/v1/addresses/{address}/history", "/api/v1/addresses/history", handleHistory(s.deps.Store, s.logger))
	route("GET /api/v1/labels", "/api/v1/labels", handleLabels(s.deps.Classifier.Labels()))

	// Watching
	route("POST /api/v1/watch", "/api/v1/watch", handleWatch(s.deps.Store, s.deps.Scheduler, s.cfg, s.logger))
	route("GET /api/v1/watch", "/api/v1/watch", handleListWatched(s.deps.Store, s.logger))
	route("GET /api/v1/watch/{address}", "/api/v1/watch/address", handleGetWatched(s.deps.Store, s.logger))
	route("DELETE /api/v1/watch/{address}", "/api/v1/watch/address", handleUnwatch(s.deps.Store, s.deps.Scheduler, s.logger))

	// SSE streaming endpoints (if a subscriber is configured)
	if s.deps.Subscriber != nil {
		route("GET /api/v1/stream/{address}", "/api/v1/stream", handleStreamTransactions(s.deps.Subscriber, s.metrics, s.logger))
		route("GET /api/v1/stream", "/api/v1/stream", handleStreamTransactions(s.deps.Subscriber, s.metrics, s.logger))
	} else {
		s.logger.Warn("NATS not configured, streaming endpoints disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(requestIDMiddleware(mux))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout so SSE streams are not cut off.
		IdleTimeout: 60 * time.Second,
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
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
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

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestIDMiddleware propagates the caller's X-Request-ID or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// requestID returns the request id assigned by requestIDMiddleware.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
