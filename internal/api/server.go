// Package api provides the oneXRD REST API server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/services"
	"github.com/FocuswithJustin/onexrd/internal/logging"
	"github.com/FocuswithJustin/onexrd/internal/store"
)

const (
	apiPrefix       = "/api/v1"
	jobsPath        = apiPrefix + "/jobs/"
	experimentsPath = apiPrefix + "/experiments/"

	shutdownTimeout = 15 * time.Second
)

// Server serves the analysis pipeline over HTTP.
type Server struct {
	cfg        Config
	hub        *Hub
	jobs       *JobStore
	loader     *importer.CachedLoader
	calculator services.PatternCalculator
	store      *store.Store
	limiter    *RateLimiter

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the experiment endpoints and the save flag of analyze.
func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

// New validates cfg and builds a server. Call Close (or ListenAndServe,
// which closes on return) to stop background work.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := ValidateAuthConfig(cfg.Auth); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	if err := cfg.Analysis.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis config: %w", err)
	}
	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return nil, fmt.Errorf("TLS enabled but cert or key file not specified")
		}
		for _, f := range []string{cfg.TLS.CertFile, cfg.TLS.KeyFile} {
			if _, err := os.Stat(f); err != nil {
				return nil, fmt.Errorf("TLS file not found: %w", err)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		hub:        NewHub(),
		jobs:       NewJobStore(),
		loader:     importer.NewCachedLoader(cfg.Analysis.ScanCache()),
		calculator: cfg.Analysis.PatternCalculator(),
		ctx:        ctx,
		cancel:     cancel,
		started:    time.Now(),
	}
	if cfg.RateLimitRequests > 0 {
		s.limiter = NewRateLimiter(RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimitRequests,
			BurstSize:         cfg.RateLimitBurst,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.hub.Run()
	if s.limiter != nil {
		go s.limiter.Sweep(ctx, time.Minute)
	}
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(apiPrefix+"/analyze", s.handleAnalyze)
	mux.HandleFunc(apiPrefix+"/batch", s.handleBatch)
	mux.HandleFunc(apiPrefix+"/jobs", s.handleJobs)
	mux.HandleFunc(jobsPath, s.handleJobByID)
	mux.HandleFunc(apiPrefix+"/formats", s.handleFormats)
	mux.HandleFunc(apiPrefix+"/cache", s.handleCache)
	mux.HandleFunc(apiPrefix+"/experiments", s.handleExperiments)
	mux.HandleFunc(experimentsPath, s.handleExperimentByID)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Handler returns the routed handler wrapped in the middleware chain.
// From the inside out: security headers, auth, rate limit, CORS, logging.
func (s *Server) Handler() http.Handler {
	var h http.Handler = securityHeaders(s.routes())

	h = authMiddleware(s.cfg.Auth, h)
	logging.SecurityEvent("authentication_configured", "api", "enabled", s.cfg.Auth.Enabled)

	if s.limiter != nil {
		h = s.limiter.Middleware(h)
		logging.Info("rate limiting enabled",
			"requests_per_minute", s.limiter.config.RequestsPerMinute,
			"burst_size", s.limiter.config.BurstSize)
	}

	h = corsMiddleware(s.cfg.AllowedOrigins, h)
	if len(s.cfg.AllowedOrigins) > 0 {
		logging.SecurityEvent("cors_configured", "api", "mode", "restricted", "allowed_origins_count", len(s.cfg.AllowedOrigins))
	} else {
		logging.SecurityEvent("cors_configured", "api", "mode", "permissive")
	}
	return logging.CombinedMiddleware(h)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully,
// cancelling running jobs and waiting for them to stop.
func (s *Server) ListenAndServe(ctx context.Context) error {
	defer s.Close()

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	protocol, ws := "http", "ws"
	if s.cfg.TLS.Enabled {
		protocol, ws = "https", "wss"
	} else {
		logging.Warn("TLS disabled - using plain HTTP")
	}
	port := 0
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	logging.ServerStartup("rest_api", protocol, port,
		"websocket_protocol", ws,
		"data_root", s.cfg.DataRoot,
		"store", s.store != nil)

	errc := make(chan error, 1)
	go func() {
		if s.cfg.TLS.Enabled {
			errc <- srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
			return
		}
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down", "addr", s.cfg.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close cancels running jobs, waits for them, and stops the hub.
func (s *Server) Close() {
	s.jobs.CancelAll()
	s.cancel()
	s.wg.Wait()
	s.hub.Stop()
}
