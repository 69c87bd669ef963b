// Package server assembles the FaultMaven runtime from configuration.
//
// Responsibilities:
//   - Build the application logger and the audit trail
//   - Open the state store (SQLite or in-memory)
//   - Build the generation client for the configured provider
//   - Wire the orchestration controller
//   - Serve Prometheus metrics when enabled
//   - Shut everything down in reverse order
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/audit"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/config"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/db"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/llm/adapter"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/logging"
	"github.com/FaultMaven/FaultMaven-Mono-sub001/internal/reasoning/engine"
)

// Server owns every long-lived component.
type Server struct {
	config *config.Config

	// Core components
	logger     *zap.Logger
	auditLog   audit.Logger
	store      db.Store
	generator  llm.Generator
	controller *engine.Controller

	// Metrics listener
	metricsServer *http.Server
	metricsAddr   net.Addr
	group         *errgroup.Group

	// State
	mu      sync.Mutex
	running bool
}

// Option overrides a component NewServer would otherwise build.
type Option func(*Server)

// WithLogger uses logger instead of building one from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStore uses store instead of opening the configured database.
func WithStore(store db.Store) Option {
	return func(s *Server) { s.store = store }
}

// WithGenerator uses g instead of the configured provider.
func WithGenerator(g llm.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// NewServer builds the runtime for cfg.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}

	s := &Server{config: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initializeComponents(); err != nil {
		s.closeComponents()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return s, nil
}

func (s *Server) initializeComponents() error {
	cfg := s.config

	// 1. Application logger
	if s.logger == nil {
		logger, err := logging.New(logging.Config{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			FilePath:   cfg.Logging.FilePath,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		s.logger = logger
	}

	// 2. Audit trail
	s.auditLog = audit.NewNop()
	if cfg.Audit.Enabled {
		auditCfg := audit.DefaultConfig()
		auditCfg.AuditLogPath = cfg.Audit.FilePath
		auditLog, err := audit.NewLogger(auditCfg, s.logger)
		if err != nil {
			return fmt.Errorf("audit logger: %w", err)
		}
		s.auditLog = auditLog
	}

	// 3. State store
	if s.store == nil {
		store, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("state store: %w", err)
		}
		s.store = store
	}

	// 4. Generation client
	if s.generator == nil {
		gen, err := adapter.New(adapter.Config{
			Provider:  adapter.ProviderType(cfg.LLM.Provider),
			APIKey:    cfg.LLM.APIKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("generation client: %w", err)
		}
		s.generator = gen
	}

	// 5. Orchestration controller
	s.controller = engine.NewController(
		s.store,
		s.generator,
		engine.OptionsFromConfig(cfg),
		clockwork.NewRealClock(),
		s.logger,
		s.auditLog,
	)

	loaded := audit.NewEvent(audit.EventConfigLoaded).
		WithDescription(fmt.Sprintf("database=%s provider=%s", cfg.Database.Type, cfg.LLM.Provider))
	if err := s.auditLog.Log(context.Background(), loaded); err != nil {
		s.logger.Warn("audit config load", zap.Error(err))
	}

	s.logger.Info("runtime initialized",
		zap.String("database", cfg.Database.Type),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("audit", cfg.Audit.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	return nil
}

func openStore(cfg *config.Config) (db.Store, error) {
	switch cfg.Database.Type {
	case "memory":
		return db.NewMemoryStore(), nil
	case "sqlite", "":
		return db.NewSQLiteStore(cfg.Database.SQLitePath)
	}
	return nil, fmt.Errorf("unsupported database type %q", cfg.Database.Type)
}

// Controller returns the orchestration controller.
func (s *Server) Controller() *engine.Controller { return s.controller }

// Logger returns the application logger.
func (s *Server) Logger() *zap.Logger { return s.logger }

// Audit returns the audit trail.
func (s *Server) Audit() audit.Logger { return s.auditLog }

// MetricsAddr returns the bound metrics address, or nil when not serving.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// Start begins serving metrics when enabled. It returns once the listener
// is bound.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.group = &errgroup.Group{}

	if !s.config.Metrics.Enabled {
		return nil
	}

	ln, err := net.Listen("tcp", s.config.Metrics.ListenAddress)
	if err != nil {
		s.running = false
		return fmt.Errorf("listen on %s: %w", s.config.Metrics.ListenAddress, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealth)

	s.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.metricsAddr = ln.Addr()

	srv := s.metricsServer
	s.group.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	s.logger.Info("serving metrics", zap.String("address", ln.Addr().String()))
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		http.Error(w, "store unavailable: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Stop shuts the metrics listener down and closes all components.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	srv, group := s.metricsServer, s.group
	s.metricsServer, s.metricsAddr = nil, nil
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	if err := group.Wait(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, s.closeComponents())
	return errors.Join(errs...)
}

// Close releases components of a server that was never started.
func (s *Server) Close() error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("server is running, use Stop")
	}
	return s.closeComponents()
}

// closeComponents releases what initializeComponents opened.
func (s *Server) closeComponents() error {
	var errs []error
	if s.auditLog != nil {
		if err := s.auditLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
	return errors.Join(errs...)
}
