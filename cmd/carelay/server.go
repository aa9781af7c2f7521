package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"carelay/internal/database"
	"carelay/internal/features"
	"carelay/internal/middleware"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/internal/service"
	"carelay/internal/storage"
	"carelay/internal/versioning"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ForwardLister lists the forward audit trail.
type ForwardLister interface {
	RecentForwards(ctx context.Context, limit int) ([]database.ForwardAudit, error)
}

// ServerDeps is what the HTTP surface reads and drives.
type ServerDeps struct {
	Background *service.Background
	Agent      *service.PageAgent
	Store      storage.Store
	Flags      *features.FlagManager
	Forwards   ForwardLister // nil unless the sqlite backend is in use
	PageSocket http.Handler
	Gatherer   prometheus.Gatherer
	Metrics    *metrics.Metrics
}

type Server struct {
	router  *mux.Router
	cfg     models.ServerConfig
	deps    ServerDeps
	logger  *logrus.Logger
	verbose bool
	server  *http.Server
}

func NewServer(cfg models.ServerConfig, deps ServerDeps, logger *logrus.Logger, verbose bool) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		verbose: verbose,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSec) * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.deps.Metrics))
	if s.verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	versions := versioning.NewVersionMiddleware(s.logger)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(versions.VersionHandler, requireToken(s.cfg.APIToken, s.logger))
	api.HandleFunc("/version", s.handleVersion()).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handleGetSettings()).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings()).Methods(http.MethodPut)
	api.HandleFunc("/queue", s.handleQueue()).Methods(http.MethodGet)
	api.HandleFunc("/ledger", s.handleLedger()).Methods(http.MethodGet)
	api.HandleFunc("/ledger/prune", s.handlePruneLedger()).Methods(http.MethodPost)
	api.HandleFunc("/forwards", s.handleForwards()).Methods(http.MethodGet)
	api.HandleFunc("/scan", s.handleScan()).Methods(http.MethodPost)
	api.HandleFunc("/flags", s.handleFlags()).Methods(http.MethodGet)
	api.HandleFunc("/flags/{name}", s.handleSetFlag()).Methods(http.MethodPut)

	if s.deps.PageSocket != nil {
		ws := s.router.PathPrefix("/ws").Subrouter()
		ws.Use(versions.VersionHandler, requireToken(s.cfg.APIToken, s.logger))
		ws.Handle("/page", s.deps.PageSocket).Methods(http.MethodGet)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
