package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"autoforwardx/internal/events"
	"autoforwardx/internal/metrics"
	"autoforwardx/internal/middleware"
	"autoforwardx/internal/models"
	"autoforwardx/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Engine is the operation surface the HTTP binding exposes.
type Engine interface {
	AddAccount(ctx context.Context, caller models.Caller, spec models.AccountSpec) (*models.Account, error)
	RemoveAccount(ctx context.Context, caller models.Caller, id string) error
	ReconnectAccount(ctx context.Context, caller models.Caller, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, caller models.Caller) ([]models.Account, error)
	AccountHealth(ctx context.Context, caller models.Caller, id string) (models.HealthRecord, error)

	CreatePair(ctx context.Context, caller models.Caller, spec models.PairSpec) (*models.ForwardingPair, error)
	UpdatePair(ctx context.Context, caller models.Caller, id string, patch models.PairPatch) (*models.ForwardingPair, error)
	PausePair(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error)
	ResumePair(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error)
	DeletePair(ctx context.Context, caller models.Caller, id string) error
	GetPair(ctx context.Context, caller models.Caller, id string) (*models.ForwardingPair, error)
	ListPairs(ctx context.Context, caller models.Caller, filter models.PairFilter) ([]models.ForwardingPair, error)
	BulkOp(ctx context.Context, caller models.Caller, req models.BulkRequest) (*models.BulkResult, error)
	ListDeliveries(ctx context.Context, caller models.Caller, pairID string, limit int) ([]models.DeliveryLog, error)

	GetLimits(plan string) (models.PlanPolicy, error)
	Subscribe(caller models.Caller) (*events.Subscription, error)
}

var _ Engine = (*service.Service)(nil)

// Pinger reports storage reachability for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router *mux.Router
	logger *logrus.Logger
	engine Engine
	pinger Pinger
	cfg    models.ServerConfig
	server *http.Server
}

// NewServer builds the router. pinger may be nil for the in-memory store.
func NewServer(cfg models.ServerConfig, engine Engine, pinger Pinger, verbose bool, logger *logrus.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		engine: engine,
		pinger: pinger,
		cfg:    cfg,
	}
	s.setupRoutes(verbose)
	return s
}

func (s *Server) setupRoutes(verbose bool) {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	if verbose {
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/accounts", s.handleListAccounts()).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.handleAddAccount()).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", s.handleRemoveAccount()).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{id}/health", s.handleAccountHealth()).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}/reconnect", s.handleReconnectAccount()).Methods(http.MethodPost)

	// /pairs/bulk is registered before /pairs/{id} so "bulk" is never taken as an id.
	api.HandleFunc("/pairs/bulk", s.handleBulk()).Methods(http.MethodPost)
	api.HandleFunc("/pairs", s.handleListPairs()).Methods(http.MethodGet)
	api.HandleFunc("/pairs", s.handleCreatePair()).Methods(http.MethodPost)
	api.HandleFunc("/pairs/{id}", s.handleGetPair()).Methods(http.MethodGet)
	api.HandleFunc("/pairs/{id}", s.handleUpdatePair()).Methods(http.MethodPatch)
	api.HandleFunc("/pairs/{id}", s.handleDeletePair()).Methods(http.MethodDelete)
	api.HandleFunc("/pairs/{id}/pause", s.handlePausePair()).Methods(http.MethodPost)
	api.HandleFunc("/pairs/{id}/resume", s.handleResumePair()).Methods(http.MethodPost)
	api.HandleFunc("/pairs/{id}/deliveries", s.handleListDeliveries()).Methods(http.MethodGet)

	api.HandleFunc("/plans/{plan}", s.handleGetLimits()).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := s.pinger.Ping(ctx); err != nil {
				s.logger.WithError(err).Warn("Health check failed: database unreachable")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
