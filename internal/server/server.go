// Package server exposes the operator HTTP API: status and pre-flight
// surfaces, enqueue endpoints, and JWT-protected overrides.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/common/logging"
	"cae-dispatcher/internal/dispatch"
	"cae-dispatcher/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Port to listen on
	Port int
	// JWTSecret signs and verifies operator tokens
	JWTSecret string
	// RequestsPerSecond is the API-wide token bucket refill rate
	RequestsPerSecond float64
	// Burst is the token bucket size
	Burst int
}

// Server is the operator API over the dispatch client. The store is
// optional; without it the result/audit listing endpoints return 404.
type Server struct {
	config     Config
	client     *dispatch.Client
	store      store.Store
	logger     logging.Logger
	router     *mux.Router
	limiter    *rate.Limiter
	httpServer *http.Server
}

// New wires the routes. st may be nil.
func New(config Config, client *dispatch.Client, st store.Store, logger logging.Logger) (*Server, error) {
	if client == nil {
		return nil, apperrors.ConfigError("server requires a dispatch client")
	}
	if config.JWTSecret == "" {
		return nil, apperrors.ConfigError("server requires a JWT secret")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.Port <= 0 {
		config.Port = 8080
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 50
	}
	if config.Burst <= 0 {
		config.Burst = 100
	}

	s := &Server{
		config:  config,
		client:  client,
		store:   st,
		logger:  logger.WithFields(logging.Field{Key: "component", Value: "server"}),
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.throttleMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/status/{tenant}", s.handleStatus).Methods("GET")
	api.HandleFunc("/preflight/{tenant}", s.handlePreflight).Methods("GET")
	api.HandleFunc("/authorizations", s.handleEnqueue).Methods("POST")
	api.HandleFunc("/authorizations/batch", s.handleEnqueueBatch).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods("DELETE")
	api.HandleFunc("/results", s.handleListResults).Methods("GET")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(s.authMiddleware)
	admin.HandleFunc("/tenants", s.handleRegisterTenant).Methods("POST")
	admin.HandleFunc("/tenants/{tenant}", s.handleRemoveTenant).Methods("DELETE")
	admin.HandleFunc("/circuit/{scope}/open", s.handleCircuitOverride(true)).Methods("POST")
	admin.HandleFunc("/circuit/{scope}/close", s.handleCircuitOverride(false)).Methods("POST")
	admin.HandleFunc("/processing/pause", s.handleProcessingOverride(true)).Methods("POST")
	admin.HandleFunc("/processing/resume", s.handleProcessingOverride(false)).Methods("POST")
	admin.HandleFunc("/audit", s.handleListAudit).Methods("GET")

	return r
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("Operator API listening",
		logging.Field{Key: "port", Value: s.config.Port},
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("Failed to encode response", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusOf(err)
	if status == 0 {
		switch apperrors.GetType(err) {
		case apperrors.ErrTypeValidation, apperrors.ErrTypeConfig:
			status = http.StatusBadRequest
		case apperrors.ErrTypeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrTypeRateLimit:
			status = http.StatusTooManyRequests
		case apperrors.ErrTypeCircuitOpen:
			status = http.StatusServiceUnavailable
		case apperrors.ErrTypeTimeout:
			status = http.StatusGatewayTimeout
		case apperrors.ErrTypeConnection:
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
