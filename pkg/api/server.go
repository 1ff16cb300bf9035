// Package api exposes the round-up workflow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"roundup/pkg/idempotency"
	"roundup/pkg/logging"
	"roundup/pkg/metrics"
	"roundup/pkg/orchestrator"
)

// Header names of the idempotent trigger.
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "X-Idempotency-Replayed"
	HeaderStored         = "X-Idempotency-Stored"
)

// Runner runs the round-up workflow once.
type Runner interface {
	Run(ctx context.Context) (orchestrator.Result, error)
}

// CircuitReporter reports the state of the downstream circuit breaker.
type CircuitReporter interface {
	CircuitState() metrics.CircuitState
}

// Dependencies are the collaborators of the server. Only Runner is required.
type Dependencies struct {
	Runner Runner

	// Guard de-duplicates requests carrying an Idempotency-Key header.
	// Nil disables idempotent replay.
	Guard *idempotency.Guard

	// Registry serves /metrics and receives the HTTP request metrics.
	// Nil disables both.
	Registry *prometheus.Registry

	// Breaker is reported by /status when set.
	Breaker CircuitReporter
}

// Server provides the HTTP trigger for the round-up workflow plus health,
// status and metrics endpoints.
type Server struct {
	deps   Dependencies
	router *mux.Router
	server *http.Server
	config ServerConfig
	logger *logging.Logger
	start  time.Time
}

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Address to listen on (e.g., ":8080")
	Address string

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration

	// WriteTimeout for HTTP responses. A run with retries can take several
	// seconds, so this must exceed the worst-case run time.
	WriteTimeout time.Duration

	// MetricsNamespace prefixes the HTTP request metrics.
	MetricsNamespace string
}

// DefaultServerConfig returns a default configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:          ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     2 * time.Minute,
		MetricsNamespace: "roundup",
	}
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, config ServerConfig) (*Server, error) {
	s := &Server{
		deps:   deps,
		config: config,
		logger: logging.Global().Named("api"),
		start:  time.Now(),
	}

	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	if deps.Registry != nil {
		hm := newHTTPMetrics(config.MetricsNamespace)
		if err := hm.register(deps.Registry); err != nil {
			return nil, err
		}
		router.Use(hm.middleware)
		router.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	router.HandleFunc("/api/v2/feed/roundup", s.handleRoundUp).Methods(http.MethodPost)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.router = router
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called. It returns nil after a
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("api server listening", zap.String("address", s.config.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleRoundUp triggers one workflow run. With an Idempotency-Key header the
// first outcome for the key is stored and replayed to later requests.
func (s *Server) handleRoundUp(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(HeaderIdempotencyKey)
	if key == "" || s.deps.Guard == nil {
		writeRecord(w, s.execute(r.Context()))
		return
	}

	record, replayed, err := s.deps.Guard.Do(r.Context(), key, func(ctx context.Context) (idempotency.Record, error) {
		return s.execute(ctx), nil
	})
	switch {
	case err == nil:
	case errors.Is(err, idempotency.ErrNotStored):
		// The run happened; the client must not blindly retry with this key.
		s.logger.Warn("round-up outcome not stored for replay", zap.String("key", key), zap.Error(err))
		w.Header().Set(HeaderStored, "false")
	case errors.Is(err, idempotency.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "InvalidIdempotencyKey", err.Error())
		return
	case r.Context().Err() != nil:
		s.logger.Info("client went away while waiting for round-up", zap.String("key", key))
		writeError(w, http.StatusServiceUnavailable, "RequestCancelled", "request cancelled")
		return
	default:
		s.logger.Error("idempotency store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "IdempotencyUnavailable", "idempotency store unavailable")
		return
	}

	if replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
	writeRecord(w, record)
}

// execute runs the workflow and renders its outcome as a response record.
func (s *Server) execute(ctx context.Context) idempotency.Record {
	result, err := s.deps.Runner.Run(ctx)

	status := http.StatusOK
	var body interface{} = newRoundUpResponse(result)
	if err != nil {
		status = statusFor(err)
		body = newErrorResponse(err)
	}

	data, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		s.logger.Error("failed to encode response", zap.Error(marshalErr))
		status = http.StatusInternalServerError
		data = []byte(`{"code":"InternalError","message":"failed to encode response"}`)
	}

	return idempotency.Record{
		Status:      status,
		ContentType: "application/json",
		Body:        data,
		CreatedAt:   time.Now().UTC(),
	}
}

// handleHealth returns a simple health check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// handleStatus returns uptime and the downstream circuit state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "running",
		"timestamp":   time.Now().Unix(),
		"uptime":      time.Since(s.start).String(),
		"idempotency": s.deps.Guard != nil,
	}
	if s.deps.Breaker != nil {
		response["circuit"] = s.deps.Breaker.CircuitState().String()
	}

	writeJSON(w, http.StatusOK, response)
}

func writeRecord(w http.ResponseWriter, record idempotency.Record) {
	if record.ContentType != "" {
		w.Header().Set("Content-Type", record.ContentType)
	}
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Timestamp: time.Now().UTC(),
		Code:      code,
		Message:   message,
	})
}
