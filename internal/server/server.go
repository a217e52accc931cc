// Package server exposes the permission RPC procedures and the chat stream
// subscription over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/joss/sagi/internal/agent"
	"github.com/joss/sagi/internal/domain"
	"github.com/joss/sagi/internal/logging"
	"github.com/joss/sagi/internal/metrics"
	"github.com/joss/sagi/internal/permission"
)

// Server serves the sagi HTTP API.
type Server struct {
	orch        *agent.Orchestrator
	classifier  *permission.Classifier
	metrics     *metrics.Metrics
	mux         *http.ServeMux
	cancels     *cancelRegistry
	procedures  map[string]procedure
	jwtSecret   []byte
	corsOrigins []string
	log         *logging.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithJWTSecret requires a valid HS256 bearer token on /rpc and /chat.
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.jwtSecret = []byte(secret)
		}
	}
}

// WithCORSOrigins restricts cross-origin requests. Empty allows any origin.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMetrics sets the metrics served on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

func New(orch *agent.Orchestrator, classifier *permission.Classifier, opts ...Option) *Server {
	s := &Server{
		orch:       orch,
		classifier: classifier,
		metrics:    metrics.Global(),
		mux:        http.NewServeMux(),
		cancels:    newCancelRegistry(),
		log:        logging.New("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.procedures = s.permissionProcedures()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("POST /rpc/{name}", s.auth(http.HandlerFunc(s.handleRPC)))
	s.mux.Handle("POST /chat/stream", s.auth(http.HandlerFunc(s.handleChatStream)))
	s.mux.Handle("GET /chat/ws", s.auth(http.HandlerFunc(s.handleChatWS)))
	s.mux.Handle("POST /chat/{chatId}/cancel", s.auth(http.HandlerFunc(s.handleCancel)))
}

// Handler returns the mux wrapped in request-id and CORS middleware.
func (s *Server) Handler() http.Handler {
	return RequestID(CORS(s.corsOrigins)(s.mux))
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests and cancels running turns.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.cancels.cancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("server_listening", map[string]interface{}{"addr": addr, "auth": len(s.jwtSecret) > 0})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.classifier.Store().Len(),
		"active":   s.cancels.len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and writes {"error": message}.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var bad *badRequestError
	switch {
	case errors.As(err, &bad),
		errors.Is(err, permission.ErrInvalidMode),
		errors.Is(err, domain.ErrEmptyPrompt),
		errors.Is(err, domain.ErrMissingChatID),
		errors.Is(err, domain.ErrMissingAPIKey),
		errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, agent.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.Is(err, errUnknownProcedure), errors.Is(err, errNoActiveTurn):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &badRequestError{msg: msg}
}
