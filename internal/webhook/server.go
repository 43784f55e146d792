package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mattjoyce/interhook/internal/apperr"
	"github.com/mattjoyce/interhook/internal/log"
	"github.com/mattjoyce/interhook/internal/metrics"
)

// Server represents the webhook HTTP server.
type Server struct {
	config   Config
	pipeline TokenPipeline
	metrics  *metrics.Metrics
	logger   *slog.Logger
	server   *http.Server
}

// New creates a new webhook server instance.
func New(config Config, pipeline TokenPipeline, m *metrics.Metrics, logger *slog.Logger) *Server {
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	if config.TokenTimeout <= 0 {
		config.TokenTimeout = DefaultTokenTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}

	return &Server{
		config:   config,
		pipeline: pipeline,
		metrics:  m,
		logger:   logger,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      s.config.TokenTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "strict_payload", s.config.StrictPayload)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleLiveness)
	r.Post("/", s.handleWebhook)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if r.Method == http.MethodPost {
			s.metrics.RecordWebhook(status)
		}

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleLiveness answers GET / without touching the pipeline.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, livenessMessage)
}

// handleWebhook handles incoming webhook POST requests.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.WithRequest(s.logger, middleware.GetReqID(ctx))

	// Enforce body size limit
	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large", nil)
		return
	}

	payload, err := parsePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if payload.Empty() {
		logger.Warn("webhook payload is empty; check the sender configuration")
		if s.config.StrictPayload {
			s.respondError(w, http.StatusBadRequest, "payload is empty", nil)
			return
		}
		s.respondJSON(w, http.StatusOK, EmptyPayloadResponse{
			Status:  "ok",
			Message: "POST received but the body was empty; nothing was processed",
		})
		return
	}

	event := payload.Field("evento")
	logger.Info("webhook payload received",
		"event", event,
		"return_id", payload.Field("idRetorno"),
	)

	tok, err := s.pipeline.Run(ctx)
	if err != nil {
		status, message, details := mapError(err)
		logger.Error("token acquisition failed",
			"kind", apperr.KindOf(err).String(),
			"status", status,
			"error", err,
		)
		s.respondError(w, status, message, details)
		return
	}

	receiptID := uuid.NewString()
	logger.Info("webhook processed",
		"receipt_id", receiptID,
		"token_type", tok.TokenType,
		"expires_in", tok.ExpiresIn,
	)

	s.respondJSON(w, http.StatusOK, AcceptedResponse{
		Status:    "ok",
		Message:   "access token obtained; delivery accepted",
		ReceiptID: receiptID,
		Event:     event,
		TokenType: tok.TokenType,
		ExpiresIn: tok.ExpiresIn,
	})
}

// mapError converts a pipeline failure to a status, a caller-safe message
// and optional details. Causes are never exposed.
func mapError(err error) (int, string, any) {
	public, detail := apperr.Public(err)

	switch apperr.KindOf(err) {
	case apperr.KindConfiguration, apperr.KindCertificateParse, apperr.KindIdentityConstruction:
		return http.StatusForbidden, "mTLS authentication setup failed", public
	case apperr.KindAuthentication:
		return http.StatusUnauthorized, "token endpoint rejected the client credentials", detail
	default:
		return http.StatusInternalServerError, "internal error while processing the webhook", nil
	}
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string, details any) {
	s.respondJSON(w, status, ErrorResponse{Error: message, Details: details})
}
