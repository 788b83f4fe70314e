// Package api provides HTTP handlers for the conversation service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tailored-agentic-units/converse/approval"
	"github.com/tailored-agentic-units/converse/engine"
	"github.com/tailored-agentic-units/converse/store"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// maxRequestBodySize caps request bodies at 1MB.
const maxRequestBodySize = 1 << 20

// defaultAuthor is recorded when the caller sends no x-username header.
const defaultAuthor = "SYSTEM"

// Handler provides common handler utilities.
type Handler struct {
	eng    *engine.Engine
	repo   store.Store
	logger *slog.Logger
}

// NewHandler creates a Handler over the engine and its store.
func NewHandler(eng *engine.Engine, repo store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{eng: eng, repo: repo, logger: logger}
}

// Router builds the service router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", h.Health)

	r.Route("/api/v1/chat", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.StartSession)
			r.Get("/", h.ListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Put("/", h.RenameSession)
				r.Delete("/", h.DeleteSession)
				r.Post("/messages", h.SubmitMessage)
				r.Put("/messages/{messageID}", h.EditMessage)
			})
		})
		r.Post("/pending/{pendingID}", h.ResolvePending)
	})

	return r
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// engineError maps engine and store errors to HTTP responses.
func (h *Handler) engineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, engine.ErrUnknownAgent),
		errors.Is(err, approval.ErrUnknownPending):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrTurnInFlight),
		errors.Is(err, approval.ErrAlreadyResolved),
		errors.Is(err, approval.ErrDuplicatePending):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrNotUserMessage),
		errors.Is(err, approval.ErrInvalidDecision):
		Error(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// author extracts the acting username from the request.
func author(r *http.Request) string {
	if name := r.Header.Get("x-username"); name != "" {
		return name
	}
	return defaultAuthor
}

// decode reads a bounded JSON request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
