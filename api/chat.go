package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tailored-agentic-units/converse/approval"
	"github.com/tailored-agentic-units/converse/engine"
	"github.com/tailored-agentic-units/converse/store"

	"github.com/go-chi/chi/v5"
)

type startSessionRequest struct {
	AgentID string `json:"agentId"`
	Content string `json:"content"`
}

type sessionResponse struct {
	Session *store.Session  `json:"session"`
	Outcome *engine.Outcome `json:"outcome"`
}

// StartSession creates a session, records the opening message, and runs
// the first turn.
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Content == "" {
		Error(w, http.StatusBadRequest, "agentId and content are required")
		return
	}

	sess, outcome, err := h.eng.StartSession(r.Context(), req.AgentID, req.Content, author(r))
	if err != nil {
		h.engineError(w, err)
		return
	}
	JSON(w, http.StatusCreated, sessionResponse{Session: sess, Outcome: outcome})
}

// ListSessions lists sessions, optionally filtered by agent.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	sessions, err := h.repo.ListSessions(r.Context(), r.URL.Query().Get("agentId"), limit, offset)
	if err != nil {
		h.engineError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GetSession returns a session together with its full message history.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	sess, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		h.engineError(w, err)
		return
	}
	messages, err := h.repo.Messages(r.Context(), id)
	if err != nil {
		h.engineError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"session": sess, "messages": messages})
}

type renameSessionRequest struct {
	Name string `json:"name"`
}

// RenameSession updates a session's display name.
func (h *Handler) RenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameSessionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "name is required")
		return
	}

	id := chi.URLParam(r, "sessionID")
	if err := h.repo.RenameSession(r.Context(), id, req.Name); err != nil {
		h.engineError(w, err)
		return
	}
	sess, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		h.engineError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"session": sess})
}

// DeleteSession removes a session and all of its messages.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.engineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitMessageRequest struct {
	Content string `json:"content"`
}

// SubmitMessage records a user message and runs one turn. Returns 409
// while the session is suspended awaiting a tool call decision.
func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	var req submitMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	outcome, err := h.eng.Submit(r.Context(), chi.URLParam(r, "sessionID"), req.Content, author(r))
	if err != nil {
		h.engineError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

type editMessageRequest struct {
	Content string `json:"content"`
}

// EditMessage rewrites a previously sent user message, discards every
// later message, and reruns the turn.
func (h *Handler) EditMessage(w http.ResponseWriter, r *http.Request) {
	var req editMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	outcome, err := h.eng.Edit(r.Context(), chi.URLParam(r, "messageID"), req.Content, author(r))
	if err != nil {
		h.engineError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

type resolvePendingRequest struct {
	Decision  string          `json:"decision"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// ResolvePending applies a human decision to a suspended tool call and
// resumes the turn.
func (h *Handler) ResolvePending(w http.ResponseWriter, r *http.Request) {
	var req resolvePendingRequest
	if !decode(w, r, &req) {
		return
	}

	outcome, err := h.eng.Resolve(r.Context(), chi.URLParam(r, "pendingID"),
		approval.Decision(req.Decision), req.Arguments, req.Reason, author(r))
	if err != nil {
		h.engineError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}
