// Package api exposes the resume registry over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/louisbranch/gammon.space/internal/platform/errors"
	"github.com/louisbranch/gammon.space/internal/resume/domain"
	"github.com/louisbranch/gammon.space/internal/resume/registry"
)

const defaultReplayPageSize = 100

// Handler holds the HTTP handlers for the resume service.
type Handler struct {
	registry *registry.Registry
}

// NewHandler creates a handler backed by the given registry.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{registry: reg}
}

// Routes assembles the router with middleware applied.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	r.Get("/health", h.Health)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.IssueSession)
		r.Post("/resume", h.ResumeSession)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Post("/ack", h.Acknowledge)
			r.Post("/heartbeat", h.Heartbeat)
			r.Delete("/", h.Revoke)
		})
	})

	r.Route("/games/{gameID}", func(r chi.Router) {
		r.Post("/events", h.RecordEvent)
		r.Get("/events", h.ListEvents)
		r.Get("/min-ack", h.MinimumAck)
	})

	r.Post("/maintenance/cleanup", h.Cleanup)

	return r
}

// Health reports service liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionView struct {
	ID              string            `json:"id"`
	GameID          string            `json:"game_id"`
	UserID          string            `json:"user_id"`
	LastAckSeq      uint64            `json:"last_ack_seq"`
	LastHeartbeatAt *time.Time        `json:"last_heartbeat_at,omitempty"`
	IssuedAt        time.Time         `json:"issued_at"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func viewSession(session domain.Session) sessionView {
	return sessionView{
		ID:              session.ID,
		GameID:          session.GameID,
		UserID:          session.UserID,
		LastAckSeq:      session.LastAckSeq,
		LastHeartbeatAt: session.LastHeartbeatAt,
		IssuedAt:        session.IssuedAt,
		ExpiresAt:       session.ExpiresAt,
		Metadata:        session.Metadata,
	}
}

type eventView struct {
	GameID    string          `json:"game_id"`
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func viewEvent(event domain.Event) eventView {
	return eventView{
		GameID:    event.GameID,
		Seq:       event.Seq,
		Type:      event.Type,
		Payload:   json.RawMessage(event.PayloadJSON),
		CreatedAt: event.CreatedAt,
	}
}

type issueSessionRequest struct {
	GameID            string            `json:"game_id"`
	UserID            string            `json:"user_id"`
	LastAckSeq        uint64            `json:"last_ack_seq"`
	TokenTTLSeconds   int64             `json:"token_ttl_seconds"`
	SessionTTLSeconds int64             `json:"session_ttl_seconds"`
	Metadata          map[string]string `json:"metadata"`
}

// IssueSession creates a session and returns its resume credential. The raw
// credential appears only in this response; the service keeps a hash.
func (h *Handler) IssueSession(w http.ResponseWriter, r *http.Request) {
	var req issueSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err))
		return
	}

	issued, err := h.registry.IssueSession(r.Context(), req.GameID, req.UserID, registry.IssueOptions{
		LastAckSeq: req.LastAckSeq,
		TokenTTL:   time.Duration(req.TokenTTLSeconds) * time.Second,
		SessionTTL: time.Duration(req.SessionTTLSeconds) * time.Second,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]any{
		"token":   issued.Token,
		"session": viewSession(issued.Session),
	})
}

// ResumeSession validates a credential and returns the recovered session.
// All rejections share one 401 shape; the code field exists for telemetry,
// and clients react to every variant the same way: re-issue and rejoin.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err))
		return
	}

	resumed, err := h.registry.ValidateToken(r.Context(), req.Token)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"session": viewSession(resumed.Session),
	})
}

// Acknowledge advances a session's replay watermark.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seq uint64 `json:"seq"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err))
		return
	}

	updated, err := h.registry.Acknowledge(r.Context(), chi.URLParam(r, "sessionID"), req.Seq)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"session": viewSession(updated)})
}

// Heartbeat refreshes a session's liveness.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	updated, err := h.registry.UpdateHeartbeat(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"session": viewSession(updated)})
}

// Revoke deletes a session explicitly.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Revoke(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordEvent appends a game-state transition to the journal.
func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err))
		return
	}

	event, err := h.registry.RecordEvent(r.Context(), domain.AppendEventInput{
		GameID:  chi.URLParam(r, "gameID"),
		Type:    req.Type,
		Payload: req.Payload,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{"event": viewEvent(event)})
}

// ListEvents replays the journal after a watermark, oldest first. The
// response includes the latest assigned sequence so clients can tell when
// they have caught up.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	afterSeq, err := parseUintQuery(r, "after", 0)
	if err != nil {
		h.respondError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid after parameter", err))
		return
	}
	limit, err := parseUintQuery(r, "limit", defaultReplayPageSize)
	if err != nil {
		h.respondError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid limit parameter", err))
		return
	}

	events, err := h.registry.FetchEventsSince(r.Context(), gameID, afterSeq, int(limit))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	latest, err := h.registry.LatestEventSeq(r.Context(), gameID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, event := range events {
		views = append(views, viewEvent(event))
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"events":     views,
		"latest_seq": latest,
	})
}

// MinimumAck reports the current safe purge point for a game.
func (h *Handler) MinimumAck(w http.ResponseWriter, r *http.Request) {
	minAck, ok, err := h.registry.MinimumAckSequence(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"min_ack_seq":       minAck,
		"has_live_sessions": ok,
	})
}

// Cleanup runs an expiry sweep on demand.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	revoked, err := h.registry.CleanupExpiredSessions(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

func parseUintQuery(r *http.Request, name string, fallback uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// respondError maps domain errors to HTTP statuses. Resume rejections all
// render the same error string regardless of cause.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		h.respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := errorResponse{Error: appErr.Message, Code: string(appErr.Code)}
	if appErr.Code.ResumeRejected() {
		resp.Error = "resume_rejected"
	}
	h.respondJSON(w, appErr.Code.HTTPStatus(), resp)
}
