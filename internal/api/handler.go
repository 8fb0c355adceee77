package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/devops-qa/internal/engine"
	"github.com/ashureev/devops-qa/internal/knowledge"
	"github.com/ashureev/devops-qa/internal/store"
	"github.com/ashureev/devops-qa/internal/stream"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// defaultSessionListLimit caps GET /api/sessions when no limit is given.
const defaultSessionListLimit = 50

// ChatStreamer handles one conversation turn as a lazy fragment sequence.
type ChatStreamer interface {
	ProcessStream(ctx context.Context, req engine.Request) (string, iter.Seq[stream.Fragment], error)
}

// Frame is the wire envelope shared by the SSE and WebSocket transports.
type Frame struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id"`
}

// Handler exposes the conversation workflow over HTTP.
type Handler struct {
	chat        ChatStreamer
	repo        store.Repository
	kb          *knowledge.Base
	rateLimiter *RateLimiter
}

// NewHandler creates the API handler.
func NewHandler(chat ChatStreamer, repo store.Repository, kb *knowledge.Base, limit int, window time.Duration) *Handler {
	return &Handler{
		chat:        chat,
		repo:        repo,
		kb:          kb,
		rateLimiter: NewRateLimiter(limit, window),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/sessions", h.HandleListSessions)
		r.Get("/sessions/{sessionID}", h.HandleGetSession)
		r.Delete("/sessions/{sessionID}", h.HandleDeleteSession)
		r.Post("/knowledge", h.HandleAddKnowledge)
	})
	r.Get("/health", h.HandleHealth)
}

// HandleChat handles POST /api/chat: one conversation turn streamed back as
// server-sent events. Every frame is a JSON Frame on a data line; the stream
// ends with a complete frame, or an error frame if the turn could not start
// after headers were sent.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.rateLimiter.Allow(clientKey(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID, fragments, err := h.chat.ProcessStream(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyMessage) {
			Error(w, http.StatusBadRequest, err.Error())
			return
		}
		Error(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	slog.Info("Chat request", "session_id", sessionID, "message_length", len(req.Message))

	for fragment := range fragments {
		frame := Frame{Type: string(fragment.Kind), Content: fragment.Text, SessionID: sessionID}
		if err := writeSSEFrame(w, frame); err != nil {
			slog.Warn("Failed to write SSE frame, client gone", "session_id", sessionID, "error", err)
			return
		}
		flusher.Flush()
	}

	if err := writeSSEFrame(w, Frame{Type: "complete", SessionID: sessionID}); err != nil {
		slog.Warn("Failed to write SSE complete frame", "session_id", sessionID, "error", err)
		return
	}
	flusher.Flush()
}

// HandleListSessions handles GET /api/sessions.
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	sessions, err := h.repo.ListSessions(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	JSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

// HandleGetSession handles GET /api/sessions/{sessionID}: the full state
// including message history.
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	state, err := h.repo.LoadState(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if state == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	JSON(w, http.StatusOK, state)
}

// HandleDeleteSession handles DELETE /api/sessions/{sessionID}.
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.repo.DeleteSession(r.Context(), sessionID); err != nil {
		slog.Error("Failed to delete session", "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": sessionID})
}

type addKnowledgeRequest struct {
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
}

// HandleAddKnowledge handles POST /api/knowledge: appends an entry to the
// corpus and persists it.
func (h *Handler) HandleAddKnowledge(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req addKnowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.kb.Add(req.Category, req.Keywords, req.Question, req.Answer); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	JSON(w, http.StatusCreated, map[string]any{
		"status":  "added",
		"entries": h.kb.EntryCount(req.Category),
	})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clientKey derives the rate-limit key from the request. chi's RealIP
// middleware has already folded X-Forwarded-For into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeSSEFrame(w io.Writer, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
