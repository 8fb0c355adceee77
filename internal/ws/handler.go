// Package ws provides the WebSocket chat transport: a long-lived connection
// carrying multiple conversation turns for one session.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/devops-qa/internal/api"
	"github.com/ashureev/devops-qa/internal/engine"
)

// inboundMessage is one conversation turn received from the client.
type inboundMessage struct {
	Message            string `json:"message"`
	ProblemType        string `json:"problem_type,omitempty"`
	BuildInstanceID    string `json:"build_instance_id,omitempty"`
	ProblemDescription string `json:"problem_description,omitempty"`
}

// Handler upgrades /ws/chat connections and runs the turn loop.
type Handler struct {
	chat          api.ChatStreamer
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket chat handler.
func NewHandler(chat api.ChatStreamer, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		chat:          chat,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade. The session id is
// taken from the session_id query parameter; when absent a new one is
// generated and announced in every frame so the client can persist it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	slog.Info("WebSocket chat connected", "session_id", sessionID, "ip", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.writeFrame(ctx, conn, api.Frame{Type: "error", Content: "invalid message format", SessionID: sessionID})
			continue
		}

		if !h.runTurn(ctx, conn, sessionID, msg) {
			return
		}
	}
}

// runTurn streams one conversation turn back to the client. Returns false
// when the connection is no longer usable.
func (h *Handler) runTurn(ctx context.Context, conn *websocket.Conn, sessionID string, msg inboundMessage) bool {
	req := engine.Request{
		Message:            msg.Message,
		SessionID:          sessionID,
		ProblemType:        msg.ProblemType,
		BuildInstanceID:    msg.BuildInstanceID,
		ProblemDescription: msg.ProblemDescription,
	}

	_, fragments, err := h.chat.ProcessStream(ctx, req)
	if err != nil {
		return h.writeFrame(ctx, conn, api.Frame{Type: "error", Content: err.Error(), SessionID: sessionID})
	}

	for fragment := range fragments {
		frame := api.Frame{Type: string(fragment.Kind), Content: fragment.Text, SessionID: sessionID}
		if !h.writeFrame(ctx, conn, frame) {
			return false
		}
	}

	return h.writeFrame(ctx, conn, api.Frame{Type: "complete", SessionID: sessionID})
}

func (h *Handler) writeFrame(ctx context.Context, conn *websocket.Conn, frame api.Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket frame", "error", err, "session_id", frame.SessionID)
		return true
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write failed", "error", err, "session_id", frame.SessionID)
		return false
	}
	return true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
