package engine

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"

	"github.com/ashureev/devops-qa/internal/domain"
	"github.com/ashureev/devops-qa/internal/stream"
	"github.com/google/uuid"
)

// ErrEmptyMessage rejects requests with no message text before the graph runs.
var ErrEmptyMessage = errors.New("message is required")

// Request is one inbound conversation turn.
type Request struct {
	Message            string `json:"message"`
	SessionID          string `json:"session_id,omitempty"`
	ProblemType        string `json:"problem_type,omitempty"`
	BuildInstanceID    string `json:"build_instance_id,omitempty"`
	ProblemDescription string `json:"problem_description,omitempty"`
}

// ProcessStream handles one turn and returns the session id plus a lazy
// fragment sequence: progress notices while stages run, then the final
// answer in paced chunks. The per-session gate is held only while the
// sequence is being consumed; abandoning the sequence releases it.
func (e *Engine) ProcessStream(ctx context.Context, req Request) (string, iter.Seq[stream.Fragment], error) {
	if strings.TrimSpace(req.Message) == "" {
		return "", nil, ErrEmptyMessage
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	fragments := func(yield func(stream.Fragment) bool) {
		release, ok := e.gate.acquire(ctx, sessionID)
		if !ok {
			return
		}
		defer release()

		state := e.prepare(ctx, sessionID, req)
		baseline := len(state.Messages)

		answer := func() string { return answerSince(state, baseline) }
		for fragment := range e.streamer.Stream(ctx, stageNames(e.Run(ctx, state)), answer) {
			if !yield(fragment) {
				return
			}
		}
	}

	return sessionID, fragments, nil
}

// ProcessMessage handles one turn to completion without streaming and
// returns the final state.
func (e *Engine) ProcessMessage(ctx context.Context, req Request) (*domain.ConversationState, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	release, ok := e.gate.acquire(ctx, sessionID)
	if !ok {
		return nil, ctx.Err()
	}
	defer release()

	state := e.prepare(ctx, sessionID, req)
	for range e.Run(ctx, state) {
		// Drain: stage effects are applied to state as the sequence advances.
	}
	return state, nil
}

// prepare loads or creates the session state, applies caller hints, and
// appends the user message. A load failure degrades to a fresh state so a
// corrupt record cannot take the session down.
func (e *Engine) prepare(ctx context.Context, sessionID string, req Request) *domain.ConversationState {
	state, err := e.repo.LoadState(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load session state, starting fresh", "session_id", sessionID, "error", err)
		state = nil
	}
	if state == nil {
		state = domain.NewConversationState(sessionID)
	}

	if req.ProblemType != "" {
		state.ProblemTypeHint = req.ProblemType
	}
	if req.BuildInstanceID != "" {
		state.BuildInstanceHint = req.BuildInstanceID
	}
	if req.ProblemDescription != "" {
		state.ProblemDescHint = req.ProblemDescription
	}

	state.AddMessage(domain.RoleUser, req.Message)
	return state
}

// answerSince returns the content of the last assistant message appended at
// or after the baseline index, or an empty string when the run produced none.
func answerSince(state *domain.ConversationState, baseline int) string {
	for i := len(state.Messages) - 1; i >= baseline; i-- {
		if state.Messages[i].Role == domain.RoleAssistant {
			return state.Messages[i].Content
		}
	}
	return ""
}

// stageNames adapts the execution sequence to the stage-name sequence the
// streamer consumes.
func stageNames(events iter.Seq[StageResult]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for event := range events {
			if !yield(string(event.Stage)) {
				return
			}
		}
	}
}
