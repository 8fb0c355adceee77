package domain

import (
	"strings"
	"time"
)

// Intent categorizes what kind of problem a user is asking about.
type Intent string

const (
	// IntentBuild covers CI/CD build failures and build log questions.
	IntentBuild Intent = "build"
	// IntentGeneral covers everything else.
	IntentGeneral Intent = "general"
)

// KnowledgeMatch is one ranked hit from the knowledge corpus.
type KnowledgeMatch struct {
	Category       string `json:"category"`
	Question       string `json:"question"`
	Answer         string `json:"answer"`
	MatchedKeyword string `json:"matched_keyword"`
}

// ConversationState is the unit of persistence and the sole mutable object
// passed through the workflow graph. SessionID never changes after creation;
// Messages is append-only across the conversation's lifetime.
type ConversationState struct {
	SessionID          string           `json:"session_id"`
	Messages           []Message        `json:"messages"`
	CurrentIntent      Intent           `json:"current_intent,omitempty"`
	BuildLogRef        string           `json:"build_log_ref,omitempty"`
	BuildErrors        []string         `json:"build_errors,omitempty"`
	KnowledgeResults   []KnowledgeMatch `json:"knowledge_results,omitempty"`
	WaitingForBuildRef bool             `json:"waiting_for_build_ref"`
	ProblemTypeHint    string           `json:"problem_type_hint,omitempty"`
	BuildInstanceHint  string           `json:"build_instance_hint,omitempty"`
	ProblemDescHint    string           `json:"problem_desc_hint,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// NewConversationState creates a fresh state for a session id.
func NewConversationState(sessionID string) *ConversationState {
	now := time.Now()
	return &ConversationState{
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddMessage appends a message and returns it.
func (s *ConversationState) AddMessage(role MessageRole, content string) Message {
	msg := NewMessage(role, content)
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = msg.Timestamp
	return msg
}

// LatestUserMessage returns the content of the most recent user message,
// or an empty string when none exists.
func (s *ConversationState) LatestUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// RecentContext renders the last n messages as "role: content" lines for
// prompt assembly. Storage is never truncated, only this view is.
func (s *ConversationState) RecentContext(n int) string {
	msgs := s.Messages
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, string(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// SessionSummary is a listing row for a persisted session.
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	ProblemTypeHint string    `json:"problem_type_hint,omitempty"`
	ProblemDescHint string    `json:"problem_desc_hint,omitempty"`
	MessageCount    int       `json:"message_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
