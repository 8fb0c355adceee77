// Package domain defines the core conversation types shared across the service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies who authored a message.
type MessageRole string

const (
	// RoleUser marks messages sent by the end user.
	RoleUser MessageRole = "user"
	// RoleAssistant marks messages produced by the agent.
	RoleAssistant MessageRole = "assistant"
	// RoleSystem marks internally generated messages.
	RoleSystem MessageRole = "system"
)

// Message is a single conversation entry. Immutable once created;
// ordering within a conversation is insertion order.
type Message struct {
	ID        string      `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(role MessageRole, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}
