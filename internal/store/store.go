// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/devops-qa/internal/domain"
)

// Repository defines the interface for persisting conversation state.
type Repository interface {
	// LoadState retrieves conversation state for a session.
	// Returns (nil, nil) when the session does not exist.
	LoadState(ctx context.Context, sessionID string) (*domain.ConversationState, error)

	// SaveState creates or updates conversation state. The upsert is keyed by
	// session_id; message rows are upserted by message id so re-saving an
	// unchanged message is a no-op.
	SaveState(ctx context.Context, state *domain.ConversationState) error

	// ListSessions retrieves session summaries ordered by most-recently-updated.
	ListSessions(ctx context.Context, limit int) ([]*domain.SessionSummary, error)

	// DeleteSession removes all persisted state for a session id.
	DeleteSession(ctx context.Context, sessionID string) error

	// CleanupExpiredSessions removes sessions idle longer than ttl and
	// returns the number of sessions deleted.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
