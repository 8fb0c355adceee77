package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/devops-qa/internal/domain"
	"github.com/ashureev/devops-qa/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	stateMu sync.Mutex // serializes state writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT PRIMARY KEY,
		problem_type_hint TEXT,
		build_instance_hint TEXT,
		problem_desc_hint TEXT,
		current_intent TEXT,
		build_log_ref TEXT,
		build_errors TEXT,
		knowledge_results TEXT,
		waiting_for_build_ref INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadState retrieves conversation state for a session.
func (s *SQLiteStore) LoadState(ctx context.Context, sessionID string) (*domain.ConversationState, error) {
	query := `
		SELECT session_id, problem_type_hint, build_instance_hint, problem_desc_hint,
		       current_intent, build_log_ref, build_errors, knowledge_results,
		       waiting_for_build_ref, created_at, updated_at
		FROM conversations WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var state domain.ConversationState
	var problemType, buildInstance, problemDesc sql.NullString
	var intent, buildRef, buildErrors, knowledgeResults sql.NullString
	var waiting int
	var createdAt, updatedAt int64

	err := row.Scan(
		&state.SessionID, &problemType, &buildInstance, &problemDesc,
		&intent, &buildRef, &buildErrors, &knowledgeResults,
		&waiting, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	state.ProblemTypeHint = problemType.String
	state.BuildInstanceHint = buildInstance.String
	state.ProblemDescHint = problemDesc.String
	state.CurrentIntent = domain.Intent(intent.String)
	state.BuildLogRef = buildRef.String
	state.WaitingForBuildRef = waiting != 0
	state.CreatedAt = time.Unix(createdAt, 0)
	state.UpdatedAt = time.Unix(updatedAt, 0)

	if buildErrors.Valid && buildErrors.String != "" {
		if err := json.Unmarshal([]byte(buildErrors.String), &state.BuildErrors); err != nil {
			return nil, fmt.Errorf("decode build_errors: %w", err)
		}
	}
	if knowledgeResults.Valid && knowledgeResults.String != "" {
		if err := json.Unmarshal([]byte(knowledgeResults.String), &state.KnowledgeResults); err != nil {
			return nil, fmt.Errorf("decode knowledge_results: %w", err)
		}
	}

	if err := s.loadMessages(ctx, &state); err != nil {
		return nil, err
	}

	return &state, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, state *domain.ConversationState) error {
	// seq is the append position within the conversation; timestamps only
	// have second granularity and ids are random, so neither can order.
	query := `
		SELECT id, role, content, timestamp
		FROM messages WHERE session_id = ?
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, state.SessionID)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var msg domain.Message
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &ts); err != nil {
			return fmt.Errorf("scan message row: %w", err)
		}
		msg.Timestamp = time.Unix(ts, 0)
		state.Messages = append(state.Messages, msg)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}
	return nil
}

// SaveState creates or updates conversation state and its messages.
func (s *SQLiteStore) SaveState(ctx context.Context, state *domain.ConversationState) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	buildErrors, err := json.Marshal(state.BuildErrors)
	if err != nil {
		return fmt.Errorf("encode build_errors: %w", err)
	}
	knowledgeResults, err := json.Marshal(state.KnowledgeResults)
	if err != nil {
		return fmt.Errorf("encode knowledge_results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back save transaction", "error", rbErr)
		}
	}()

	query := `
		INSERT INTO conversations (
			session_id, problem_type_hint, build_instance_hint, problem_desc_hint,
			current_intent, build_log_ref, build_errors, knowledge_results,
			waiting_for_build_ref, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			problem_type_hint = excluded.problem_type_hint,
			build_instance_hint = excluded.build_instance_hint,
			problem_desc_hint = excluded.problem_desc_hint,
			current_intent = excluded.current_intent,
			build_log_ref = excluded.build_log_ref,
			build_errors = excluded.build_errors,
			knowledge_results = excluded.knowledge_results,
			waiting_for_build_ref = excluded.waiting_for_build_ref,
			updated_at = excluded.updated_at`

	waiting := 0
	if state.WaitingForBuildRef {
		waiting = 1
	}

	if _, err := tx.ExecContext(ctx, query,
		state.SessionID, state.ProblemTypeHint, state.BuildInstanceHint, state.ProblemDescHint,
		string(state.CurrentIntent), state.BuildLogRef, string(buildErrors), string(knowledgeResults),
		waiting, state.CreatedAt.Unix(), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	msgQuery := `
		INSERT INTO messages (id, session_id, seq, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`
	for i, msg := range state.Messages {
		if _, err := tx.ExecContext(ctx, msgQuery,
			msg.ID, state.SessionID, i, string(msg.Role), msg.Content, msg.Timestamp.Unix(),
		); err != nil {
			return fmt.Errorf("upsert message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save transaction: %w", err)
	}
	return nil
}

// ListSessions retrieves session summaries ordered by most-recently-updated.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT c.session_id, c.problem_type_hint, c.problem_desc_hint,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = c.session_id),
		       c.created_at, c.updated_at
		FROM conversations c
		ORDER BY c.updated_at DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var summaries []*domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		var problemType, problemDesc sql.NullString
		var createdAt, updatedAt int64

		if err := rows.Scan(
			&sum.SessionID, &problemType, &problemDesc,
			&sum.MessageCount, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		sum.ProblemTypeHint = problemType.String
		sum.ProblemDescHint = problemDesc.String
		sum.CreatedAt = time.Unix(createdAt, 0)
		sum.UpdatedAt = time.Unix(updatedAt, 0)
		summaries = append(summaries, &sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return summaries, nil
}

// DeleteSession removes all persisted state for a session id.
// Retries with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteSessionOnce(ctx, sessionID)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflict(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("DeleteSession hit SQLITE_BUSY, retrying",
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("delete session %s after %d attempts: %w", sessionID, i+1, err)
	}

	return nil
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, sessionID string) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back delete transaction", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete transaction: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes sessions idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN
			(SELECT session_id FROM conversations WHERE updated_at < ?)`, threshold); err != nil {
		return 0, fmt.Errorf("cleanup expired messages: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired conversations: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
