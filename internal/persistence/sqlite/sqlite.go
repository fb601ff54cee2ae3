// Package sqlite implements the persistence contracts on top of
// github.com/mattn/go-sqlite3 via sqlx, with raw SQL and no ORM.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
	"github.com/kynetic-ai/kynetic-bot/internal/persistence"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	type TEXT NOT NULL,
	detail TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session_key ON session_events(session_key);

CREATE TABLE IF NOT EXISTS conversation_turns (
	id TEXT PRIMARY KEY,
	session_key TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_session_key ON conversation_turns(session_key);
`

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, apperrors.StorageError("failed to open sqlite database", err)
	}
	if err := db.Ping(); err != nil {
		return nil, apperrors.StorageError("failed to connect to sqlite database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, apperrors.StorageError("failed to apply sqlite schema", err)
	}
	return db, nil
}

// EventStore is the sqlite-backed persistence.SessionEventStore.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore wraps an open sqlite connection as a SessionEventStore.
func NewEventStore(db *sqlx.DB) *EventStore { return &EventStore{db: db} }

func (s *EventStore) Append(ctx context.Context, event persistence.SessionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (id, session_key, type, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.SessionKey, event.Type, event.Detail, event.CreatedAt)
	if err != nil {
		return apperrors.StorageError("failed to append session event", err)
	}
	return nil
}

func (s *EventStore) ListBySessionKey(ctx context.Context, sessionKey string, limit int) ([]persistence.SessionEvent, error) {
	query := `
		SELECT id, session_key, type, detail, created_at
		FROM session_events
		WHERE session_key = ?
		ORDER BY created_at ASC
	`
	args := []interface{}{sessionKey}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.StorageError("failed to list session events", err)
	}
	defer rows.Close()

	var events []persistence.SessionEvent
	for rows.Next() {
		var e persistence.SessionEvent
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionKey, &e.Type, &detail, &e.CreatedAt); err != nil {
			return nil, apperrors.StorageError("failed to scan session event", err)
		}
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// ConversationStore is the sqlite-backed persistence.ConversationStore.
type ConversationStore struct {
	db *sqlx.DB
}

// NewConversationStore wraps an open sqlite connection as a ConversationStore.
func NewConversationStore(db *sqlx.DB) *ConversationStore { return &ConversationStore{db: db} }

func (s *ConversationStore) AppendTurn(ctx context.Context, turn persistence.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_turns (id, session_key, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, turn.ID, turn.SessionKey, turn.Role, turn.Content, turn.CreatedAt)
	if err != nil {
		return apperrors.StorageError("failed to append conversation turn", err)
	}
	return nil
}

func (s *ConversationStore) RecentTurns(ctx context.Context, sessionKey string, limit int) ([]persistence.Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, role, content, created_at
		FROM conversation_turns
		WHERE session_key = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, sessionKey, limit)
	if err != nil {
		return nil, apperrors.StorageError("failed to list conversation turns", err)
	}
	defer rows.Close()

	var turns []persistence.Turn
	for rows.Next() {
		var t persistence.Turn
		if err := rows.Scan(&t.ID, &t.SessionKey, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, apperrors.StorageError("failed to scan conversation turn", err)
		}
		turns = append(turns, t)
	}

	// Reverse to chronological order; the query above reads newest-first
	// so LIMIT keeps the most recent turns.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, rows.Err()
}
