// Package memory implements the persistence contracts with in-process maps,
// for tests and for running without a configured sqlite path.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kynetic-ai/kynetic-bot/internal/persistence"
)

const defaultMaxPerSession = 1000

// EventStore is an in-memory persistence.SessionEventStore.
type EventStore struct {
	mu     sync.RWMutex
	events map[string][]persistence.SessionEvent // session key -> events
	max    int
}

// NewEventStore creates an empty event store. maxPerSession bounds how many
// events are retained per session key before the oldest are trimmed; <= 0
// uses a sane default.
func NewEventStore(maxPerSession int) *EventStore {
	if maxPerSession <= 0 {
		maxPerSession = defaultMaxPerSession
	}
	return &EventStore{
		events: make(map[string][]persistence.SessionEvent),
		max:    maxPerSession,
	}
}

func (s *EventStore) Append(ctx context.Context, event persistence.SessionEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := append(s.events[event.SessionKey], event)
	if len(events) > s.max {
		events = events[len(events)-s.max:]
	}
	s.events[event.SessionKey] = events
	return nil
}

func (s *EventStore) ListBySessionKey(ctx context.Context, sessionKey string, limit int) ([]persistence.SessionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionKey]
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}

	result := make([]persistence.SessionEvent, len(events))
	copy(result, events)
	return result, nil
}

// ConversationStore is an in-memory persistence.ConversationStore.
type ConversationStore struct {
	mu    sync.RWMutex
	turns map[string][]persistence.Turn // session key -> turns
	max   int
}

// NewConversationStore creates an empty conversation store. maxPerSession
// bounds how many turns are retained per session key; <= 0 uses a sane
// default.
func NewConversationStore(maxPerSession int) *ConversationStore {
	if maxPerSession <= 0 {
		maxPerSession = defaultMaxPerSession
	}
	return &ConversationStore{
		turns: make(map[string][]persistence.Turn),
		max:   maxPerSession,
	}
}

func (s *ConversationStore) AppendTurn(ctx context.Context, turn persistence.Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.turns[turn.SessionKey], turn)
	if len(turns) > s.max {
		turns = turns[len(turns)-s.max:]
	}
	s.turns[turn.SessionKey] = turns
	return nil
}

func (s *ConversationStore) RecentTurns(ctx context.Context, sessionKey string, limit int) ([]persistence.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[sessionKey]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	result := make([]persistence.Turn, len(turns))
	copy(result, turns)
	return result, nil
}
