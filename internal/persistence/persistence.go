// Package persistence defines the storage contracts the orchestrator
// depends on, with sqlite and in-memory implementations in the sqlite and
// memory subpackages.
package persistence

import (
	"context"
	"time"
)

// SessionEvent is one durable record of something that happened on a
// session: a rotation, a recovery, an error, a restart request.
type SessionEvent struct {
	ID        string
	SessionKey string
	Type      string
	Detail    string
	CreatedAt time.Time
}

// SessionEventStore persists session lifecycle events.
type SessionEventStore interface {
	Append(ctx context.Context, event SessionEvent) error
	ListBySessionKey(ctx context.Context, sessionKey string, limit int) ([]SessionEvent, error)
}

// Turn is one side of an exchange in a conversation: a user message or an
// agent reply, as Role says.
type Turn struct {
	ID         string
	SessionKey string
	Role       string // "user" or "agent"
	Content    string
	CreatedAt  time.Time
}

// ConversationStore persists conversation turns so they can be replayed
// into a freshly rotated or recovered ACP session.
type ConversationStore interface {
	AppendTurn(ctx context.Context, turn Turn) error
	RecentTurns(ctx context.Context, sessionKey string, limit int) ([]Turn, error)
}

// TurnReconstructor rebuilds the context-restoration preamble (prior
// conversation turns) a freshly (re)created ACP session needs before the
// first live user message is forwarded. Wake context and identity are not
// part of it.
type TurnReconstructor interface {
	Reconstruct(ctx context.Context, sessionKey string) (string, error)
}
