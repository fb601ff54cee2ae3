// Package bus provides event bus abstractions used in place of an
// event-emitter base class: components publish typed lifecycle events
// instead of inheriting from a common emitter.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event represents a message on the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the transport-agnostic publish/subscribe contract shared by
// the agent lifecycle manager, the ACP client, and the orchestrator.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)
	Close()
	IsConnected() bool
}

// Lifecycle event subject names, published by internal/agent/lifecycle,
// internal/session/manager, and internal/orchestrator.
const (
	SubjectAgentSpawned      = "agent.spawned"
	SubjectAgentHealth       = "agent.health"
	SubjectAgentEscalated    = "agent.escalated"
	SubjectAgentTerminated   = "agent.terminated"
	SubjectAgentContextUsage = "agent.context_usage"
	SubjectSessionRotated    = "session.rotated"
	SubjectSessionRecovered  = "session.recovered"
	SubjectMessageProcessed  = "message.processed"
	SubjectMessageError      = "message.error"
)
