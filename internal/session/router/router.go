// Package router derives stable session keys from inbound messages and
// keeps the table mapping a session key to its current ACP session id.
package router

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
)

// PeerKind distinguishes the kind of conversational peer a message came
// from, since a "peer id" is only unique within its kind (a Discord user id
// and a Telegram chat id can collide numerically).
type PeerKind string

const (
	PeerKindUser    PeerKind = "user"
	PeerKindChannel PeerKind = "channel"
	PeerKindGroup   PeerKind = "group"
)

// Key is a deterministic (agent, platform, peerKind, peerId) tuple,
// rendered as a single stable string so it can be used as a map key and a
// persistence row key without any further transformation.
type Key string

// New derives the session key for one inbound message. The same four
// inputs always yield the same key. The parts are joined with ":", so
// different inputs yield different keys as long as no input contains ":".
func New(agentName, platform string, peerKind PeerKind, peerID string) Key {
	return Key(fmt.Sprintf("%s:%s:%s:%s", agentName, platform, peerKind, peerID))
}

// AgentName returns the agent-name component of a key, i.e. everything
// before the first ":".
func (k Key) AgentName() string {
	if idx := strings.IndexByte(string(k), ':'); idx >= 0 {
		return string(k)[:idx]
	}
	return string(k)
}

// ErrUnknownAgent is returned when a message routes to an agent name the
// orchestrator has no configuration for.
var ErrUnknownAgent = apperrors.RoutingError("unknown agent")

// Table is the in-memory registry of known session keys to their current
// ACP session id. It is intentionally dumb: rotation/recovery policy lives
// in internal/session/manager, which owns the per-key mutex discipline.
type Table struct {
	mu   sync.RWMutex
	rows map[Key]string // session key -> ACP session id
}

// NewTable creates an empty session key table.
func NewTable() *Table {
	return &Table{rows: make(map[Key]string)}
}

// Get returns the ACP session id currently bound to key, if any.
func (t *Table) Get(key Key) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.rows[key]
	return id, ok
}

// Set binds key to an ACP session id, overwriting any previous binding
// (used on both first creation and rotation).
func (t *Table) Set(key Key, acpSessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[key] = acpSessionID
}

// Delete removes a key's binding entirely.
func (t *Table) Delete(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, key)
}

// Keys returns a snapshot of every known session key.
func (t *Table) Keys() []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]Key, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	return keys
}

// KnownAgents validates that agentName appears in the configured set. A
// non-empty fallbackCommand accepts any agent name; otherwise an unlisted
// name gets ErrUnknownAgent.
func KnownAgents(configured map[string][]string, fallbackCommand string, agentName string) error {
	if _, ok := configured[agentName]; ok {
		return nil
	}
	if fallbackCommand != "" {
		return nil
	}
	return ErrUnknownAgent
}
