// Package manager owns the rotate/recover policy for ACP sessions: given a
// session key, it returns a live ACP session id, creating, recovering, or
// rotating the underlying agent session as needed. internal/session/router
// only stores the current binding; this package decides when that binding
// changes.
package manager

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kynetic-ai/kynetic-bot/internal/agent/lifecycle"
	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/events/bus"
	"github.com/kynetic-ai/kynetic-bot/internal/persistence"
	"github.com/kynetic-ai/kynetic-bot/internal/session/router"
	"github.com/kynetic-ai/kynetic-bot/pkg/acp/protocol"
)

// Manager resolves a session key to a live ACP session id, serializing all
// work for a given key through a per-key mutex so concurrent messages to the
// same peer never race each other's rotate/recover decisions.
type Manager struct {
	table     *router.Table
	lifecycle *lifecycle.Manager
	events    persistence.SessionEventStore
	recon     persistence.TurnReconstructor
	eventBus  bus.EventBus
	logger    *logger.Logger

	mu    sync.Mutex
	locks map[router.Key]*sync.Mutex
}

// New creates a session manager.
func New(
	table *router.Table,
	lc *lifecycle.Manager,
	events persistence.SessionEventStore,
	recon persistence.TurnReconstructor,
	eb bus.EventBus,
	log *logger.Logger,
) *Manager {
	return &Manager{
		table:     table,
		lifecycle: lc,
		events:    events,
		recon:     recon,
		eventBus:  eb,
		logger:    log.WithFields(zap.String("component", "session-manager")),
		locks:     make(map[router.Key]*sync.Mutex),
	}
}

func (m *Manager) lockFor(key router.Key) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// GetOrCreate resolves key to a live ACP session id for agentName, spawning
// the agent subprocess if it is not already running, creating a session if
// none exists for key, and transparently recovering the binding if the
// agent's process was restarted since the key was last used.
func (m *Manager) GetOrCreate(ctx context.Context, key router.Key, agentName, cwd string) (string, error) {
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	inst, err := m.ensureInstance(ctx, agentName)
	if err != nil {
		return "", err
	}

	if boundID, ok := m.table.Get(key); ok {
		if inst.ACP.SessionID() == boundID {
			return boundID, nil
		}
		// The instance's live ACP session differs from what key is bound
		// to, which means the subprocess restarted underneath this key
		// (or this is the first use against a freshly spawned instance
		// that already holds someone else's session). Try to recover by
		// loading the previously bound id on the current instance before
		// falling back to a full rotation.
		if err := inst.ACP.LoadSession(ctx, boundID); err == nil {
			m.recordEvent(ctx, key, "recovered", "")
			m.publish(bus.SubjectSessionRecovered, key, agentName, "")
			return boundID, nil
		}
		return m.rotateLocked(ctx, key, inst, cwd, "recovery failed: agent did not accept prior session id")
	}

	return m.rotateLocked(ctx, key, inst, cwd, "no prior session")
}

// Rotate forces key onto a brand-new ACP session, replaying recent
// conversation history into the new session's prompt-injection preamble.
// Callers use this when a context-usage report crosses the rotation
// threshold or the bound session errors out irrecoverably.
func (m *Manager) Rotate(ctx context.Context, key router.Key, agentName, cwd, reason string) (string, error) {
	lock := m.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	inst, err := m.ensureInstance(ctx, agentName)
	if err != nil {
		return "", err
	}

	return m.rotateLocked(ctx, key, inst, cwd, reason)
}

func (m *Manager) rotateLocked(ctx context.Context, key router.Key, inst *lifecycle.Instance, cwd, reason string) (string, error) {
	sessionID, err := inst.ACP.NewSession(ctx, cwd)
	if err != nil {
		return "", apperrors.RoutingError(fmt.Sprintf("failed to create session for %q: %v", key, err))
	}

	m.table.Set(key, sessionID)
	m.recordEvent(ctx, key, "rotated", reason)
	m.publish(bus.SubjectSessionRotated, key, inst.AgentName, reason)

	if m.recon != nil {
		preamble, err := m.recon.Reconstruct(ctx, string(key))
		if err != nil {
			m.logger.Warn("failed to reconstruct prior turns for rotated session",
				zap.String("session_key", string(key)), zap.Error(err))
		} else if preamble != "" {
			blocks := []protocol.ContentBlock{protocol.TextBlock(preamble)}
			if _, err := inst.ACP.Prompt(ctx, sessionID, blocks, "system"); err != nil {
				m.logger.Warn("failed to replay context-restoration preamble",
					zap.String("session_key", string(key)), zap.Error(err))
			}
		}
	}

	return sessionID, nil
}

func (m *Manager) ensureInstance(ctx context.Context, agentName string) (*lifecycle.Instance, error) {
	if inst, ok := m.lifecycle.GetInstance(agentName); ok {
		return inst, nil
	}
	return m.lifecycle.Spawn(ctx, agentName)
}

func (m *Manager) recordEvent(ctx context.Context, key router.Key, eventType, detail string) {
	if m.events == nil {
		return
	}
	if err := m.events.Append(ctx, persistence.SessionEvent{
		SessionKey: string(key),
		Type:       eventType,
		Detail:     detail,
	}); err != nil {
		m.logger.Error("failed to record session event", zap.Error(err))
	}
}

func (m *Manager) publish(subject string, key router.Key, agentName, detail string) {
	if m.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"session_key": string(key),
		"agent_name":  agentName,
	}
	if detail != "" {
		data["detail"] = detail
	}
	event := bus.NewEvent(subject, "session-manager", data)
	if err := m.eventBus.Publish(context.Background(), subject, event); err != nil {
		m.logger.Error("failed to publish session event", zap.String("subject", subject), zap.Error(err))
	}
}
