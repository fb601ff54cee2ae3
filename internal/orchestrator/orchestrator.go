// Package orchestrator implements the main message-handling pipeline: bind
// a platform message to a conversation, resolve or create an agent session,
// prompt the agent, and stream the reply back, injecting identity and
// wake-context prompts as needed.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kynetic-ai/kynetic-bot/internal/agent/lifecycle"
	"github.com/kynetic-ai/kynetic-bot/internal/channel"
	"github.com/kynetic-ai/kynetic-bot/internal/checkpoint"
	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/events/bus"
	"github.com/kynetic-ai/kynetic-bot/internal/persistence"
	"github.com/kynetic-ai/kynetic-bot/internal/session/manager"
	"github.com/kynetic-ai/kynetic-bot/internal/session/router"
	"github.com/kynetic-ai/kynetic-bot/internal/streaming"
	"github.com/kynetic-ai/kynetic-bot/pkg/acp/protocol"
)

// State is the orchestrator's own coarse lifecycle state, independent of
// any one agent instance's state.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// defaultAgentReadyTimeout bounds how long handleMessage waits for an
// idle/failed agent to become ready before giving up on this message.
const defaultAgentReadyTimeout = 30 * time.Second

// defaultContextRotationThreshold is used when Config.ContextRotationThreshold
// is left at its zero value, so an orchestrator built without going through
// config validation never rotates on every context-usage report.
const defaultContextRotationThreshold = 0.70

// Channels groups every registered platform adapter by name.
type Channels map[string]channel.Channel

// Orchestrator wires the quartet (lifecycle, router, session manager,
// streaming) to one or more channels.
type Orchestrator struct {
	channels  Channels
	lifecycle *lifecycle.Manager
	sessions  *manager.Manager
	table     *router.Table
	events    persistence.SessionEventStore
	convos    persistence.ConversationStore
	eventBus  bus.EventBus
	logger    *logger.Logger

	identityPrompt    string
	checkpointPath    string
	agentWorkDir      string
	defaultAgent      string
	rotationThreshold float64

	mu         sync.Mutex
	state      State
	checkpoint *checkpoint.Checkpoint
	inFlight   atomic.Int64
	shutdownCh chan struct{}
	contextSub bus.Subscription
}

// Config carries everything Orchestrator needs beyond its collaborators.
type Config struct {
	IdentityPrompt string
	CheckpointPath string
	AgentWorkDir   string
	DefaultAgent   string

	// ContextRotationThreshold is the fraction (0, 1] of an agent's context
	// window usage at which the orchestrator forces every session key bound
	// to that agent onto a fresh ACP session. Defaults to 0.70 if left zero.
	ContextRotationThreshold float64
}

// New creates an orchestrator in StateIdle.
func New(
	channels Channels,
	lc *lifecycle.Manager,
	sessions *manager.Manager,
	table *router.Table,
	events persistence.SessionEventStore,
	convos persistence.ConversationStore,
	eb bus.EventBus,
	log *logger.Logger,
	cfg Config,
) *Orchestrator {
	threshold := cfg.ContextRotationThreshold
	if threshold <= 0 {
		threshold = defaultContextRotationThreshold
	}

	return &Orchestrator{
		channels:          channels,
		lifecycle:         lc,
		sessions:          sessions,
		table:             table,
		events:            events,
		convos:            convos,
		eventBus:          eb,
		logger:            log.WithFields(zap.String("component", "orchestrator")),
		identityPrompt:    cfg.IdentityPrompt,
		checkpointPath:    cfg.CheckpointPath,
		agentWorkDir:      cfg.AgentWorkDir,
		defaultAgent:      cfg.DefaultAgent,
		rotationThreshold: threshold,
		state:             StateIdle,
		shutdownCh:        make(chan struct{}),
	}
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start loads the checkpoint (if any), spawns the default agent, waits for
// it to become healthy, registers every channel's inbound handler, and
// transitions to StateRunning.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return apperrors.New(apperrors.CodeBadRequest, "orchestrator already started")
	}
	o.state = StateStarting
	o.mu.Unlock()

	if cp, ok := checkpoint.Load(o.checkpointPath, o.logger); ok {
		o.mu.Lock()
		o.checkpoint = cp
		o.mu.Unlock()
	}

	if o.defaultAgent != "" {
		spawnCtx, cancel := context.WithTimeout(ctx, defaultAgentReadyTimeout)
		_, err := o.lifecycle.Spawn(spawnCtx, o.defaultAgent)
		cancel()
		if err != nil {
			o.mu.Lock()
			o.state = StateIdle
			o.mu.Unlock()
			return apperrors.SpawnError(fmt.Errorf("failed to spawn default agent %q: %w", o.defaultAgent, err))
		}
	}

	for name, ch := range o.channels {
		if err := ch.Start(ctx, o.handleInbound); err != nil {
			return apperrors.Wrap(apperrors.CodeSpawnError, fmt.Sprintf("failed to start channel %q", name), err)
		}
	}

	if o.eventBus != nil {
		sub, err := o.eventBus.Subscribe(bus.SubjectAgentContextUsage, o.handleContextUsage)
		if err != nil {
			o.logger.Warn("failed to subscribe to context usage events", zap.Error(err))
		} else {
			o.contextSub = sub
		}
	}

	o.mu.Lock()
	o.state = StateRunning
	o.mu.Unlock()

	o.logger.Info("orchestrator running")
	return nil
}

// Stop transitions to StateStopping, stops every channel (no further
// inbound messages), waits up to shutdownTimeout for in-flight messages to
// drain, stops the agent, and transitions to StateStopped.
func (o *Orchestrator) Stop(ctx context.Context, shutdownTimeout time.Duration) error {
	o.mu.Lock()
	o.state = StateStopping
	o.mu.Unlock()
	close(o.shutdownCh)

	if o.contextSub != nil {
		_ = o.contextSub.Unsubscribe()
	}

	for name, ch := range o.channels {
		if err := ch.Stop(); err != nil {
			o.logger.Warn("failed to stop channel cleanly", zap.String("channel", name), zap.Error(err))
		}
	}

	deadline := time.After(shutdownTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
drain:
	for {
		if o.inFlight.Load() == 0 {
			break
		}
		select {
		case <-deadline:
			o.logger.Warn("shutdown timeout exceeded with messages still in flight",
				zap.Int64("in_flight", o.inFlight.Load()))
			break drain
		case <-ticker.C:
		}
	}

	o.lifecycle.Shutdown(ctx)

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) handleInbound(ctx context.Context, msg channel.InboundMessage) {
	if o.State() != StateRunning {
		return
	}
	o.handleMessage(ctx, msg)
}

// handleMessage implements the per-message pipeline. Session-resolution and
// prompt errors are logged and published as message.error; a platform with
// no registered channel is only logged, and persistence errors are ignored.
// Nothing propagates to the caller since the channel's inbound goroutine
// must keep running.
func (o *Orchestrator) handleMessage(ctx context.Context, msg channel.InboundMessage) {
	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	agentName := o.defaultAgent
	key := router.New(agentName, msg.Platform, msg.PeerKind, msg.PeerID)

	ch, ok := o.channels[msg.Platform]
	if !ok {
		o.logger.Error("no channel registered for platform", zap.String("platform", msg.Platform))
		return
	}

	stopTyping, err := ch.StartTypingLoop(ctx, msg.PeerKind, msg.PeerID)
	if err != nil {
		o.logger.Debug("failed to start typing indicator", zap.Error(err))
	}
	if stopTyping != nil {
		defer stopTyping()
	}

	// GetOrCreate rebinds key itself, so the prior binding is read first.
	prevSessionID, hadBinding := o.table.Get(key)

	readyCtx, cancel := context.WithTimeout(ctx, defaultAgentReadyTimeout)
	sessionID, err := o.sessions.GetOrCreate(readyCtx, key, agentName, o.agentWorkDir)
	cancel()
	if err != nil {
		o.logger.Error("failed to resolve session", zap.String("session_key", string(key)), zap.Error(err))
		o.publish(bus.SubjectMessageError, key, err.Error())
		return
	}

	inst, ok := o.lifecycle.GetInstance(agentName)
	if !ok {
		o.logger.Error("agent instance vanished after session resolution", zap.String("agent_name", agentName))
		o.publish(bus.SubjectMessageError, key, "agent instance unavailable")
		return
	}

	isNew := !hadBinding || prevSessionID != sessionID
	o.injectPreamble(ctx, inst, key, sessionID, isNew)

	coalescer, finalContent := o.newCoalescer(ch, msg)
	coalescer.Start()
	defer coalescer.Stop()

	unsubscribe := o.subscribeUpdates(inst, string(key), coalescer)
	defer unsubscribe()

	if o.events != nil {
		_ = o.events.Append(ctx, persistence.SessionEvent{SessionKey: string(key), Type: "prompt.sent"})
	}

	start := time.Now()
	stopReason, err := inst.ACP.Prompt(ctx, sessionID, []protocol.ContentBlock{protocol.TextBlock(msg.Text)}, "user")
	coalescer.Finalize(string(key))

	if err != nil {
		o.logger.Error("prompt failed", zap.String("session_key", string(key)), zap.Error(err))
		o.publish(bus.SubjectMessageError, key, err.Error())
		return
	}

	if o.convos != nil {
		_ = o.convos.AppendTurn(ctx, persistence.Turn{SessionKey: string(key), Role: "user", Content: msg.Text})
		if reply := finalContent(); reply != "" {
			_ = o.convos.AppendTurn(ctx, persistence.Turn{SessionKey: string(key), Role: "agent", Content: reply})
		}
	}

	o.logger.Debug("turn complete",
		zap.String("session_key", string(key)),
		zap.String("stop_reason", stopReason),
		zap.Duration("elapsed", time.Since(start)))

	o.publish(bus.SubjectMessageProcessed, key, stopReason)
}

// wasFreshlyCreated reports whether sessionID differs from key's current
// binding in the table, or key has no binding at all. It only tells a fresh
// session apart while the table still holds the binding from before
// GetOrCreate; handleMessage makes the same comparison against the binding
// it reads before calling GetOrCreate.
func (o *Orchestrator) wasFreshlyCreated(key router.Key, sessionID string) bool {
	bound, ok := o.table.Get(key)
	return !ok || bound != sessionID
}

// injectPreamble sends the identity and/or wake-context system prompts a
// freshly created session needs before the live user message, in strict
// order: wake context first (so the agent reads situational facts before
// its role declaration), then identity.
func (o *Orchestrator) injectPreamble(ctx context.Context, inst *lifecycle.Instance, key router.Key, sessionID string, isNew bool) {
	if !isNew {
		return
	}

	o.mu.Lock()
	cp := o.checkpoint
	o.mu.Unlock()

	if cp != nil {
		wakePrompt := cp.WakeContext.Prompt
		if cp.WakeContext.PendingWork != "" {
			wakePrompt = wakePrompt + "\n\nPending work: " + cp.WakeContext.PendingWork
		}

		if _, err := inst.ACP.Prompt(ctx, sessionID, []protocol.ContentBlock{protocol.TextBlock(wakePrompt)}, "system"); err != nil {
			o.logger.Warn("failed to inject wake prompt, checkpoint still consumed",
				zap.String("session_key", string(key)), zap.Error(err))
		}

		checkpoint.Consume(o.checkpointPath, o.logger)
		o.mu.Lock()
		o.checkpoint = nil
		o.mu.Unlock()
	}

	if o.identityPrompt != "" {
		if _, err := inst.ACP.Prompt(ctx, sessionID, []protocol.ContentBlock{protocol.TextBlock(o.identityPrompt)}, "system"); err != nil {
			o.logger.Warn("failed to inject identity prompt", zap.String("session_key", string(key)), zap.Error(err))
		}
	}
}

// newCoalescer picks StreamCoalescer for platforms that support editable
// streaming, BufferedCoalescer otherwise, and wires its flushes onto ch.
// Every flush re-splits the accumulated content with a fresh SplitTracker
// (content is always the full text so far, so a fresh tracker reproduces the
// same segment boundaries on every call), editing the most recent segment in
// place and sending a new message for each segment that newly appears. The
// returned func reports the final flushed content once Finalize has run, for
// the caller to persist as the assistant's turn.
func (o *Orchestrator) newCoalescer(ch channel.Channel, msg channel.InboundMessage) (streaming.Coalescer, func() string) {
	var messageIDs []string
	var finalContent string
	var mu sync.Mutex

	flush := func(f streaming.Flush) {
		mu.Lock()
		defer mu.Unlock()

		if f.Final {
			finalContent = f.Content
		}

		ctx := context.Background()
		segments := streaming.NewSplitTracker().Split(f.Content)

		start := len(messageIDs) - 1
		if start < 0 {
			start = 0
		}
		for i := start; i < len(segments); i++ {
			seg := segments[i]
			if i < len(messageIDs) {
				if err := ch.EditMessage(ctx, msg.PeerKind, msg.PeerID, messageIDs[i], seg.Text); err != nil {
					o.logger.Error("failed to edit message segment", zap.Int("segment", i), zap.Error(err))
				}
				continue
			}

			id, err := ch.SendMessage(ctx, msg.PeerKind, msg.PeerID, seg.Text)
			if err != nil {
				o.logger.Error("failed to send message segment", zap.Int("segment", i), zap.Error(err))
				return
			}
			messageIDs = append(messageIDs, id)
		}
	}

	var coalescer streaming.Coalescer
	if supportsStreaming(ch.Name()) {
		coalescer = streaming.NewStreamCoalescer(0, 0, flush)
	} else {
		coalescer = streaming.NewBufferedCoalescer(flush)
	}

	getFinalContent := func() string {
		mu.Lock()
		defer mu.Unlock()
		return finalContent
	}

	return coalescer, getFinalContent
}

func supportsStreaming(platform string) bool {
	return platform == "discord"
}

// subscribeUpdates installs a handler that feeds the agent's
// agent_message_chunk updates into coalescer. The handler stays installed
// until the next SetUpdateHandler call replaces it; the returned func does
// nothing.
func (o *Orchestrator) subscribeUpdates(inst *lifecycle.Instance, sessionKey string, coalescer streaming.Coalescer) func() {
	handler := func(instanceID string, update protocol.SessionUpdateEnvelope) {
		if update.SessionUpdate != protocol.UpdateAgentMessageChunk {
			return
		}
		if update.Content == nil || update.Content.Text == "" {
			return // block boundary; not fed to the coalescer as content
		}
		coalescer.Append(sessionKey, update.Content.Text)
	}

	inst.ACP.SetUpdateHandler(handler)
	return func() {}
}

// handleContextUsage reacts to an agent.context_usage report by rotating
// every session key bound to the reporting agent once usage crosses
// rotationThreshold, replaying recent conversation history into the fresh
// session via session/manager's reconstructor.
func (o *Orchestrator) handleContextUsage(ctx context.Context, event *bus.Event) error {
	agentName, _ := event.Data["agent_name"].(string)
	if agentName == "" {
		return nil
	}

	usedPercent, ok := numericValue(event.Data["used_percent"])
	if !ok {
		return nil
	}
	if usedPercent < o.rotationThreshold*100 {
		return nil
	}

	reason := fmt.Sprintf("context usage at %.0f%% crossed rotation threshold %.0f%%", usedPercent, o.rotationThreshold*100)
	for _, key := range o.table.Keys() {
		if key.AgentName() != agentName {
			continue
		}
		if _, err := o.sessions.Rotate(ctx, key, agentName, o.agentWorkDir, reason); err != nil {
			o.logger.Error("failed to rotate session on context usage threshold",
				zap.String("session_key", string(key)), zap.Error(err))
		}
	}
	return nil
}

// numericValue extracts a float64 from an event payload value regardless of
// whether it arrived as an in-process int (same-process bus) or a
// json.Unmarshal'd float64 (NATS transport).
func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (o *Orchestrator) publish(subject string, key router.Key, detail string) {
	if o.eventBus == nil {
		return
	}
	event := bus.NewEvent(subject, "orchestrator", map[string]interface{}{
		"session_key": string(key),
		"detail":      detail,
	})
	if err := o.eventBus.Publish(context.Background(), subject, event); err != nil {
		o.logger.Error("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}

// RequestRestart writes a checkpoint for the given session and signals an
// external supervisor via restartSignal, then stops the orchestrator.
// Available only when restartSignal is non-nil, i.e. the bot was launched
// under supervision.
func (o *Orchestrator) RequestRestart(ctx context.Context, reason, wakePrompt, pendingWork string, sessionID string, restartSignal func() error) error {
	if restartSignal == nil {
		return apperrors.New(apperrors.CodeBadRequest, "restart requested but no supervisor is configured")
	}

	cp := checkpoint.Checkpoint{
		SessionID:     sessionID,
		RestartReason: reason,
		WakeContext:   checkpoint.WakeContext{Prompt: wakePrompt, PendingWork: pendingWork},
	}
	if err := checkpoint.Write(o.checkpointPath, cp, o.logger); err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to write restart checkpoint", err)
	}

	if err := restartSignal(); err != nil {
		checkpoint.Consume(o.checkpointPath, o.logger)
		return apperrors.Wrap(apperrors.CodeInternalError, "failed to signal supervisor", err)
	}

	return o.Stop(ctx, 10*time.Second)
}
