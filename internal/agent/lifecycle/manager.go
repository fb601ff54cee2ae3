// Package lifecycle manages agent subprocess lifecycles: spawning,
// health-checking, escalation, and termination.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	acpclient "github.com/kynetic-ai/kynetic-bot/internal/acp/client"
	"github.com/kynetic-ai/kynetic-bot/internal/agent/terminal"
	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
	"github.com/kynetic-ai/kynetic-bot/internal/common/config"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/events/bus"
	"github.com/kynetic-ai/kynetic-bot/internal/session/contextusage"
)

// Status is the coarse lifecycle state of one agent instance.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusSpawning    Status = "spawning"
	StatusHealthy     Status = "healthy"
	StatusUnhealthy   Status = "unhealthy"
	StatusStopping    Status = "stopping"
	StatusTerminating Status = "terminating"
	StatusFailed      Status = "failed"
)

// Instance is a single running (or recently run) agent subprocess.
type Instance struct {
	ID        string
	AgentName string
	Cmd       *exec.Cmd
	ACP       *acpclient.Client

	terminal *terminal.Manager

	mu                  sync.RWMutex
	status              Status
	startedAt           time.Time
	consecutiveFailures int
	lastHealthCheck     time.Time
	restartBackoff      time.Duration
	errorMessage        string

	stopHealthLoop context.CancelFunc
}

func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	i.status = s
	i.mu.Unlock()
}

// Manager spawns, health-checks, and tears down agent subprocesses.
type Manager struct {
	cfg      config.AgentConfig
	eventBus bus.EventBus
	logger   *logger.Logger

	mu        sync.RWMutex
	instances map[string]*Instance // by agent name, one live instance per agent

	queue *SpawnQueue

	usageParser contextusage.Parser

	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewManager creates a subprocess lifecycle manager. Stderr lines from every
// spawned agent are parsed with contextusage.ClaudeStyleParser; callers whose
// agents never report usage that way can swap it for contextusage.NoopParser
// via SetUsageParser.
func NewManager(cfg config.AgentConfig, eb bus.EventBus, log *logger.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		eventBus:    eb,
		logger:      log.WithFields(zap.String("component", "lifecycle-manager")),
		instances:   make(map[string]*Instance),
		queue:       NewSpawnQueue(0),
		usageParser: contextusage.ClaudeStyleParser{},
		shutdown:    make(chan struct{}),
	}
}

// SetUsageParser overrides how stderr lines are recognized as context-window
// usage reports.
func (m *Manager) SetUsageParser(p contextusage.Parser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usageParser = p
}

// GetInstance returns the live instance for an agent name, if any.
func (m *Manager) GetInstance(agentName string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[agentName]
	return inst, ok
}

// Spawn starts a new subprocess for agentName, waits for it to pass the
// ACP initialize handshake, and registers it as the live instance. While a
// spawn of agentName is in progress it holds that name in the spawn queue, so
// a concurrent Spawn of the same agent fails with a SpawnError at once; it is
// not queued behind the running spawn.
func (m *Manager) Spawn(ctx context.Context, agentName string) (*Instance, error) {
	if err := m.queue.Enqueue(agentName); err != nil {
		if err == ErrSpawnExists {
			return nil, apperrors.SpawnError(fmt.Errorf("spawn already in progress for %q", agentName))
		}
		return nil, apperrors.SpawnError(err)
	}
	defer m.queue.Remove(agentName)

	command, args, err := m.resolveCommand(agentName)
	if err != nil {
		return nil, apperrors.SpawnError(err)
	}

	spawnCtx, cancel := context.WithTimeout(ctx, m.cfg.SpawnTimeout())
	defer cancel()

	instanceID := uuid.New().String()
	m.logger.Info("spawning agent", zap.String("agent_name", agentName), zap.String("instance_id", instanceID))

	cmd := exec.CommandContext(context.Background(), command, args...)
	cmd.Dir = m.cfg.WorkDir
	cmd.Env = m.buildEnv(agentName, instanceID)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, apperrors.SpawnError(fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.SpawnError(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperrors.SpawnError(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, apperrors.SpawnError(err)
	}

	inst := &Instance{
		ID:        instanceID,
		AgentName: agentName,
		Cmd:       cmd,
		status:    StatusSpawning,
		startedAt: time.Now(),
	}

	acp := acpclient.New(instanceID, stdin, stdout, m.eventBus, m.logger)
	inst.ACP = acp
	m.registerHandlers(inst)
	acp.Start(spawnCtx)

	go m.drainStderr(agentName, instanceID, stderr)

	if err := acp.Initialize(spawnCtx); err != nil {
		inst.setStatus(StatusFailed)
		_ = killProcess(cmd)
		return nil, apperrors.SpawnError(fmt.Errorf("acp initialize: %w", err))
	}

	inst.setStatus(StatusHealthy)

	m.mu.Lock()
	m.instances[agentName] = inst
	m.mu.Unlock()

	healthCtx, healthCancel := context.WithCancel(context.Background())
	inst.stopHealthLoop = healthCancel
	m.wg.Add(1)
	go m.healthLoop(healthCtx, inst)

	m.publishEvent(bus.SubjectAgentSpawned, agentName, instanceID, "")

	return inst, nil
}

// resolveCommand looks up the executable+args for agentName, falling back
// to the single global Agent.Command when no per-agent override is configured.
func (m *Manager) resolveCommand(agentName string) (string, []string, error) {
	if cmd, ok := m.cfg.AgentCommands[agentName]; ok && len(cmd) > 0 {
		return cmd[0], cmd[1:], nil
	}
	if m.cfg.Command != "" {
		return m.cfg.Command, nil, nil
	}
	return "", nil, fmt.Errorf("no command configured for agent %q", agentName)
}

// buildEnv merges, in increasing precedence, the inherited process
// environment, any user-supplied vars configured for this agent
// (cfg.AgentEnv[agentName]), and finally the orchestrator-reserved names,
// which always win over any inherited or configured value of the same name.
func (m *Manager) buildEnv(agentName, instanceID string) []string {
	merged := make(map[string]string)

	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			merged[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range m.cfg.AgentEnv[agentName] {
		merged[k] = v
	}
	merged["KYNETIC_AGENT"] = "true"
	merged["KYNETIC_AGENT_NAME"] = agentName
	merged["KYNETIC_SESSION_ID"] = instanceID

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

func (m *Manager) drainStderr(agentName, instanceID string, stderr io.Reader) {
	buf := make([]byte, 4096)
	var carry strings.Builder
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			carry.Write(buf[:n])
			for {
				s := carry.String()
				idx := strings.IndexByte(s, '\n')
				if idx < 0 {
					break
				}
				line := s[:idx]
				carry.Reset()
				carry.WriteString(s[idx+1:])
				if line != "" {
					m.logger.Debug("agent stderr",
						zap.String("agent_name", agentName),
						zap.String("instance_id", instanceID),
						zap.String("line", line))
					m.reportContextUsage(agentName, instanceID, line)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// reportContextUsage parses one stderr line and, if it carries a context
// usage report, publishes it so a session manager can decide to rotate.
func (m *Manager) reportContextUsage(agentName, instanceID, line string) {
	m.mu.RLock()
	parser := m.usageParser
	m.mu.RUnlock()
	if parser == nil {
		return
	}

	usage, ok := parser.Parse(line)
	if !ok {
		return
	}

	data := map[string]interface{}{
		"agent_name":   agentName,
		"instance_id":  instanceID,
		"used_percent": usage.UsedPercent,
		"model":        usage.Model,
	}
	event := bus.NewEvent(bus.SubjectAgentContextUsage, "agent-lifecycle", data)
	if m.eventBus != nil {
		if err := m.eventBus.Publish(context.Background(), bus.SubjectAgentContextUsage, event); err != nil {
			m.logger.Error("failed to publish context usage event", zap.Error(err))
		}
	}
}

// healthLoop periodically checks that the subprocess is still alive. Once
// HealthFailureThreshold consecutive checks have failed it marks the instance
// unhealthy and publishes agent.health, and does so again on every later
// failed check until the loop is cancelled. It neither kills nor respawns the
// subprocess, and neither the orchestrator nor the session manager respawns
// an unhealthy instance; backoffForAttempt is not called by the loop.
func (m *Manager) healthLoop(ctx context.Context, inst *Instance) {
	defer m.wg.Done()

	interval := m.cfg.HealthInterval()
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.checkHealth(inst)
		}
	}
}

func (m *Manager) checkHealth(inst *Instance) {
	alive := processAlive(inst.Cmd)

	inst.mu.Lock()
	inst.lastHealthCheck = time.Now()
	if alive {
		inst.consecutiveFailures = 0
		if inst.status == StatusUnhealthy {
			inst.status = StatusHealthy
		}
	} else {
		inst.consecutiveFailures++
	}
	failures := inst.consecutiveFailures
	threshold := m.cfg.HealthFailureThreshold
	inst.mu.Unlock()

	if !alive && failures >= threshold {
		inst.setStatus(StatusUnhealthy)
		m.logger.Warn("agent unhealthy",
			zap.String("agent_name", inst.AgentName),
			zap.String("instance_id", inst.ID),
			zap.Int("consecutive_failures", failures))
		m.publishEvent(bus.SubjectAgentHealth, inst.AgentName, inst.ID, "unhealthy")
	}
}

// backoffForAttempt computes exponential spawn-retry backoff, capped at
// MaxRestartBackoffSeconds.
func (m *Manager) backoffForAttempt(attempt int) time.Duration {
	maxBackoff := m.cfg.MaxRestartBackoff()
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}
	backoff := time.Second
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	return backoff
}

// Escalate marks an instance as failed beyond recovery and publishes
// agent.escalated for an external operator or supervisor to observe.
func (m *Manager) Escalate(agentName, reason string) {
	m.mu.RLock()
	inst, ok := m.instances[agentName]
	m.mu.RUnlock()
	if !ok {
		return
	}

	inst.mu.Lock()
	inst.status = StatusFailed
	inst.errorMessage = reason
	inst.mu.Unlock()

	m.logger.Error("agent escalated", zap.String("agent_name", agentName), zap.String("reason", reason))
	m.publishEvent(bus.SubjectAgentEscalated, agentName, inst.ID, reason)
}

// Stop gracefully stops an agent instance, or kills it if force is set.
func (m *Manager) Stop(ctx context.Context, agentName string, force bool) error {
	m.mu.Lock()
	inst, ok := m.instances[agentName]
	if ok {
		delete(m.instances, agentName)
	}
	m.mu.Unlock()

	if !ok {
		return apperrors.HealthError(fmt.Sprintf("no running instance for agent %q", agentName))
	}

	inst.setStatus(StatusStopping)
	if inst.stopHealthLoop != nil {
		inst.stopHealthLoop()
	}

	inst.ACP.Stop()

	if force {
		inst.setStatus(StatusTerminating)
		return killProcess(inst.Cmd)
	}

	done := make(chan error, 1)
	go func() { done <- inst.Cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		inst.setStatus(StatusTerminating)
		_ = killProcess(inst.Cmd)
	case <-ctx.Done():
		inst.setStatus(StatusTerminating)
		_ = killProcess(inst.Cmd)
	}

	m.publishEvent(bus.SubjectAgentTerminated, agentName, inst.ID, "")
	return nil
}

// Shutdown stops every running instance. Intended for process exit.
func (m *Manager) Shutdown(ctx context.Context) {
	close(m.shutdown)

	m.mu.RLock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		_ = m.Stop(ctx, name, false)
	}

	m.wg.Wait()
}

func (m *Manager) publishEvent(subject, agentName, instanceID, detail string) {
	if m.eventBus == nil {
		return
	}

	data := map[string]interface{}{
		"agent_name":  agentName,
		"instance_id": instanceID,
	}
	if detail != "" {
		data["detail"] = detail
	}

	event := bus.NewEvent(subject, "agent-lifecycle", data)
	if err := m.eventBus.Publish(context.Background(), subject, event); err != nil {
		m.logger.Error("failed to publish lifecycle event", zap.String("subject", subject), zap.Error(err))
	}
}

func processAlive(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	return cmd.ProcessState == nil
}

func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
