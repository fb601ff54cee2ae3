// Package checkpoint loads and consumes the one-shot restart checkpoint a
// supervisor writes before restarting the bot, so the orchestrator can
// inject a wake-context prompt into the first session created after the
// restart.
package checkpoint

import (
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
)

// WakeContext is the situational summary an agent reads before its role
// declaration on restart.
type WakeContext struct {
	Prompt      string `yaml:"prompt"`
	PendingWork string `yaml:"pending_work,omitempty"`
}

// Checkpoint is the on-disk restart record written by a supervisor.
type Checkpoint struct {
	SessionID     string      `yaml:"session_id"`
	RestartReason string      `yaml:"restart_reason"`
	WakeContext   WakeContext `yaml:"wake_context"`
}

func (c Checkpoint) valid() bool {
	return c.SessionID != "" && c.RestartReason != "" && c.WakeContext.Prompt != ""
}

// Load reads and parses the checkpoint at path. A missing file, an
// unparseable file, or one missing required fields are all treated as "no
// checkpoint" — the bot starts cleanly either way.
func Load(path string, log *logger.Logger) (*Checkpoint, bool) {
	if path == "" {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read checkpoint file", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}

	var cp Checkpoint
	if err := yaml.Unmarshal(data, &cp); err != nil {
		log.Warn("failed to parse checkpoint file, starting cleanly", zap.String("path", path), zap.Error(err))
		return nil, false
	}

	if !cp.valid() {
		log.Warn("checkpoint file missing required fields, starting cleanly", zap.String("path", path))
		return nil, false
	}

	return &cp, true
}

// Consume deletes the checkpoint file at path. Callers must call this
// exactly once, either after a successful wake-prompt injection or, if
// injection failed, before the error propagates — per the one-shot
// consumption guarantee, the file must never survive past the first load.
func Consume(path string, log *logger.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Error("failed to remove checkpoint file", zap.String("path", path), zap.Error(err))
	}
}

// Write persists a checkpoint at path, for requestRestart to call before
// signaling the supervisor.
func Write(path string, cp Checkpoint, log *logger.Logger) error {
	data, err := yaml.Marshal(cp)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		log.Error("failed to write checkpoint file", zap.String("path", path), zap.Error(err))
		return err
	}
	return nil
}
