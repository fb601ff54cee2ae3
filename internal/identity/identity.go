// Package identity loads the optional identity.yaml customization layered
// on top of a fixed base identity prompt.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
)

// baseIdentity is the fixed declaration sent to every agent regardless of
// identity.yaml customization.
const baseIdentity = `You are a persistent general assistant. You maintain memory of your
conversations and have access to tools. Act consistently across sessions
and be direct about your capabilities and limits.`

// Customization is the optional identity.yaml shape.
type Customization struct {
	Name       string   `yaml:"name"`
	Role       string   `yaml:"role"`
	Boundaries []string `yaml:"boundaries"`
	Traits     []string `yaml:"traits"`
}

func (c Customization) isEmpty() bool {
	return c.Name == "" && c.Role == "" && len(c.Boundaries) == 0 && len(c.Traits) == 0
}

// Load reads <baseDir>/identity.yaml, if present, and builds the full
// identity prompt. A missing file, or one that fails to parse, or one that
// parses to an entirely empty customization, all fall back to the base
// identity alone — the last case is a deliberate behavior match, not an
// oversight.
func Load(baseDir string, log *logger.Logger) string {
	if baseDir == "" {
		return baseIdentity
	}

	path := filepath.Join(baseDir, "identity.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("failed to read identity file, using base identity", zap.String("path", path), zap.Error(err))
		}
		return baseIdentity
	}

	var custom Customization
	if err := yaml.Unmarshal(data, &custom); err != nil {
		log.Warn("failed to parse identity file, using base identity", zap.String("path", path), zap.Error(err))
		return baseIdentity
	}

	if custom.isEmpty() {
		log.Warn("identity file has no customization, using base identity", zap.String("path", path))
		return baseIdentity
	}

	return render(custom)
}

func render(c Customization) string {
	var b strings.Builder
	b.WriteString(baseIdentity)
	b.WriteString("\n\n")

	if c.Name != "" {
		fmt.Fprintf(&b, "Your name is %s.\n", c.Name)
	}
	if c.Role != "" {
		fmt.Fprintf(&b, "Your role: %s\n", c.Role)
	}
	if len(c.Traits) > 0 {
		fmt.Fprintf(&b, "Traits: %s\n", strings.Join(c.Traits, ", "))
	}
	if len(c.Boundaries) > 0 {
		b.WriteString("Boundaries:\n")
		for _, boundary := range c.Boundaries {
			fmt.Fprintf(&b, "- %s\n", boundary)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
