// Package contextusage recognizes context-window usage reports an agent
// subprocess emits on its own stderr, so the orchestrator can decide when a
// session is close enough to its context limit to warrant rotation.
package contextusage

import (
	"regexp"
	"strconv"
)

// Usage is one parsed context-window usage report.
type Usage struct {
	UsedPercent int
	Model       string
}

// Parser recognizes a stderr line as a context usage report.
type Parser interface {
	// Parse returns the parsed usage and true if line carries a usage
	// report, or the zero value and false otherwise.
	Parse(line string) (Usage, bool)
}

// claudeStyleLine matches lines of the form:
//
//	[context] used=73% model=claude-opus-4
var claudeStyleLine = regexp.MustCompile(`\[context\]\s+used=(\d{1,3})%(?:\s+model=(\S+))?`)

// ClaudeStyleParser recognizes the "[context] used=NN% model=<id>" line
// format some ACP agent CLIs write to stderr between turns.
type ClaudeStyleParser struct{}

// Parse implements Parser.
func (ClaudeStyleParser) Parse(line string) (Usage, bool) {
	m := claudeStyleLine.FindStringSubmatch(line)
	if m == nil {
		return Usage{}, false
	}

	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return Usage{}, false
	}
	if pct > 100 {
		pct = 100
	}

	return Usage{UsedPercent: pct, Model: m[2]}, true
}

// NoopParser never recognizes a line, for agents that report nothing.
type NoopParser struct{}

// Parse implements Parser.
func (NoopParser) Parse(string) (Usage, bool) { return Usage{}, false }
