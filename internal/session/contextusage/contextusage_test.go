package contextusage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaudeStyleParserRecognizesLine(t *testing.T) {
	p := ClaudeStyleParser{}

	usage, ok := p.Parse("[context] used=73% model=claude-opus-4")
	require.True(t, ok)
	require.Equal(t, 73, usage.UsedPercent)
	require.Equal(t, "claude-opus-4", usage.Model)
}

func TestClaudeStyleParserWithoutModel(t *testing.T) {
	p := ClaudeStyleParser{}

	usage, ok := p.Parse("[context] used=12%")
	require.True(t, ok)
	require.Equal(t, 12, usage.UsedPercent)
	require.Empty(t, usage.Model)
}

func TestClaudeStyleParserIgnoresUnrelatedLines(t *testing.T) {
	p := ClaudeStyleParser{}

	_, ok := p.Parse("some unrelated log line")
	require.False(t, ok)
}

func TestClaudeStyleParserClampsOverHundred(t *testing.T) {
	p := ClaudeStyleParser{}

	usage, ok := p.Parse("[context] used=150% model=x")
	require.True(t, ok)
	require.Equal(t, 100, usage.UsedPercent)
}

func TestNoopParserNeverMatches(t *testing.T) {
	p := NoopParser{}
	_, ok := p.Parse("[context] used=50%")
	require.False(t, ok)
}
