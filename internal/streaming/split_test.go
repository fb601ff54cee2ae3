package streaming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitTrackerShortMessageIsOneSegment(t *testing.T) {
	tracker := NewSplitTracker()
	segments := tracker.Split("hello world")
	require.Len(t, segments, 1)
	require.Equal(t, "hello world", segments[0].Text)
}

func TestSplitTrackerSplitsLongMessage(t *testing.T) {
	tracker := NewSplitTracker()

	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("this is a line of text that repeats\n")
	}

	segments := tracker.Split(b.String())
	require.Greater(t, len(segments), 1)
	for _, seg := range segments {
		require.LessOrEqual(t, len(seg.Text), discordHardLimit)
	}
}

func TestSplitTrackerKeepsCodeFenceBalanced(t *testing.T) {
	tracker := NewSplitTracker()

	var b strings.Builder
	b.WriteString("```go\n")
	for i := 0; i < 200; i++ {
		b.WriteString("fmt.Println(\"padding to force a split here\")\n")
	}
	b.WriteString("```\n")

	segments := tracker.Split(b.String())
	require.Greater(t, len(segments), 1)

	for i, seg := range segments {
		opens := strings.Count(seg.Text, "```")
		require.True(t, opens%2 == 0, "segment %d has unbalanced fence markers: %q", i, seg.Text)
	}
}

func TestSplitTrackerReopensFenceWithSameLanguageTag(t *testing.T) {
	tracker := NewSplitTracker()

	var b strings.Builder
	b.WriteString("```python\n")
	for i := 0; i < 200; i++ {
		b.WriteString("print('padding to force a split across the fence boundary')\n")
	}
	b.WriteString("```\n")

	segments := tracker.Split(b.String())
	require.Greater(t, len(segments), 1)
	require.Equal(t, "```python", segments[0].LeavesOpen)
	require.Equal(t, "```python", segments[1].ReopenedWith)
}
