package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpawnQueueFIFOOrder(t *testing.T) {
	q := NewSpawnQueue(0)

	require.NoError(t, q.Enqueue("claude"))
	require.NoError(t, q.Enqueue("gemini"))
	require.NoError(t, q.Enqueue("codex"))

	require.Equal(t, "claude", q.Dequeue().AgentName)
	require.Equal(t, "gemini", q.Dequeue().AgentName)
	require.Equal(t, "codex", q.Dequeue().AgentName)
	require.Nil(t, q.Dequeue())
}

func TestSpawnQueueRejectsDuplicate(t *testing.T) {
	q := NewSpawnQueue(0)
	require.NoError(t, q.Enqueue("claude"))
	require.ErrorIs(t, q.Enqueue("claude"), ErrSpawnExists)
}

func TestSpawnQueueRespectsMaxSize(t *testing.T) {
	q := NewSpawnQueue(1)
	require.NoError(t, q.Enqueue("claude"))
	require.ErrorIs(t, q.Enqueue("gemini"), ErrQueueFull)
}

func TestSpawnQueueRemove(t *testing.T) {
	q := NewSpawnQueue(0)
	require.NoError(t, q.Enqueue("claude"))
	require.NoError(t, q.Enqueue("gemini"))

	require.True(t, q.Remove("claude"))
	require.False(t, q.Contains("claude"))
	require.Equal(t, 1, q.Len())
	require.Equal(t, "gemini", q.Peek().AgentName)
}
