package streaming

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamCoalescerFlushesOverByteBudget(t *testing.T) {
	var mu sync.Mutex
	var flushes []Flush

	c := NewStreamCoalescer(time.Hour, 5, func(f Flush) {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, f)
	})
	c.Start()
	defer c.Stop()

	c.Append("k1", "hello world")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushes) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, "hello world", flushes[0].Content)
	require.False(t, flushes[0].Final)
	mu.Unlock()
}

func TestStreamCoalescerFinalizeFlushesRemainder(t *testing.T) {
	var mu sync.Mutex
	var flushes []Flush

	c := NewStreamCoalescer(time.Hour, 1000, func(f Flush) {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, f)
	})
	c.Start()
	defer c.Stop()

	c.Append("k1", "partial")
	c.Finalize("k1")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushes, 1)
	require.True(t, flushes[0].Final)
	require.Equal(t, "partial", flushes[0].Content)
}

func TestStreamCoalescerTickFlushesPending(t *testing.T) {
	var mu sync.Mutex
	var flushes []Flush

	c := NewStreamCoalescer(20*time.Millisecond, 100000, func(f Flush) {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, f)
	})
	c.Start()
	defer c.Stop()

	c.Append("k1", "a")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(flushes) >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestBufferedCoalescerOnlyFlushesOnFinalize(t *testing.T) {
	var flushes []Flush
	c := NewBufferedCoalescer(func(f Flush) { flushes = append(flushes, f) })

	c.Append("k1", "one ")
	c.Append("k1", "two")
	require.Empty(t, flushes)

	c.Finalize("k1")
	require.Len(t, flushes, 1)
	require.Equal(t, "one two", flushes[0].Content)
	require.True(t, flushes[0].Final)
}

func TestBufferedCoalescerStopFlushesOutstanding(t *testing.T) {
	var flushes []Flush
	c := NewBufferedCoalescer(func(f Flush) { flushes = append(flushes, f) })

	c.Append("k1", strings.Repeat("x", 10))
	c.Stop()

	require.Len(t, flushes, 1)
	require.True(t, flushes[0].Final)
}
