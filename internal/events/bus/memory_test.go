package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	require.True(t, b.IsConnected())
}

func TestMemoryEventBusPublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := b.Subscribe("test.subject", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	event := NewEvent("test.type", "test-source", map[string]interface{}{"key": "value"})
	require.NoError(t, b.Publish(ctx, "test.subject", event))

	select {
	case e := <-received:
		require.Equal(t, event.ID, e.ID)
		require.Equal(t, event.Type, e.Type)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestMemoryEventBusWildcardSubject(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	ctx := context.Background()
	received := make(chan *Event, 1)

	sub, err := b.Subscribe("agent.*", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	event := NewEvent(SubjectAgentSpawned, "lifecycle", nil)
	require.NoError(t, b.Publish(ctx, SubjectAgentSpawned, event))

	select {
	case e := <-received:
		require.Equal(t, event.ID, e.ID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestMemoryEventBusQueueSubscribeRoundRobins(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	ctx := context.Background()
	var countA, countB int32

	subA, err := b.QueueSubscribe("work", "workers", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&countA, 1)
		return nil
	})
	require.NoError(t, err)
	defer subA.Unsubscribe()

	subB, err := b.QueueSubscribe("work", "workers", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&countB, 1)
		return nil
	})
	require.NoError(t, err)
	defer subB.Unsubscribe()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(ctx, "work", NewEvent("work.item", "test", nil)))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&countA)+atomic.LoadInt32(&countB) == 10
	}, time.Second, 10*time.Millisecond)

	require.Greater(t, atomic.LoadInt32(&countA), int32(0))
	require.Greater(t, atomic.LoadInt32(&countB), int32(0))
}

func TestMemoryEventBusCloseRejectsFurtherUse(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	b.Close()

	require.False(t, b.IsConnected())
	_, err := b.Subscribe("anything", func(context.Context, *Event) error { return nil })
	require.Error(t, err)
	require.Error(t, b.Publish(context.Background(), "anything", NewEvent("x", "y", nil)))
}

func TestMemoryEventBusRequestReply(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger(t))
	defer b.Close()

	ctx := context.Background()
	sub, err := b.Subscribe("ping", func(ctx context.Context, event *Event) error {
		reply, ok := event.Data["_reply"].(string)
		require.True(t, ok)
		return b.Publish(ctx, reply, NewEvent("pong", "responder", nil))
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	resp, err := b.Request(ctx, "ping", NewEvent("ping", "requester", nil), time.Second)
	require.NoError(t, err)
	require.Equal(t, "pong", resp.Type)
}
