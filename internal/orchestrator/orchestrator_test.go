package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kynetic-ai/kynetic-bot/internal/channel"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/events/bus"
	"github.com/kynetic-ai/kynetic-bot/internal/session/router"
	"github.com/kynetic-ai/kynetic-bot/internal/streaming"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)
	return log
}

func TestWasFreshlyCreatedNoPriorBinding(t *testing.T) {
	o := &Orchestrator{table: router.NewTable()}
	key := router.New("agent", "discord", router.PeerKindUser, "u1")

	require.True(t, o.wasFreshlyCreated(key, "session-a"))
}

func TestWasFreshlyCreatedSameBinding(t *testing.T) {
	o := &Orchestrator{table: router.NewTable()}
	key := router.New("agent", "discord", router.PeerKindUser, "u1")
	o.table.Set(key, "session-a")

	require.False(t, o.wasFreshlyCreated(key, "session-a"))
}

func TestWasFreshlyCreatedChangedBinding(t *testing.T) {
	o := &Orchestrator{table: router.NewTable()}
	key := router.New("agent", "discord", router.PeerKindUser, "u1")
	o.table.Set(key, "session-a")

	require.True(t, o.wasFreshlyCreated(key, "session-b"))
}

func TestSupportsStreaming(t *testing.T) {
	require.True(t, supportsStreaming("discord"))
	require.False(t, supportsStreaming("telegram"))
}

// fakeChannel is a minimal channel.Channel recording every send/edit for
// assertions; it never actually receives inbound messages.
type fakeChannel struct {
	mu    sync.Mutex
	sent  []string
	edits []string
	name  string
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Start(ctx context.Context, handler channel.InboundHandler) error { return nil }

func (f *fakeChannel) Stop() error { return nil }

func (f *fakeChannel) SendMessage(ctx context.Context, peerKind router.PeerKind, peerID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func (f *fakeChannel) EditMessage(ctx context.Context, peerKind router.PeerKind, peerID, messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeChannel) StartTypingLoop(ctx context.Context, peerKind router.PeerKind, peerID string) (func(), error) {
	return func() {}, nil
}

func TestNewCoalescerBufferedSendsOnceWithoutEdits(t *testing.T) {
	o := &Orchestrator{logger: testLogger(t)}
	ch := &fakeChannel{name: "telegram"}
	msg := channel.InboundMessage{Platform: "telegram", PeerKind: router.PeerKindUser, PeerID: "u1"}

	c, finalContent := o.newCoalescer(ch, msg)
	_, ok := c.(*streaming.BufferedCoalescer)
	require.True(t, ok, "telegram should use the non-streaming coalescer")

	c.Append("key", "hello ")
	c.Append("key", "world")
	c.Finalize("key")

	ch.mu.Lock()
	require.Equal(t, []string{"hello world"}, ch.sent)
	require.Empty(t, ch.edits)
	ch.mu.Unlock()

	require.Equal(t, "hello world", finalContent())
}

func TestNewCoalescerPicksStreamingForDiscord(t *testing.T) {
	o := &Orchestrator{logger: testLogger(t)}
	ch := &fakeChannel{name: "discord"}
	msg := channel.InboundMessage{Platform: "discord", PeerKind: router.PeerKindChannel, PeerID: "c1"}

	c, _ := o.newCoalescer(ch, msg)
	_, ok := c.(*streaming.StreamCoalescer)
	require.True(t, ok, "discord should use the streaming coalescer")
	c.Stop()
}

func TestNewCoalescerSplitsOverHardLimit(t *testing.T) {
	o := &Orchestrator{logger: testLogger(t)}
	ch := &fakeChannel{name: "telegram"}
	msg := channel.InboundMessage{Platform: "telegram", PeerKind: router.PeerKindUser, PeerID: "u1"}

	c, finalContent := o.newCoalescer(ch, msg)

	long := strings.Repeat("a", 2500)
	c.Append("key", long)
	c.Finalize("key")

	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.sent, 2, "content over the hard limit should split across two messages")
	for _, seg := range ch.sent {
		require.LessOrEqual(t, len(seg), 2000)
	}
	require.Equal(t, long, finalContent())
}

func TestNumericValueAcceptsBusAndWireTypes(t *testing.T) {
	cases := []interface{}{int(72), int64(72), float32(72), float64(72)}
	for _, v := range cases {
		got, ok := numericValue(v)
		require.True(t, ok)
		require.Equal(t, float64(72), got)
	}

	_, ok := numericValue("72")
	require.False(t, ok, "a non-numeric value should be rejected")
}

func TestHandleContextUsageIgnoresBelowThreshold(t *testing.T) {
	o := &Orchestrator{logger: testLogger(t), table: router.NewTable(), rotationThreshold: 0.70}
	key := router.New("claude", "discord", router.PeerKindUser, "u1")
	o.table.Set(key, "session-a")

	event := &bus.Event{Data: map[string]interface{}{"agent_name": "claude", "used_percent": 50}}
	err := o.handleContextUsage(context.Background(), event)
	require.NoError(t, err)

	// sessions is nil; if handleContextUsage had tried to rotate despite
	// being below threshold, this would have panicked on the nil pointer.
}

func TestRequestRestartWithoutSupervisorFails(t *testing.T) {
	o := &Orchestrator{logger: testLogger(t)}
	err := o.RequestRestart(context.Background(), "planned", "continue", "", "session-a", nil)
	require.Error(t, err)
}
