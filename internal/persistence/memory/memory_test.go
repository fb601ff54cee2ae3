package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kynetic-ai/kynetic-bot/internal/persistence"
)

func TestEventStoreAppendAndList(t *testing.T) {
	store := NewEventStore(0)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, persistence.SessionEvent{SessionKey: "a", Type: "rotated"}))
	require.NoError(t, store.Append(ctx, persistence.SessionEvent{SessionKey: "a", Type: "recovered"}))
	require.NoError(t, store.Append(ctx, persistence.SessionEvent{SessionKey: "b", Type: "rotated"}))

	events, err := store.ListBySessionKey(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "rotated", events[0].Type)
	require.Equal(t, "recovered", events[1].Type)
}

func TestEventStoreTrimsToMax(t *testing.T) {
	store := NewEventStore(2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, persistence.SessionEvent{SessionKey: "a", Type: "x"}))
	}

	events, err := store.ListBySessionKey(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestConversationStoreRecentTurnsRespectsLimit(t *testing.T) {
	store := NewConversationStore(0)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendTurn(ctx, persistence.Turn{
			SessionKey: "a",
			Role:       "user",
			Content:    "msg",
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	turns, err := store.RecentTurns(ctx, "a", 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
}

func TestConversationStoreIsolatesSessionKeys(t *testing.T) {
	store := NewConversationStore(0)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, persistence.Turn{SessionKey: "a", Role: "user", Content: "hi"}))

	turns, err := store.RecentTurns(ctx, "b", 0)
	require.NoError(t, err)
	require.Empty(t, turns)
}
