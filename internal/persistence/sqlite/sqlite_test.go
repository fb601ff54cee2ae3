package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kynetic-ai/kynetic-bot/internal/persistence"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEventStoreAppendAndList(t *testing.T) {
	db := openTestDB(t)
	store := NewEventStore(db)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, persistence.SessionEvent{SessionKey: "a", Type: "rotated", Detail: "reason"}))
	require.NoError(t, store.Append(ctx, persistence.SessionEvent{SessionKey: "a", Type: "recovered"}))
	require.NoError(t, store.Append(ctx, persistence.SessionEvent{SessionKey: "b", Type: "rotated"}))

	events, err := store.ListBySessionKey(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "rotated", events[0].Type)
	require.Equal(t, "reason", events[0].Detail)
	require.Equal(t, "recovered", events[1].Type)
}

func TestEventStoreListRespectsLimit(t *testing.T) {
	db := openTestDB(t)
	store := NewEventStore(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, persistence.SessionEvent{SessionKey: "a", Type: "x"}))
	}

	events, err := store.ListBySessionKey(ctx, "a", 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestConversationStoreAppendAndRecent(t *testing.T) {
	db := openTestDB(t)
	store := NewConversationStore(db)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, persistence.Turn{SessionKey: "a", Role: "user", Content: "hello"}))
	require.NoError(t, store.AppendTurn(ctx, persistence.Turn{SessionKey: "a", Role: "agent", Content: "hi there"}))

	turns, err := store.RecentTurns(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	require.Equal(t, "user", turns[0].Role)
	require.Equal(t, "agent", turns[1].Role)
}

func TestConversationStoreIsolatesSessionKeys(t *testing.T) {
	db := openTestDB(t)
	store := NewConversationStore(db)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, persistence.Turn{SessionKey: "a", Role: "user", Content: "hi"}))

	turns, err := store.RecentTurns(ctx, "b", 0)
	require.NoError(t, err)
	require.Empty(t, turns)
}
