package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kynetic-ai/kynetic-bot/internal/persistence"
	"github.com/kynetic-ai/kynetic-bot/internal/persistence/memory"
)

func TestConversationReconstructorEmptyHistory(t *testing.T) {
	store := memory.NewConversationStore(0)
	recon := persistence.NewConversationReconstructor(store, 0, 0)

	preamble, err := recon.Reconstruct(context.Background(), "key-1")
	require.NoError(t, err)
	require.Empty(t, preamble)
}

func TestConversationReconstructorRendersTurns(t *testing.T) {
	store := memory.NewConversationStore(0)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, persistence.Turn{SessionKey: "key-1", Role: "user", Content: "what's the deploy status?"}))
	require.NoError(t, store.AppendTurn(ctx, persistence.Turn{SessionKey: "key-1", Role: "agent", Content: "deploy is green"}))

	recon := persistence.NewConversationReconstructor(store, 0, 0)
	preamble, err := recon.Reconstruct(ctx, "key-1")
	require.NoError(t, err)
	require.Contains(t, preamble, "User: what's the deploy status?")
	require.Contains(t, preamble, "Assistant: deploy is green")
}

func TestConversationReconstructorRespectsMaxTurns(t *testing.T) {
	store := memory.NewConversationStore(0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendTurn(ctx, persistence.Turn{SessionKey: "key-1", Role: "user", Content: "turn"}))
	}

	recon := persistence.NewConversationReconstructor(store, 2, 0)
	preamble, err := recon.Reconstruct(ctx, "key-1")
	require.NoError(t, err)
	require.Equal(t, 2, countOccurrences(preamble, "User: turn"))
}

func TestConversationReconstructorRespectsMaxAge(t *testing.T) {
	store := memory.NewConversationStore(0)
	ctx := context.Background()

	require.NoError(t, store.AppendTurn(ctx, persistence.Turn{
		SessionKey: "key-1", Role: "user", Content: "ancient history",
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}))
	require.NoError(t, store.AppendTurn(ctx, persistence.Turn{SessionKey: "key-1", Role: "user", Content: "recent turn"}))

	recon := persistence.NewConversationReconstructor(store, 0, 24*time.Hour)
	preamble, err := recon.Reconstruct(ctx, "key-1")
	require.NoError(t, err)
	require.Contains(t, preamble, "recent turn")
	require.NotContains(t, preamble, "ancient history")
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}
