package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultReconstructionTurns = 20

// ConversationReconstructor rebuilds a rotated or recovered session's
// prompt-injection preamble from the most recent turns recorded for a
// session key. It is the default TurnReconstructor, backed by whichever
// ConversationStore the caller is already using.
type ConversationReconstructor struct {
	store    ConversationStore
	maxTurns int
	maxAge   time.Duration // <= 0 means no age limit
}

// NewConversationReconstructor wraps store as a TurnReconstructor. maxTurns
// bounds how many recent turns are folded into the preamble (<= 0 uses a
// sane default); maxAge additionally drops any turn older than that from the
// preamble regardless of maxTurns (<= 0 means no age limit).
func NewConversationReconstructor(store ConversationStore, maxTurns int, maxAge time.Duration) *ConversationReconstructor {
	if maxTurns <= 0 {
		maxTurns = defaultReconstructionTurns
	}
	return &ConversationReconstructor{store: store, maxTurns: maxTurns, maxAge: maxAge}
}

// Reconstruct renders the recent turns for sessionKey as a single text
// block the agent can read as situational context, oldest first. An empty
// result means there is no prior history to replay.
func (r *ConversationReconstructor) Reconstruct(ctx context.Context, sessionKey string) (string, error) {
	turns, err := r.store.RecentTurns(ctx, sessionKey, r.maxTurns)
	if err != nil {
		return "", err
	}
	if r.maxAge > 0 {
		cutoff := time.Now().UTC().Add(-r.maxAge)
		fresh := turns[:0]
		for _, t := range turns {
			if t.CreatedAt.IsZero() || t.CreatedAt.After(cutoff) {
				fresh = append(fresh, t)
			}
		}
		turns = fresh
	}
	if len(turns) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("The following is a summary of this conversation's recent history, restored after a session restart:\n\n")
	for _, t := range turns {
		role := "User"
		if t.Role == "agent" {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
