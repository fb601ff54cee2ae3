// Package channel defines the contract a messaging-platform adapter
// implements so the orchestrator can treat Discord, Telegram, and any
// future platform identically.
package channel

import (
	"context"

	"github.com/kynetic-ai/kynetic-bot/internal/session/router"
)

// InboundMessage is one message received from a platform, already
// normalized to the fields the orchestrator's routing and persistence
// layers need.
type InboundMessage struct {
	Platform  string
	PeerKind  router.PeerKind
	PeerID    string
	AuthorID  string
	Text      string
	MessageID string // platform-native id, for reply-threading where supported
}

// InboundHandler is invoked for every inbound message a channel receives.
type InboundHandler func(ctx context.Context, msg InboundMessage)

// Channel is one messaging-platform adapter: it receives inbound messages
// and renders outbound agent responses back onto that platform.
type Channel interface {
	// Name identifies the platform, e.g. "discord" or "telegram".
	Name() string

	// Start begins receiving inbound messages, invoking handler for each.
	Start(ctx context.Context, handler InboundHandler) error
	// Stop shuts the channel down, e.g. closing its gateway session.
	Stop() error

	// SendMessage posts a new message to peerID and returns a platform
	// message id that can later be passed to EditMessage.
	SendMessage(ctx context.Context, peerKind router.PeerKind, peerID, text string) (string, error)
	// EditMessage updates a previously sent message in place, for
	// platforms that support it; others may implement it as a no-op and
	// rely on SendMessage for every flush instead.
	EditMessage(ctx context.Context, peerKind router.PeerKind, peerID, messageID, text string) error

	// StartTypingLoop begins an indicator that the bot is composing a
	// reply to peerID, repeating as needed until StopTypingLoop is called.
	StartTypingLoop(ctx context.Context, peerKind router.PeerKind, peerID string) (stop func(), err error)
}
