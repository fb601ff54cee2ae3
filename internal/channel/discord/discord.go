// Package discord implements the primary channel.Channel adapter over
// bwmarrin/discordgo: a persistent gateway session, editable streaming
// replies, and a typing indicator kept alive while an agent is composing.
package discord

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/kynetic-ai/kynetic-bot/internal/channel"
	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/session/router"
)

const platformName = "discord"

// typingRefreshInterval is how often StartTypingLoop re-sends the typing
// indicator; Discord's own indicator only lasts ~10s per call.
const typingRefreshInterval = 8 * time.Second

// Channel is the Discord gateway-backed channel.Channel implementation.
type Channel struct {
	session *discordgo.Session
	logger  *logger.Logger

	mu      sync.Mutex
	handler channel.InboundHandler
	botID   string
}

// New creates a Discord channel bound to a bot token. The gateway
// connection is not opened until Start is called.
func New(token string, log *logger.Logger) (*Channel, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSpawnError, "failed to create discord session", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	return &Channel{
		session: session,
		logger:  log.WithFields(zap.String("component", "discord-channel")),
	}, nil
}

// Name implements channel.Channel.
func (c *Channel) Name() string { return platformName }

// Start implements channel.Channel.
func (c *Channel) Start(ctx context.Context, handler channel.InboundHandler) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.onMessageCreate(ctx, s, m)
	})

	if err := c.session.Open(); err != nil {
		return apperrors.Wrap(apperrors.CodeSpawnError, "failed to open discord gateway session", err)
	}

	c.mu.Lock()
	if c.session.State != nil && c.session.State.User != nil {
		c.botID = c.session.State.User.ID
	}
	c.mu.Unlock()

	c.logger.Info("discord gateway session opened")
	return nil
}

// Stop implements channel.Channel.
func (c *Channel) Stop() error {
	return c.session.Close()
}

func (c *Channel) onMessageCreate(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	c.mu.Lock()
	handler := c.handler
	botID := c.botID
	c.mu.Unlock()

	if handler == nil || m.Author == nil {
		return
	}
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	peerKind := router.PeerKindChannel
	if m.GuildID == "" {
		peerKind = router.PeerKindUser
	}

	handler(ctx, channel.InboundMessage{
		Platform:  platformName,
		PeerKind:  peerKind,
		PeerID:    m.ChannelID,
		AuthorID:  m.Author.ID,
		Text:      m.Content,
		MessageID: m.ID,
	})
}

// SendMessage implements channel.Channel.
func (c *Channel) SendMessage(ctx context.Context, peerKind router.PeerKind, peerID, text string) (string, error) {
	msg, err := c.session.ChannelMessageSend(peerID, text)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeRemoteError, "failed to send discord message", err)
	}
	return msg.ID, nil
}

// EditMessage implements channel.Channel.
func (c *Channel) EditMessage(ctx context.Context, peerKind router.PeerKind, peerID, messageID, text string) error {
	_, err := c.session.ChannelMessageEdit(peerID, messageID, text)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteError, "failed to edit discord message", err)
	}
	return nil
}

// StartTypingLoop implements channel.Channel, re-sending Discord's typing
// indicator every typingRefreshInterval until the returned stop func is
// called or ctx is cancelled.
func (c *Channel) StartTypingLoop(ctx context.Context, peerKind router.PeerKind, peerID string) (func(), error) {
	if err := c.session.ChannelTyping(peerID); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRemoteError, "failed to send initial typing indicator", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := c.session.ChannelTyping(peerID); err != nil {
					c.logger.Debug("typing indicator refresh failed",
						zap.String("peer_id", peerID), zap.Error(err))
				}
			}
		}
	}()

	return cancel, nil
}
