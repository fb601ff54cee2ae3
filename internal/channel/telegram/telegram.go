// Package telegram implements the secondary channel.Channel adapter over
// go-telegram-bot-api/v5, using long polling rather than Discord's
// persistent gateway session. The orchestrator treats Telegram as a
// non-streaming platform: it buffers each reply and sends it whole rather
// than editing a message as the reply streams in.
package telegram

import (
	"context"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kynetic-ai/kynetic-bot/internal/channel"
	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
	"github.com/kynetic-ai/kynetic-bot/internal/session/router"
)

const platformName = "telegram"

// typingRefreshInterval mirrors Telegram's own ~5s chat-action expiry.
const typingRefreshInterval = 4 * time.Second

// Channel is the long-polling Telegram channel.Channel implementation.
type Channel struct {
	bot    *tgbotapi.BotAPI
	logger *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	handler channel.InboundHandler
}

// New creates a Telegram channel bound to a bot token.
func New(token string, log *logger.Logger) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSpawnError, "failed to create telegram bot", err)
	}

	return &Channel{
		bot:    bot,
		logger: log.WithFields(zap.String("component", "telegram-channel")),
	}, nil
}

// Name implements channel.Channel.
func (c *Channel) Name() string { return platformName }

// Start implements channel.Channel, beginning a long-polling update loop.
func (c *Channel) Start(ctx context.Context, handler channel.InboundHandler) error {
	c.mu.Lock()
	c.handler = handler
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := c.bot.GetUpdatesChan(cfg)

	go c.pollLoop(loopCtx, updates)

	c.logger.Info("telegram long-polling started")
	return nil
}

func (c *Channel) pollLoop(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			c.handleUpdate(ctx, update)
		}
	}
}

func (c *Channel) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	var msg *tgbotapi.Message
	switch {
	case update.Message != nil:
		msg = update.Message
	case update.EditedMessage != nil:
		msg = update.EditedMessage
	default:
		return
	}
	if msg.From == nil || msg.From.IsBot {
		return
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}

	peerKind := router.PeerKindUser
	if msg.Chat != nil && msg.Chat.IsGroup() {
		peerKind = router.PeerKindGroup
	}

	handler(ctx, channel.InboundMessage{
		Platform:  platformName,
		PeerKind:  peerKind,
		PeerID:    strconv.FormatInt(msg.Chat.ID, 10),
		AuthorID:  strconv.FormatInt(msg.From.ID, 10),
		Text:      msg.Text,
		MessageID: strconv.Itoa(msg.MessageID),
	})
}

// Stop implements channel.Channel.
func (c *Channel) Stop() error {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.bot.StopReceivingUpdates()
	if done != nil {
		<-done
	}
	return nil
}

// SendMessage implements channel.Channel.
func (c *Channel) SendMessage(ctx context.Context, peerKind router.PeerKind, peerID, text string) (string, error) {
	chatID, err := strconv.ParseInt(peerID, 10, 64)
	if err != nil {
		return "", apperrors.RoutingError("invalid telegram chat id: " + peerID)
	}

	sent, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeRemoteError, "failed to send telegram message", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

// EditMessage implements channel.Channel.
func (c *Channel) EditMessage(ctx context.Context, peerKind router.PeerKind, peerID, messageID, text string) error {
	chatID, err := strconv.ParseInt(peerID, 10, 64)
	if err != nil {
		return apperrors.RoutingError("invalid telegram chat id: " + peerID)
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return apperrors.RoutingError("invalid telegram message id: " + messageID)
	}

	_, err = c.bot.Send(tgbotapi.NewEditMessageText(chatID, msgID, text))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRemoteError, "failed to edit telegram message", err)
	}
	return nil
}

// StartTypingLoop implements channel.Channel, re-sending the "typing" chat
// action every typingRefreshInterval since Telegram's indicator expires
// after a few seconds.
func (c *Channel) StartTypingLoop(ctx context.Context, peerKind router.PeerKind, peerID string) (func(), error) {
	chatID, err := strconv.ParseInt(peerID, 10, 64)
	if err != nil {
		return nil, apperrors.RoutingError("invalid telegram chat id: " + peerID)
	}

	send := func() {
		action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
		if _, err := c.bot.Request(action); err != nil {
			c.logger.Debug("typing indicator refresh failed", zap.String("peer_id", peerID), zap.Error(err))
		}
	}
	send()

	loopCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()

	return cancel, nil
}
