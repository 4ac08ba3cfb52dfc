// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_group_relay_bot/internal/broadcast"
	"tg_group_relay_bot/internal/config"
	"tg_group_relay_bot/internal/logging"
)

const (
	pollTimeout     = time.Minute
	identityTimeout = 10 * time.Second
)

type botRunner interface {
	Start(ctx context.Context)
	GetMe(ctx context.Context) (*models.User, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and the router receiving its updates.
type Client struct {
	bot    botRunner
	token  string
	logger *logrus.Entry

	mu     sync.RWMutex
	router *Router
}

// NewClient initializes the Telegram bot with long polling. Updates are logged
// and handed to the router installed with Route. When cfg.UseProxy reports
// true, API traffic is dialed through the SOCKS5 proxy.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{
		token:  cfg.TelegramToken,
		logger: logger,
	}

	options := []bot.Option{
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(c.handle),
		bot.WithErrorsHandler(errorHandler(logger)),
	}

	if cfg.UseProxy() {
		httpClient, err := newProxyHTTPClient(*cfg.Proxy, pollTimeout)
		if err != nil {
			return nil, fmt.Errorf("init socks5 proxy: %w", err)
		}
		options = append(options, bot.WithHTTPClient(pollTimeout, httpClient))

		logger.WithFields(logging.Fields{
			"event": "telegram_proxy",
			"proxy": cfg.Proxy.Address(),
		}).Info("telegram traffic goes through socks5 proxy")
	}

	tgBot, err := createBot(cfg.TelegramToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	c.bot = tgBot

	return c, nil
}

// Sender returns the bot as a message sender.
func (c *Client) Sender() broadcast.Sender {
	return c.bot
}

// Route installs the router that receives every update.
func (c *Client) Route(router *Router) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.router = router
}

// Start resolves the bot identity and begins receiving updates via long
// polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	if router := c.currentRouter(); router != nil {
		id, username := c.resolveIdentity(ctx)
		router.SetIdentity(id, username)
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// resolveIdentity asks getMe for the bot account, falling back to the numeric
// prefix of the token.
func (c *Client) resolveIdentity(ctx context.Context) (int64, string) {
	meCtx, cancel := context.WithTimeout(ctx, identityTimeout)
	defer cancel()

	me, err := c.bot.GetMe(meCtx)
	if err == nil && me != nil && me.ID != 0 {
		c.logger.WithFields(logging.Fields{
			"event":    "telegram_identity",
			"bot_id":   me.ID,
			"username": me.Username,
		}).Info("resolved bot identity")
		return me.ID, me.Username
	}

	id := botIDFromToken(c.token)
	entry := c.logger.WithFields(logging.Fields{
		"event":  "telegram_identity_fallback",
		"bot_id": id,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("getMe failed, using bot id from token")

	return id, ""
}

func (c *Client) currentRouter() *Router {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.router
}

func (c *Client) handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	meta := extractUpdateMeta(update)

	fields := logging.Fields{
		"event":       "telegram_update",
		"update_type": meta.updateType,
	}
	if meta.text != "" {
		fields["text"] = meta.text
	}
	if meta.userID != 0 {
		fields["user_id"] = meta.userID
	}
	if meta.chatID != 0 {
		fields["chat_id"] = meta.chatID
	}

	c.logger.WithFields(fields).Debug("telegram update received")

	if router := c.currentRouter(); router != nil {
		router.Handle(ctx, b, update)
	}
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		meta := updateMeta{
			userID:     userID(update.Message.From),
			chatID:     update.Message.Chat.ID,
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
		if len(update.Message.NewChatMembers) > 0 {
			meta.updateType = "new_chat_members"
		}
		return meta
	case update.EditedMessage != nil:
		return updateMeta{
			userID:     userID(update.EditedMessage.From),
			chatID:     update.EditedMessage.Chat.ID,
			updateType: "edited_message",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func botIDFromToken(token string) int64 {
	prefix, _, found := strings.Cut(token, ":")
	if !found {
		return 0
	}

	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}
