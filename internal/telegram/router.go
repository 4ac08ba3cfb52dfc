package telegram

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_group_relay_bot/internal/access"
	"tg_group_relay_bot/internal/broadcast"
	"tg_group_relay_bot/internal/domain"
	"tg_group_relay_bot/internal/logging"
	"tg_group_relay_bot/internal/messages"
)

type groupRegistrar interface {
	Register(ctx context.Context, chatID int64, title string) error
	Unregister(ctx context.Context, chatID int64) error
	List(ctx context.Context) ([]domain.Group, error)
}

type groupBroadcaster interface {
	Broadcast(ctx context.Context, groups []domain.Group, text string, report func(broadcast.Result)) []broadcast.Result
}

// Router classifies inbound updates and runs the matching handler. It holds no
// per-conversation state.
type Router struct {
	admins      access.AdminSet
	groups      groupRegistrar
	broadcaster groupBroadcaster
	replies     broadcast.Sender
	texts       messages.Catalog
	logger      *logrus.Entry

	mu   sync.RWMutex
	self identity
}

// NewRouter constructs a Router. replies is used for answers to the user who
// triggered an event.
func NewRouter(admins access.AdminSet, groups groupRegistrar, broadcaster groupBroadcaster, replies broadcast.Sender, texts messages.Catalog, logger *logrus.Entry) *Router {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Router{
		admins:      admins,
		groups:      groups,
		broadcaster: broadcaster,
		replies:     replies,
		texts:       texts,
		logger:      logger,
	}
}

// SetIdentity records the bot's own user id and username, needed to detect
// when the bot is added to a chat and to match /cmd@username.
func (r *Router) SetIdentity(id int64, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.self = identity{id: id, username: username}
}

func (r *Router) currentIdentity() identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

// Handle has the bot.HandlerFunc signature.
func (r *Router) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	ev, ok := parseEvent(update, r.currentIdentity())
	if !ok {
		return
	}
	r.Dispatch(ctx, ev)
}

// Dispatch runs the handler for ev.
func (r *Router) Dispatch(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case StartEvent:
		r.handleStart(ctx, e)
	case GroupsEvent:
		r.handleGroups(ctx, e)
	case RemoveEvent:
		r.handleRemove(ctx, e)
	case BotAddedEvent:
		r.handleBotAdded(ctx, e)
	case TextEvent:
		r.handleText(ctx, e)
	}
}

func (r *Router) handleStart(ctx context.Context, e StartEvent) {
	if !access.IsPrivateChat(e.Chat) {
		return
	}
	if !r.allowed(ctx, e) {
		return
	}

	r.reply(ctx, e.Chat.ID, r.texts.Welcome, true)
}

func (r *Router) handleGroups(ctx context.Context, e GroupsEvent) {
	if !r.allowed(ctx, e) {
		return
	}

	groups, err := r.groups.List(ctx)
	if err != nil {
		r.internalError(ctx, e, err)
		return
	}

	if len(groups) == 0 {
		r.reply(ctx, e.Chat.ID, r.texts.EmptyList, false)
		return
	}

	r.reply(ctx, e.Chat.ID, r.texts.GroupList(groups), true)
}

func (r *Router) handleRemove(ctx context.Context, e RemoveEvent) {
	if !r.allowed(ctx, e) {
		return
	}

	if e.Arg == "" {
		r.reply(ctx, e.Chat.ID, r.texts.RemoveUsage, false)
		return
	}

	chatID, err := strconv.ParseInt(e.Arg, 10, 64)
	if err != nil {
		r.log(e).WithField("arg", e.Arg).Info("rejected non-numeric group id")
		r.reply(ctx, e.Chat.ID, r.texts.RemoveUsage, false)
		return
	}

	if err := r.groups.Unregister(ctx, chatID); err != nil {
		r.internalError(ctx, e, err)
	}
}

func (r *Router) handleBotAdded(ctx context.Context, e BotAddedEvent) {
	if err := r.groups.Register(ctx, e.Chat.ID, e.Chat.Title); err != nil {
		r.log(e).WithError(err).Error("failed to register group")
	}
}

func (r *Router) handleText(ctx context.Context, e TextEvent) {
	if !access.IsPrivateChat(e.Chat) {
		return
	}
	if !r.allowed(ctx, e) {
		return
	}

	groups, err := r.groups.List(ctx)
	if err != nil {
		r.internalError(ctx, e, err)
		return
	}

	if len(groups) == 0 {
		r.reply(ctx, e.Chat.ID, r.texts.EmptyList, false)
		return
	}

	preview := broadcast.Preview(e.Text)
	results := r.broadcaster.Broadcast(ctx, groups, e.Text, func(res broadcast.Result) {
		if res.Err != nil {
			r.reply(ctx, e.Chat.ID, r.texts.BroadcastFailed(preview, res.Group.Title, res.Err), false)
			return
		}
		r.reply(ctx, e.Chat.ID, r.texts.BroadcastDelivered(preview, res.Group.Title), true)
	})

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}

	r.log(e).WithFields(logging.Fields{
		"groups": len(results),
		"failed": failed,
	}).Info("broadcast finished")
}

// allowed applies the admin gate and sends the denial when it fails.
func (r *Router) allowed(ctx context.Context, ev Event) bool {
	meta := ev.meta()
	decision := r.admins.Check(meta.Chat, meta.UserID)
	if decision == access.Allowed {
		return true
	}

	r.log(ev).WithField("reason", denialReason(decision)).Info("access denied")
	r.reply(ctx, meta.Chat.ID, r.texts.Forbidden, false)
	return false
}

func (r *Router) internalError(ctx context.Context, ev Event, err error) {
	r.log(ev).WithError(err).Error("command failed")
	r.reply(ctx, ev.meta().Chat.ID, r.texts.InternalError, false)
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, html bool) {
	if r.replies == nil {
		return
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if html {
		params.ParseMode = models.ParseModeHTML
	}

	if _, err := r.replies.SendMessage(ctx, params); err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "reply_failed",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send reply")
	}
}

func (r *Router) log(ev Event) *logrus.Entry {
	meta := ev.meta()
	return logging.Annotate(r.logger, logging.Context{
		Event:   "telegram_command",
		Command: eventName(ev),
		ChatID:  meta.Chat.ID,
		UserID:  meta.UserID,
	})
}

func denialReason(d access.Decision) string {
	switch d {
	case access.DeniedNotPrivate:
		return "not_private"
	case access.DeniedNotAdmin:
		return "not_admin"
	default:
		return "allowed"
	}
}
