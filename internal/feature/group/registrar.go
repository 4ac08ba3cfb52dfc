// Package group registers and unregisters the group chats the bot relays to.
package group

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"tg_group_relay_bot/internal/domain"
	"tg_group_relay_bot/internal/logging"
	"tg_group_relay_bot/internal/messages"
)

type groupStore interface {
	List(ctx context.Context) ([]domain.Group, error)
	Add(ctx context.Context, group domain.Group) error
	Remove(ctx context.Context, id int64) error
}

type adminNotifier interface {
	NotifyAdmins(ctx context.Context, text string)
}

// Registrar persists groups the bot joins or is told to forget, and tells
// every admin about it.
type Registrar struct {
	groups   groupStore
	notifier adminNotifier
	texts    messages.Catalog
	logger   *logrus.Entry
}

// NewRegistrar constructs a Registrar.
func NewRegistrar(groups groupStore, notifier adminNotifier, texts messages.Catalog, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		groups:   groups,
		notifier: notifier,
		texts:    texts,
		logger:   logger,
	}
}

// Register stores the chat and notifies admins that the bot was added.
func (r *Registrar) Register(ctx context.Context, chatID int64, title string) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	if chatID == 0 {
		return errors.New("chat id is required")
	}

	group := domain.Group{ID: chatID, Title: title}
	if err := r.groups.Add(ctx, group); err != nil {
		return fmt.Errorf("register group: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_registered",
		"chat_id": chatID,
		"title":   title,
	}).Info("registered group")

	if r.notifier != nil {
		r.notifier.NotifyAdmins(ctx, r.texts.GroupAdded(strings.TrimSpace(title)))
	}

	return nil
}

// Unregister removes every record of the chat and notifies admins. Admins are
// notified even when nothing matched.
func (r *Registrar) Unregister(ctx context.Context, chatID int64) error {
	if err := r.check(ctx); err != nil {
		return err
	}

	if err := r.groups.Remove(ctx, chatID); err != nil {
		return fmt.Errorf("unregister group: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_unregistered",
		"chat_id": chatID,
	}).Info("unregistered group")

	if r.notifier != nil {
		r.notifier.NotifyAdmins(ctx, r.texts.GroupRemoved(strconv.FormatInt(chatID, 10)))
	}

	return nil
}

// List returns the stored groups.
func (r *Registrar) List(ctx context.Context) ([]domain.Group, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}

	groups, err := r.groups.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}

	return groups, nil
}

func (r *Registrar) check(ctx context.Context) error {
	if r == nil || r.groups == nil {
		return errors.New("group registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
