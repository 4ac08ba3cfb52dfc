// Package broadcast fans messages out to admins and to stored groups.
package broadcast

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tg_group_relay_bot/internal/access"
	"tg_group_relay_bot/internal/domain"
	"tg_group_relay_bot/internal/logging"
)

// DefaultConcurrency bounds in-flight sends when no limit is configured.
const DefaultConcurrency = 8

const (
	previewLimit    = 32
	previewOmission = "..."
)

// Sender is the subset of *bot.Bot used to deliver messages.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Result is the outcome of delivering a broadcast to one group.
type Result struct {
	Group domain.Group
	Err   error
}

// Dispatcher sends messages concurrently. Sends are independent: a failure is
// reported once and never retried, and it never cancels the other sends.
type Dispatcher struct {
	sender Sender
	admins access.AdminSet
	limit  int
	logger *logrus.Entry
}

// NewDispatcher constructs a Dispatcher. A non-positive limit falls back to
// DefaultConcurrency.
func NewDispatcher(sender Sender, admins access.AdminSet, limit int, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logging.Logger()
	}
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	return &Dispatcher{
		sender: sender,
		admins: admins,
		limit:  limit,
		logger: logger,
	}
}

// NotifyAdmins sends an HTML message to every admin and waits for all sends.
// Failures are logged only.
func (d *Dispatcher) NotifyAdmins(ctx context.Context, text string) {
	if d == nil || d.sender == nil {
		logging.Warn("admin notification skipped, dispatcher not initialized", logging.Fields{"event": "notify_admins_skipped"})
		return
	}

	var g errgroup.Group
	g.SetLimit(d.limit)

	for _, adminID := range d.admins.IDs() {
		adminID := adminID
		g.Go(func() error {
			if err := d.send(ctx, adminID, text); err != nil {
				d.logger.WithFields(logging.Fields{
					"event":   "notify_admin_failed",
					"user_id": adminID,
				}).WithError(err).Warn("failed to notify admin")
			}
			return nil
		})
	}

	_ = g.Wait()
}

// Broadcast sends text to every group. report, when non-nil, is called once per
// group as soon as its send completes, possibly from several goroutines at
// once and in no particular order. Broadcast returns after every send has
// finished, with results in the order of groups.
func (d *Dispatcher) Broadcast(ctx context.Context, groups []domain.Group, text string, report func(Result)) []Result {
	results := make([]Result, len(groups))
	if len(groups) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(d.limit)

	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			var err error
			if d.sender == nil {
				err = errors.New("dispatcher has no sender")
			} else {
				err = d.send(ctx, group.ID, text)
			}

			result := Result{Group: group, Err: err}
			results[i] = result

			fields := logging.Fields{
				"event":   "broadcast_send",
				"chat_id": group.ID,
				"title":   group.Title,
			}
			if err != nil {
				d.logger.WithFields(fields).WithError(err).Warn("broadcast to group failed")
			} else {
				d.logger.WithFields(fields).Debug("broadcast to group delivered")
			}

			if report != nil {
				report(result)
			}
			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) error {
	_, err := d.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return err
}

// Preview shortens text for delivery reports. Every newline becomes a space,
// not only the first one, so multi-line posts stay on one report line. Text
// of at most 32 characters is returned as is; longer text is cut to leave
// room for "...", backed up to the last space when the cut lands inside a word.
func Preview(text string) string {
	flat := strings.ReplaceAll(text, "\r\n", " ")
	flat = strings.ReplaceAll(flat, "\n", " ")

	runes := []rune(flat)
	if len(runes) <= previewLimit {
		return flat
	}

	end := previewLimit - len(previewOmission)
	cut := runes[:end]
	if runes[end] != ' ' {
		if idx := lastSpace(cut); idx >= 0 {
			cut = cut[:idx]
		}
	}

	return string(cut) + previewOmission
}

func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
