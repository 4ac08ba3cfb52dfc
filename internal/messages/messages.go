// Package messages holds the localized texts the bot sends.
package messages

import (
	"fmt"
	"html"
	"strings"

	"tg_group_relay_bot/internal/domain"
)

// Catalog is the set of reply texts for one language. HTML texts use the
// subset of markup Telegram accepts with parse_mode=HTML.
type Catalog struct {
	Welcome          string
	Forbidden        string
	EmptyList        string
	ListHeader       string
	ListIDLabel      string
	ListTitleLabel   string
	RemoveUsage      string
	InternalError    string
	groupAdded       string
	groupRemoved     string
	broadcastOK      string
	broadcastFailure string
}

var catalogs = map[string]Catalog{
	"ru": {
		Welcome: "Салам алейкум, брат\n\nЧтобы посмотреть список добавленных групп " +
			"отправь команду /groups, для того, чтобы удалить группу из списка " +
			"отправь команду /remove {id-группы}, чтобы разослать сообщения во все " +
			"группы, просто отправь мне соответствующий текст",
		Forbidden:        "Доступ запрещён",
		EmptyList:        "Список групп пуст",
		ListHeader:       "<b>Список добавленных групп:</b>",
		ListIDLabel:      "ID",
		ListTitleLabel:   "Название",
		RemoveUsage:      `Необходимо указать ID группы, отправьте сообщение в формате "/remove {ID-Группы}"`,
		InternalError:    "Внутренняя ошибка, попробуйте позже",
		groupAdded:       "Бот был успешно добавлен в чат <b>%s</b>",
		groupRemoved:     "Бот был успешно удалён из чата <b>%s</b>",
		broadcastOK:      `Сообщение "%s" было успешно добавлено в группу <b>%s</b>`,
		broadcastFailure: `Ошибка отправки сообщения "%s" в группу %s: %s`,
	},
	"en": {
		Welcome: "Hello!\n\nSend /groups to see the list of added groups, " +
			"/remove {group-id} to remove a group from the list, or just send me " +
			"any text to broadcast it to every group",
		Forbidden:        "Access denied",
		EmptyList:        "The group list is empty",
		ListHeader:       "<b>Added groups:</b>",
		ListIDLabel:      "ID",
		ListTitleLabel:   "Title",
		RemoveUsage:      `A group ID is required, send the message as "/remove {group-id}"`,
		InternalError:    "Internal error, please try again later",
		groupAdded:       "The bot was added to chat <b>%s</b>",
		groupRemoved:     "The bot was removed from chat <b>%s</b>",
		broadcastOK:      `Message "%s" was delivered to group <b>%s</b>`,
		broadcastFailure: `Failed to send message "%s" to group %s: %s`,
	},
}

// For returns the catalog for lang, falling back to Russian.
func For(lang string) Catalog {
	if c, ok := catalogs[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return c
	}
	return catalogs["ru"]
}

// GroupAdded is the admin notification sent when the bot joins a chat.
func (c Catalog) GroupAdded(title string) string {
	return fmt.Sprintf(c.groupAdded, html.EscapeString(title))
}

// GroupRemoved is the admin notification sent after /remove. ref is the
// parsed chat id in canonical decimal form, so "/remove +100" reports "100".
func (c Catalog) GroupRemoved(ref string) string {
	return fmt.Sprintf(c.groupRemoved, html.EscapeString(ref))
}

// BroadcastDelivered reports a successful send of preview to title.
func (c Catalog) BroadcastDelivered(preview, title string) string {
	return fmt.Sprintf(c.broadcastOK, html.EscapeString(preview), html.EscapeString(title))
}

// BroadcastFailed reports a failed send of preview to title. It is sent as
// plain text, so nothing is escaped.
func (c Catalog) BroadcastFailed(preview, title string, err error) string {
	return fmt.Sprintf(c.broadcastFailure, preview, title, err)
}

// GroupList renders groups as ID/title pairs under the list header.
func (c Catalog) GroupList(groups []domain.Group) string {
	entries := make([]string, 0, len(groups))
	for _, g := range groups {
		entries = append(entries, fmt.Sprintf("<b>%s</b>: %d\n<b>%s</b>: %s",
			c.ListIDLabel, g.ID, c.ListTitleLabel, html.EscapeString(g.Title)))
	}

	return c.ListHeader + "\n\n" + strings.Join(entries, "\n\n")
}
