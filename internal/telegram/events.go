package telegram

import (
	"strings"
	"unicode"

	"github.com/go-telegram/bot/models"
)

// Recognized bot commands.
const (
	CommandStart  = "start"
	CommandGroups = "groups"
	CommandRemove = "remove"
)

// Event is one of the inbound shapes the router handles: StartEvent,
// GroupsEvent, RemoveEvent, BotAddedEvent or TextEvent.
type Event interface {
	meta() Meta
}

// Meta identifies who sent an event and where.
type Meta struct {
	UserID int64
	Chat   models.Chat
}

func (m Meta) meta() Meta { return m }

// StartEvent is the /start command.
type StartEvent struct{ Meta }

// GroupsEvent is the /groups command.
type GroupsEvent struct{ Meta }

// RemoveEvent is the /remove command; Arg is the raw, trimmed argument.
type RemoveEvent struct {
	Meta
	Arg string
}

// BotAddedEvent fires when the bot itself appears among new chat members.
type BotAddedEvent struct{ Meta }

// TextEvent is any other text message.
type TextEvent struct {
	Meta
	Text string
}

// identity is the bot's own account.
type identity struct {
	id       int64
	username string
}

// parseEvent classifies update. ok is false for updates the router ignores.
// Commands take precedence over generic text, so /start, /groups and /remove
// are never treated as broadcast payloads.
func parseEvent(update *models.Update, self identity) (Event, bool) {
	if update == nil || update.Message == nil {
		return nil, false
	}

	msg := update.Message
	meta := Meta{UserID: userID(msg.From), Chat: msg.Chat}

	if self.id != 0 {
		for _, member := range msg.NewChatMembers {
			if member.ID == self.id {
				return BotAddedEvent{Meta: meta}, true
			}
		}
	}

	if strings.TrimSpace(msg.Text) == "" {
		return nil, false
	}

	if name, arg, ok := parseCommand(msg.Text, self.username); ok {
		switch name {
		case CommandStart:
			return StartEvent{Meta: meta}, true
		case CommandGroups:
			return GroupsEvent{Meta: meta}, true
		case CommandRemove:
			return RemoveEvent{Meta: meta, Arg: arg}, true
		}
	}

	return TextEvent{Meta: meta, Text: msg.Text}, true
}

// parseCommand splits "/name@bot arg..." into name and trimmed arg. A command
// addressed to another bot is not recognized.
func parseCommand(text, botUsername string) (string, string, bool) {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}

	token, rest := trimmed, ""
	if idx := strings.IndexFunc(trimmed, unicode.IsSpace); idx >= 0 {
		token, rest = trimmed[:idx], trimmed[idx:]
	}

	name := token[1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return "", "", false
		}
	}
	if name == "" {
		return "", "", false
	}

	return name, strings.TrimSpace(rest), true
}

func eventName(ev Event) string {
	switch ev.(type) {
	case StartEvent:
		return CommandStart
	case GroupsEvent:
		return CommandGroups
	case RemoveEvent:
		return CommandRemove
	case BotAddedEvent:
		return "bot_added"
	case TextEvent:
		return "text"
	default:
		return "unknown"
	}
}
