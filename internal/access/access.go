// Package access decides who may use admin-only bot commands.
package access

import "github.com/go-telegram/bot/models"

// AdminSet is the fixed whitelist of Telegram user IDs allowed to list,
// remove and broadcast. It is immutable once built.
type AdminSet struct {
	ids     []int64
	members map[int64]struct{}
}

// NewAdminSet builds an AdminSet preserving the configured order and
// dropping repeated IDs.
func NewAdminSet(ids []int64) AdminSet {
	set := AdminSet{
		ids:     make([]int64, 0, len(ids)),
		members: make(map[int64]struct{}, len(ids)),
	}

	for _, id := range ids {
		if _, seen := set.members[id]; seen {
			continue
		}
		set.members[id] = struct{}{}
		set.ids = append(set.ids, id)
	}

	return set
}

// IsAdmin reports whether userID is whitelisted.
func (s AdminSet) IsAdmin(userID int64) bool {
	_, ok := s.members[userID]
	return ok
}

// IDs returns a copy of the admin IDs in configuration order.
func (s AdminSet) IDs() []int64 {
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of admins.
func (s AdminSet) Len() int {
	return len(s.ids)
}

// IsPrivateChat reports whether chat is a one-to-one conversation.
func IsPrivateChat(chat models.Chat) bool {
	return chat.Type == models.ChatTypePrivate
}

// Decision is the outcome of gating an admin-only command.
type Decision int

const (
	// Allowed means the command may run.
	Allowed Decision = iota
	// DeniedNotPrivate means the command arrived outside a private chat.
	DeniedNotPrivate
	// DeniedNotAdmin means the sender is not whitelisted.
	DeniedNotAdmin
)

// Check applies the admin gate: private chat first, then admin membership.
func (s AdminSet) Check(chat models.Chat, userID int64) Decision {
	if !IsPrivateChat(chat) {
		return DeniedNotPrivate
	}
	if !s.IsAdmin(userID) {
		return DeniedNotAdmin
	}
	return Allowed
}
