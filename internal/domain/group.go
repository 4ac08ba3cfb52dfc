// Package domain defines shared domain types.
package domain

import (
	"fmt"
	"strings"
)

// Group represents a Telegram chat the bot has been added to. Title is the
// chat title at the time the bot joined and is not kept in sync.
type Group struct {
	ID    int64  `bson:"chat_id" json:"id"`
	Title string `bson:"title" json:"title"`
}

// DedupMode selects how two group records are considered duplicates.
type DedupMode string

const (
	// DedupByRecord treats records as duplicates only when every field is equal.
	// A group with the same id but a different title is kept as a separate record.
	DedupByRecord DedupMode = "record"
	// DedupByID treats records with the same id as duplicates.
	DedupByID DedupMode = "id"
)

// ParseDedupMode converts a configuration value into a DedupMode.
func ParseDedupMode(value string) (DedupMode, error) {
	switch mode := DedupMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case DedupByRecord, DedupByID:
		return mode, nil
	case "":
		return DedupByRecord, nil
	default:
		return "", fmt.Errorf("unknown dedup mode %q", value)
	}
}

// Same reports whether a and b are duplicates under the mode.
func (m DedupMode) Same(a, b Group) bool {
	if m == DedupByID {
		return a.ID == b.ID
	}
	return a == b
}

// Dedup returns groups with duplicates removed, keeping the first occurrence
// of each record in its original position.
func (m DedupMode) Dedup(groups []Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, candidate := range groups {
		duplicate := false
		for _, kept := range out {
			if m.Same(kept, candidate) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, candidate)
		}
	}

	return out
}

// WithoutID returns groups with every record matching id removed.
func WithoutID(groups []Group, id int64) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		if g.ID != id {
			out = append(out, g)
		}
	}

	return out
}
