// Package session provides TTL-bounded conversation history storage
// keyed by reply thread. Histories are filtered and trimmed on every
// write so that model input never grows without bound.
package session

import "fmt"

// Kind classifies a conversation item.
type Kind string

const (
	// KindMessage is a plain dialogue turn (user or assistant).
	KindMessage Kind = "message"

	// KindToolCall records a tool invocation or its output. Tool records
	// are kept out of persisted history; they are transcript noise for
	// the next turn.
	KindToolCall Kind = "tool_call"

	// KindPlaceholder marks a reserved placeholder item produced
	// upstream. Never valid as model input.
	KindPlaceholder Kind = "placeholder"
)

// Item is a single conversation turn or event.
type Item struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Kind    Kind   `json:"kind,omitempty"`
	Seq     int    `json:"seq"`
}

// ThreadKey identifies the reply thread a conversation is scoped to.
// Identity is exact-match on both fields; there is no fuzzy grouping.
type ThreadKey struct {
	AnchorMessageID int64
	ChatID          int64
}

// String renders the backend key, e.g. "bot:100:200".
func (k ThreadKey) String() string {
	return fmt.Sprintf("bot:%d:%d", k.AnchorMessageID, k.ChatID)
}

// Filter drops tool-invocation records and placeholder markers,
// keeping only items usable as model input. Filtering is idempotent.
func Filter(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		switch it.Kind {
		case KindToolCall, KindPlaceholder:
			continue
		}
		out = append(out, it)
	}
	return out
}

// Trim keeps the most recent max items, dropping the oldest first.
// Relative order is preserved.
func Trim(items []Item, max int) []Item {
	if max <= 0 || len(items) <= max {
		return items
	}
	return items[len(items)-max:]
}
