package domain

import (
	"strings"
	"time"
)

// Item is a single unit of content produced by an adapter.
type Item interface {
	Timestamp() time.Time
	// Text is the plain-text body, used for searching.
	Text() string
	// Summary is a short markdown rendering suitable for a chat message.
	Summary() string
	// HTML is the sanitized HTML rendering.
	HTML() string
}

// ContainsPhrase reports whether item's body contains phrase verbatim.
func ContainsPhrase(item Item, phrase string) bool {
	return strings.Contains(item.Text(), phrase)
}

// Latest returns the greatest timestamp among items.
func Latest(items []Item) time.Time {
	var latest time.Time
	for _, item := range items {
		if ts := item.Timestamp(); ts.After(latest) {
			latest = ts
		}
	}
	return latest
}
