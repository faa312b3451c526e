package domain

import "time"

type EventType string

const (
	EventLinkPending  EventType = "link.pending"
	EventLinkVerified EventType = "link.verified"
	EventLinkRemoved  EventType = "link.removed"
	EventItemRelayed  EventType = "item.relayed"
)

// RelayEvent describes something the reconciler did, for downstream consumers.
type RelayEvent struct {
	Type EventType `json:"type"`
	Link Link      `json:"link"`
	// ItemTimestamp and ItemSummary are set for EventItemRelayed.
	ItemTimestamp time.Time `json:"item_timestamp,omitzero"`
	ItemSummary   string    `json:"item_summary,omitempty"`
}

func NewLinkEvent(t EventType, link Link) RelayEvent {
	return RelayEvent{Type: t, Link: link}
}

func NewItemEvent(link Link, item Item) RelayEvent {
	return RelayEvent{
		Type:          EventItemRelayed,
		Link:          link,
		ItemTimestamp: item.Timestamp(),
		ItemSummary:   item.Summary(),
	}
}
