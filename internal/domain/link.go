package domain

import (
	"fmt"
	"time"
)

// ChallengePhrase is what a user posts on the adapter side to prove they own
// the linked identity. Matched as a literal, case-sensitive substring.
const ChallengePhrase = "I love lor-bot!"

type AdapterKind string

const (
	LinuxOrgRu AdapterKind = "LinuxOrgRu"
)

var knownAdapters = map[AdapterKind]struct{}{
	LinuxOrgRu: {},
}

// ParseAdapterKind matches s exactly against the known adapter kinds.
func ParseAdapterKind(s string) (AdapterKind, error) {
	kind := AdapterKind(s)
	if _, ok := knownAdapters[kind]; !ok {
		return "", fmt.Errorf("unknown adapter kind %q", s)
	}
	return kind, nil
}

func (k AdapterKind) String() string {
	return string(k)
}

// Link binds an upstream chat identity to an identity on an adapter.
//
// LastUpdate is the high-water mark of adapter content already seen; the zero
// time means the link has never been polled. ID is zero until the link is
// written to durable storage, which happens once it is verified.
type Link struct {
	ID           int64       `json:"id,omitempty"`
	UpstreamKind string      `json:"upstream_kind"`
	ChatID       string      `json:"chat_id"`
	UserID       string      `json:"user_id"`
	AdapterKind  AdapterKind `json:"adapter_kind"`
	LinkedUserID string      `json:"linked_user_id"`
	LastUpdate   time.Time   `json:"last_update"`
	Verified     bool        `json:"verified"`
}

// SameAs reports whether l and other are the same link. ID, LastUpdate and
// Verified are not part of a link's identity.
func (l Link) SameAs(other Link) bool {
	return l.UpstreamKind == other.UpstreamKind &&
		l.ChatID == other.ChatID &&
		l.UserID == other.UserID &&
		l.AdapterKind == other.AdapterKind &&
		l.LinkedUserID == other.LinkedUserID
}

// Persisted reports whether the link has a durable row.
func (l Link) Persisted() bool {
	return l.ID != 0
}

// LinkMatcher selects links for removal.
type LinkMatcher func(Link) bool

// SameLink matches links identical to candidate.
func SameLink(candidate Link) LinkMatcher {
	return func(l Link) bool {
		return l.SameAs(candidate)
	}
}

// OwnedBy matches every link of userID on the given upstream.
func OwnedBy(upstreamKind, userID string) LinkMatcher {
	return func(l Link) bool {
		return l.UpstreamKind == upstreamKind && l.UserID == userID
	}
}
