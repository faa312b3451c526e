// Package linkstate decides, per link and per poll, which adapter content is
// new and when a link becomes verified.
package linkstate

import (
	"context"
	"log/slog"

	"acc_linker/internal/domain"
)

// Adapter fetches the current content of one adapter identity.
type Adapter interface {
	Poll(ctx context.Context, specifier string) ([]domain.Item, error)
}

// Outcome is the result of polling one link.
type Outcome struct {
	NewItems []domain.Item
	// Transitioned is true when this poll flipped the link to verified.
	Transitioned bool
	Err          error
}

type Machine struct {
	phrase string
	logger *slog.Logger
}

func NewMachine(phrase string, logger *slog.Logger) *Machine {
	return &Machine{
		phrase: phrase,
		logger: logger,
	}
}

// Poll fetches link's adapter content and advances link in place.
//
// On adapter failure link is left untouched and Outcome.Err is set. A link
// whose LastUpdate is zero only records its baseline: the backlog present at
// registration time is never returned. Afterwards, items strictly newer than
// LastUpdate are returned and LastUpdate moves to the newest fetched
// timestamp. Verification scans every fetched item, old or new.
func (m *Machine) Poll(ctx context.Context, link *domain.Link, adapter Adapter) Outcome {
	items, err := adapter.Poll(ctx, link.LinkedUserID)
	if err != nil {
		m.logger.Warn("adapter poll failed",
			"adapter", link.AdapterKind,
			"linked_user_id", link.LinkedUserID,
			"error", err,
		)
		return Outcome{Err: err}
	}

	if len(items) == 0 {
		return Outcome{}
	}

	latest := domain.Latest(items)

	var outcome Outcome
	if !link.Verified && m.containsChallenge(items) {
		link.Verified = true
		outcome.Transitioned = true
	}

	if latest.Equal(link.LastUpdate) {
		return outcome
	}

	if link.LastUpdate.IsZero() {
		link.LastUpdate = latest
		m.logger.Debug("baseline recorded",
			"linked_user_id", link.LinkedUserID,
			"last_update", latest,
			"skipped", len(items),
		)
		return outcome
	}

	for _, item := range items {
		if item.Timestamp().After(link.LastUpdate) {
			outcome.NewItems = append(outcome.NewItems, item)
		}
	}

	if latest.After(link.LastUpdate) {
		link.LastUpdate = latest
	}

	return outcome
}

func (m *Machine) containsChallenge(items []domain.Item) bool {
	for _, item := range items {
		if domain.ContainsPhrase(item, m.phrase) {
			return true
		}
	}
	return false
}
