package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"acc_linker/internal/domain"
)

// Upstream is a chat platform that issues link commands and receives
// notifications.
type Upstream interface {
	Kind() string
	// Connect authenticates if needed; it is a no-op when already connected.
	Connect(ctx context.Context) error
	CheckCommands(ctx context.Context) ([]domain.Command, error)
	PushUpdate(ctx context.Context, chatID string, item domain.Item) error
	ReportDuplicate(ctx context.Context, link domain.Link) error
	ReportPendingVerification(ctx context.Context, link domain.Link) error
	ReportVerified(ctx context.Context, link domain.Link) error
}

// Adapter is a read-only content source polled per linked identity.
type Adapter interface {
	Kind() domain.AdapterKind
	Poll(ctx context.Context, specifier string) ([]domain.Item, error)
}

type Publisher interface {
	Publish(ctx context.Context, event domain.RelayEvent) error
	Close() error
}
