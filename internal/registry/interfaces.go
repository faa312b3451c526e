package registry

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"acc_linker/internal/domain"
)

type LinkStore interface {
	LoadAll(ctx context.Context) ([]domain.Link, error)
	Upsert(ctx context.Context, link *domain.Link) (int64, error)
	Delete(ctx context.Context, link domain.Link) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
