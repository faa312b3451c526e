package sqlstore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"acc_linker/internal/domain"
)

// Timestamps are stored as unix microseconds so both drivers round-trip them
// without driver-specific time parsing.
type linkRow struct {
	ID           int64  `db:"id"`
	UpstreamKind string `db:"upstream_kind"`
	ChatID       string `db:"chat_id"`
	UserID       string `db:"user_id"`
	AdapterKind  string `db:"adapter_kind"`
	LinkedUserID string `db:"linked_user_id"`
	LastUpdate   int64  `db:"last_update"`
}

func (r linkRow) toDomain() domain.Link {
	return domain.Link{
		ID:           r.ID,
		UpstreamKind: r.UpstreamKind,
		ChatID:       r.ChatID,
		UserID:       r.UserID,
		AdapterKind:  domain.AdapterKind(r.AdapterKind),
		LinkedUserID: r.LinkedUserID,
		LastUpdate:   time.UnixMicro(r.LastUpdate).UTC(),
		Verified:     true,
	}
}

type LinkStore struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewLinkStore(db *sqlx.DB) *LinkStore {
	return &LinkStore{db: db, now: time.Now}
}

// LoadAll returns every persisted link. Only verified links are ever
// persisted, so all returned links are verified.
func (s *LinkStore) LoadAll(ctx context.Context) ([]domain.Link, error) {
	query := `
		SELECT id, upstream_kind, chat_id, user_id, adapter_kind, linked_user_id, last_update
		FROM links
		ORDER BY id`

	var rows []linkRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query); err != nil {
		return nil, err
	}

	links := make([]domain.Link, len(rows))
	for i, r := range rows {
		links[i] = r.toDomain()
	}
	return links, nil
}

// Upsert writes link keyed by its natural key and returns the row id.
// The stored last_update never decreases.
func (s *LinkStore) Upsert(ctx context.Context, link *domain.Link) (int64, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		INSERT INTO links (
			upstream_kind, chat_id, user_id, adapter_kind, linked_user_id,
			last_update, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (upstream_kind, chat_id, user_id, adapter_kind, linked_user_id) DO UPDATE SET
			last_update = CASE
				WHEN excluded.last_update > links.last_update THEN excluded.last_update
				ELSE links.last_update
			END,
			updated_at = excluded.updated_at
		RETURNING id`)

	now := s.now().UnixMicro()
	var id int64
	err := sqlx.GetContext(ctx, exec, &id, query,
		link.UpstreamKind,
		link.ChatID,
		link.UserID,
		string(link.AdapterKind),
		link.LinkedUserID,
		link.LastUpdate.UnixMicro(),
		now,
		now,
	)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Delete removes the row matching link's natural key. Deleting a link that
// was never persisted is not an error.
func (s *LinkStore) Delete(ctx context.Context, link domain.Link) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		DELETE FROM links
		WHERE upstream_kind = ? AND chat_id = ? AND user_id = ?
			AND adapter_kind = ? AND linked_user_id = ?`)

	_, err := exec.ExecContext(ctx, query,
		link.UpstreamKind,
		link.ChatID,
		link.UserID,
		string(link.AdapterKind),
		link.LinkedUserID,
	)
	return err
}
