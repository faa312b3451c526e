// Package registry holds the live set of links and mirrors verified links to
// durable storage.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"acc_linker/internal/domain"
)

// Registry is safe for concurrent use. Mutations are expected from a single
// reconciler goroutine; readers (such as the HTTP surface) take snapshots.
type Registry struct {
	mu    sync.RWMutex
	links []*domain.Link
	// pendingDeletes holds verified links removed from memory whose durable
	// delete has not succeeded yet.
	pendingDeletes []domain.Link
	loaded         bool

	store     LinkStore
	txManager TransactionManager
	logger    *slog.Logger
}

func New(store LinkStore, txManager TransactionManager, logger *slog.Logger) *Registry {
	return &Registry{
		store:     store,
		txManager: txManager,
		logger:    logger.With("component", "registry"),
	}
}

// Load replaces the in-memory set with the persisted links.
func (r *Registry) Load(ctx context.Context) error {
	links, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.links = make([]*domain.Link, 0, len(links))
	for i := range links {
		link := links[i]
		r.links = append(r.links, &link)
	}
	r.loaded = true

	r.logger.Info("links loaded", "count", len(links))
	return nil
}

// Loaded reports whether Load has completed.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// FindDuplicate returns the registered link that is the same link as candidate.
func (r *Registry) FindDuplicate(candidate domain.Link) (domain.Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if existing := r.find(candidate); existing != nil {
		return *existing, true
	}
	return domain.Link{}, false
}

// Add registers link in memory only.
func (r *Registry) Add(link domain.Link) {
	r.mu.Lock()
	defer r.mu.Unlock()

	link.ID = 0
	r.links = append(r.links, &link)
}

// Persist writes a verified link to the store and records its id. A link
// that already has an id is left alone. A queued delete of the same link is
// dropped once the write succeeds.
func (r *Registry) Persist(ctx context.Context, link domain.Link) (domain.Link, error) {
	r.mu.RLock()
	existing := r.find(link)
	var current domain.Link
	if existing != nil {
		current = *existing
	}
	r.mu.RUnlock()

	if existing == nil {
		return link, fmt.Errorf("persist %s/%s: link not registered", link.AdapterKind, link.LinkedUserID)
	}
	if current.Persisted() {
		return current, nil
	}

	id, err := r.store.Upsert(ctx, &current)
	if err != nil {
		return current, fmt.Errorf("upsert link: %w", err)
	}

	r.mu.Lock()
	if entry := r.find(link); entry != nil {
		entry.ID = id
		current = *entry
	}
	// The upsert reused any row a queued delete still targets.
	r.pendingDeletes = slices.DeleteFunc(r.pendingDeletes, func(queued domain.Link) bool {
		return queued.SameAs(link)
	})
	r.mu.Unlock()

	return current, nil
}

// Checkpoint stores the high-water mark of a persisted link.
func (r *Registry) Checkpoint(ctx context.Context, link domain.Link) error {
	if !link.Persisted() {
		return nil
	}
	if _, err := r.store.Upsert(ctx, &link); err != nil {
		return fmt.Errorf("checkpoint link: %w", err)
	}
	return nil
}

// Apply copies the poll state of link (LastUpdate, Verified) onto the
// registered entry. LastUpdate only moves forward and Verified is never
// cleared. It returns false if the link is no longer registered.
func (r *Registry) Apply(link domain.Link) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.find(link)
	if entry == nil {
		return false
	}
	if link.LastUpdate.After(entry.LastUpdate) {
		entry.LastUpdate = link.LastUpdate
	}
	if link.Verified {
		entry.Verified = true
	}
	return true
}

// Remove drops every link selected by match. Verified links are also deleted
// from the store inside one transaction; if that fails they are queued and
// retried by Flush. The removed links are returned either way.
func (r *Registry) Remove(ctx context.Context, match domain.LinkMatcher) ([]domain.Link, error) {
	r.mu.Lock()
	var removed []domain.Link
	kept := r.links[:0]
	for _, link := range r.links {
		if match(*link) {
			removed = append(removed, *link)
			continue
		}
		kept = append(kept, link)
	}
	for i := len(kept); i < len(r.links); i++ {
		r.links[i] = nil
	}
	r.links = kept
	r.mu.Unlock()

	var durable []domain.Link
	for _, link := range removed {
		if link.Verified {
			durable = append(durable, link)
		}
	}
	if len(durable) == 0 {
		return removed, nil
	}

	if err := r.deleteAll(ctx, durable); err != nil {
		r.mu.Lock()
		r.pendingDeletes = append(r.pendingDeletes, durable...)
		r.mu.Unlock()
		return removed, err
	}
	return removed, nil
}

// Flush retries durable writes that previously failed: persisting verified
// links without an id, and deleting removed links.
func (r *Registry) Flush(ctx context.Context) error {
	var errs []error

	r.mu.Lock()
	deletes := r.pendingDeletes
	r.pendingDeletes = nil
	r.mu.Unlock()

	if len(deletes) > 0 {
		if err := r.deleteAll(ctx, deletes); err != nil {
			r.mu.Lock()
			r.pendingDeletes = append(r.pendingDeletes, deletes...)
			r.mu.Unlock()
			errs = append(errs, err)
		} else {
			r.logger.Info("pending deletes flushed", "count", len(deletes))
		}
	}

	for _, link := range r.pendingPersists() {
		if _, err := r.Persist(ctx, link); err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Info("pending link persisted",
			"user_id", link.UserID,
			"linked_user_id", link.LinkedUserID,
		)
	}

	return errors.Join(errs...)
}

// Snapshot returns a copy of every registered link.
func (r *Registry) Snapshot() []domain.Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Link, len(r.links))
	for i, link := range r.links {
		out[i] = *link
	}
	return out
}

// ByUpstream returns a copy of the links registered through upstreamKind.
func (r *Registry) ByUpstream(upstreamKind string) []domain.Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Link
	for _, link := range r.links {
		if link.UpstreamKind == upstreamKind {
			out = append(out, *link)
		}
	}
	return out
}

func (r *Registry) pendingPersists() []domain.Link {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Link
	for _, link := range r.links {
		if link.Verified && !link.Persisted() {
			out = append(out, *link)
		}
	}
	return out
}

func (r *Registry) deleteAll(ctx context.Context, links []domain.Link) error {
	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, link := range links {
			if err := r.store.Delete(txCtx, link); err != nil {
				return fmt.Errorf("delete %s/%s: %w", link.AdapterKind, link.LinkedUserID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete links: %w", err)
	}
	return nil
}

// find must be called with r.mu held.
func (r *Registry) find(candidate domain.Link) *domain.Link {
	for _, link := range r.links {
		if link.SameAs(candidate) {
			return link
		}
	}
	return nil
}
