package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"acc_linker/internal/config"
	"acc_linker/internal/domain"
	"acc_linker/internal/linkstate"
	"acc_linker/internal/registry"
)

// Reconciler runs one reconciliation cycle at a time: it drains upstream
// commands into the registry, polls every link of that upstream and relays
// what the state machine reports as new.
type Reconciler struct {
	upstreams []Upstream
	adapters  map[domain.AdapterKind]Adapter
	registry  *registry.Registry
	machine   *linkstate.Machine
	publisher Publisher
	logger    *slog.Logger
	config    config.ReconcileConfig
}

func NewReconciler(
	upstreams []Upstream,
	adapters []Adapter,
	reg *registry.Registry,
	machine *linkstate.Machine,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.ReconcileConfig,
) *Reconciler {
	byKind := make(map[domain.AdapterKind]Adapter, len(adapters))
	for _, a := range adapters {
		byKind[a.Kind()] = a
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}

	return &Reconciler{
		upstreams: upstreams,
		adapters:  byKind,
		registry:  reg,
		machine:   machine,
		publisher: publisher,
		logger:    logger.With("component", "reconciler"),
		config:    cfg,
	}
}

// polled pairs a link's pre-poll state with the state machine's verdict.
type polled struct {
	before  domain.Link
	after   domain.Link
	outcome linkstate.Outcome
	skipped bool
}

// Reconcile runs one cycle over every upstream. Failures are isolated to the
// upstream or link they happened on and counted in the returned stats.
func (r *Reconciler) Reconcile(ctx context.Context) (*domain.CycleStats, error) {
	startTime := time.Now()
	stats := &domain.CycleStats{}

	if err := r.registry.Flush(ctx); err != nil {
		r.logger.Error("retrying pending writes failed", "error", err)
		stats.Errors++
	}

	for _, up := range r.upstreams {
		if ctx.Err() != nil {
			break
		}
		stats.Upstreams++
		r.reconcileUpstream(ctx, up, stats)
	}

	stats.Duration = time.Since(startTime)

	r.logger.Info("cycle completed",
		"commands", stats.Commands,
		"added", stats.Added,
		"removed", stats.Removed,
		"polled", stats.Polled,
		"verified", stats.Verified,
		"relayed", stats.Relayed,
		"suppressed", stats.Suppressed,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	return stats, ctx.Err()
}

func (r *Reconciler) reconcileUpstream(ctx context.Context, up Upstream, stats *domain.CycleStats) {
	logger := r.logger.With("upstream", up.Kind())

	if err := up.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		stats.Errors++
		return
	}

	commands, err := up.CheckCommands(ctx)
	if err != nil {
		logger.Error("check commands failed", "error", err)
		stats.Errors++
		return
	}

	for _, cmd := range commands {
		stats.Commands++
		r.applyCommand(ctx, up, cmd, stats, logger)
	}

	results := r.pollAll(ctx, r.registry.ByUpstream(up.Kind()), logger)
	for _, res := range results {
		if ctx.Err() != nil {
			logger.Info("cycle interrupted", "error", ctx.Err())
			return
		}
		if res.skipped {
			continue
		}
		stats.Polled++
		if res.outcome.Err != nil {
			stats.Errors++
			continue
		}
		r.settle(ctx, up, res, stats, logger)
	}
}

func (r *Reconciler) applyCommand(ctx context.Context, up Upstream, cmd domain.Command, stats *domain.CycleStats, logger *slog.Logger) {
	switch cmd.Kind {
	case domain.CommandLink:
		if existing, ok := r.registry.FindDuplicate(cmd.Link); ok {
			stats.Duplicates++
			if err := up.ReportDuplicate(ctx, existing); err != nil {
				logger.Error("report duplicate failed", "error", err)
				stats.Errors++
			}
			return
		}

		candidate := cmd.Link
		candidate.ID = 0
		candidate.Verified = false
		candidate.LastUpdate = time.Time{}
		r.registry.Add(candidate)
		stats.Added++

		logger.Info("link added",
			"user_id", candidate.UserID,
			"adapter", candidate.AdapterKind,
			"linked_user_id", candidate.LinkedUserID,
		)

		if err := up.ReportPendingVerification(ctx, candidate); err != nil {
			logger.Error("report pending verification failed", "error", err)
			stats.Errors++
		}
		r.publish(ctx, domain.NewLinkEvent(domain.EventLinkPending, candidate))

	case domain.CommandUnlink:
		r.remove(ctx, domain.SameLink(cmd.Link), stats, logger)

	case domain.CommandUnlinkAll:
		r.remove(ctx, domain.OwnedBy(cmd.UpstreamKind, cmd.UserID), stats, logger)

	default:
		logger.Warn("unknown command kind", "kind", cmd.Kind)
	}
}

func (r *Reconciler) remove(ctx context.Context, match domain.LinkMatcher, stats *domain.CycleStats, logger *slog.Logger) {
	removed, err := r.registry.Remove(ctx, match)
	if err != nil {
		logger.Error("durable delete failed, will retry", "error", err)
		stats.Errors++
	}
	stats.Removed += len(removed)

	for _, link := range removed {
		logger.Info("link removed",
			"user_id", link.UserID,
			"adapter", link.AdapterKind,
			"linked_user_id", link.LinkedUserID,
		)
		r.publish(ctx, domain.NewLinkEvent(domain.EventLinkRemoved, link))
	}
}

// pollAll polls links concurrently on a bounded pool. Each goroutine only
// touches its own copy of a link; results are returned in input order.
func (r *Reconciler) pollAll(ctx context.Context, links []domain.Link, logger *slog.Logger) []polled {
	results := make([]polled, len(links))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)

	for i := range links {
		results[i].before = links[i]
		results[i].after = links[i]

		adapter, ok := r.adapters[links[i].AdapterKind]
		if !ok {
			logger.Warn("no adapter configured",
				"adapter", links[i].AdapterKind,
				"linked_user_id", links[i].LinkedUserID,
			)
			results[i].skipped = true
			continue
		}

		g.Go(func() error {
			pollCtx, cancel := context.WithTimeout(gctx, r.config.PollTimeout)
			defer cancel()
			results[i].outcome = r.machine.Poll(pollCtx, &results[i].after, adapter)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func (r *Reconciler) settle(ctx context.Context, up Upstream, res polled, stats *domain.CycleStats, logger *slog.Logger) {
	link := res.after
	if !r.registry.Apply(link) {
		return
	}

	justVerified := res.outcome.Transitioned && !res.before.Verified
	if justVerified {
		stats.Verified++
		persisted, err := r.registry.Persist(ctx, link)
		if err != nil {
			logger.Error("persist verified link failed, will retry",
				"linked_user_id", link.LinkedUserID,
				"error", err,
			)
			stats.Errors++
		} else {
			link = persisted
		}

		logger.Info("link verified",
			"user_id", link.UserID,
			"adapter", link.AdapterKind,
			"linked_user_id", link.LinkedUserID,
		)

		if err := up.ReportVerified(ctx, link); err != nil {
			logger.Error("report verified failed", "error", err)
			stats.Errors++
		}
		r.publish(ctx, domain.NewLinkEvent(domain.EventLinkVerified, link))
	}

	if !link.Verified {
		stats.Suppressed += len(res.outcome.NewItems)
		return
	}

	for _, item := range res.outcome.NewItems {
		if err := up.PushUpdate(ctx, link.ChatID, item); err != nil {
			logger.Error("push update failed",
				"chat_id", link.ChatID,
				"linked_user_id", link.LinkedUserID,
				"error", err,
			)
			stats.Errors++
			continue
		}
		stats.Relayed++
		r.publish(ctx, domain.NewItemEvent(link, item))
	}

	// A just-verified link was written with its current mark by Persist.
	if !justVerified && link.Persisted() && link.LastUpdate.After(res.before.LastUpdate) {
		if err := r.registry.Checkpoint(ctx, link); err != nil {
			logger.Warn("checkpoint failed", "linked_user_id", link.LinkedUserID, "error", err)
		}
	}
}

func (r *Reconciler) publish(ctx context.Context, event domain.RelayEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish event failed", "type", event.Type, "error", err)
	}
}
