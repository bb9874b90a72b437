// Package sync reconciles events pulled from every connected provider
// into the canonical store.  Each provider is its own branch: branches run
// concurrently, fail independently, and join before the result is
// aggregated.  The provider is the source of truth for its own events, so
// reconciliation is one-way: create what is new, update what changed,
// delete what the provider no longer returns.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/provider"
)

// DefaultWindowMonths is the half-width of the sync window when the
// caller supplies no explicit range.
const DefaultWindowMonths = 6

// EventStore is the slice of event persistence the orchestrator needs.
// *repository.EventRepo satisfies it.
type EventStore interface {
	ListForSync(ctx context.Context, userID uint64, p model.ProviderType, start, end time.Time) ([]model.Event, error)
	Create(ctx context.Context, e model.Event) error
	Update(ctx context.Context, e model.Event) error
	Delete(ctx context.Context, userID uint64, id string) error
}

// IntegrationStore is the slice of integration persistence the
// orchestrator needs.  *repository.IntegrationRepo satisfies it.
type IntegrationStore interface {
	ListActive(ctx context.Context, userID uint64) ([]model.UserIntegration, error)
	UpdateTokens(ctx context.Context, in model.UserIntegration) error
	Deactivate(ctx context.Context, userID uint64, p model.ProviderType) error
	TouchLastSync(ctx context.Context, userID uint64, p model.ProviderType, at time.Time) error
}

// AdapterRegistry resolves the adapter for a provider type.
// *provider.Registry satisfies it.
type AdapterRegistry interface {
	Get(t model.ProviderType) (provider.Adapter, bool)
}

// Orchestrator pulls, merges and persists events for one user at a time.
type Orchestrator struct {
	events          EventStore
	integrations    IntegrationStore
	adapters        AdapterRegistry
	logger          *slog.Logger
	providerTimeout time.Duration
}

// NewOrchestrator wires an orchestrator.  providerTimeout bounds each
// individual provider call; zero falls back to 30s.
func NewOrchestrator(events EventStore, integrations IntegrationStore, adapters AdapterRegistry, logger *slog.Logger, providerTimeout time.Duration) *Orchestrator {
	if providerTimeout <= 0 {
		providerTimeout = 30 * time.Second
	}
	return &Orchestrator{
		events:          events,
		integrations:    integrations,
		adapters:        adapters,
		logger:          logger,
		providerTimeout: providerTimeout,
	}
}

// DefaultWindow is the [now − 6 months, now + 6 months] range used when a
// sync request names no explicit range.
func DefaultWindow(now time.Time) provider.Window {
	return provider.Window{
		Start: now.AddDate(0, -DefaultWindowMonths, 0),
		End:   now.AddDate(0, DefaultWindowMonths, 0),
	}
}

type branchOutcome struct {
	provider model.ProviderType
	synced   int
	created  int
	updated  int
	deleted  int
	err      error
}

// Run syncs every active provider for the user over the window and
// returns the aggregate.  A nil error means the job completed, possibly
// with per-provider errors recorded in the result.  A non-nil error means
// every branch failed (or there was an internal failure) and the job as a
// whole should be marked failed.
func (o *Orchestrator) Run(ctx context.Context, userID uint64, w provider.Window) (*model.SyncResult, error) {
	integs, err := o.integrations.ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}

	result := &model.SyncResult{}
	if len(integs) == 0 {
		// Nothing connected is not a failure; the result is just empty.
		return result, nil
	}

	outcomes := make(chan branchOutcome, len(integs))
	var wg sync.WaitGroup
	for _, integ := range integs {
		wg.Add(1)
		go func(integ model.UserIntegration) {
			defer wg.Done()
			outcomes <- o.syncProvider(ctx, integ, w)
		}(integ)
	}
	wg.Wait()
	close(outcomes)

	var failures []string
	for out := range outcomes {
		if out.err != nil {
			result.Errors = append(result.Errors, model.ProviderSyncError{
				Provider: out.provider,
				Message:  out.err.Error(),
			})
			failures = append(failures, fmt.Sprintf("%s: %v", out.provider, out.err))
			continue
		}
		result.Synced += out.synced
		result.Created += out.created
		result.Updated += out.updated
		result.Deleted += out.deleted
	}

	if len(failures) == len(integs) {
		return result, errors.New("all providers failed: " + strings.Join(failures, "; "))
	}
	return result, nil
}

// syncProvider runs one provider branch: fetch (with one refresh-and-retry
// on an expired access token), then diff against the stored set.
func (o *Orchestrator) syncProvider(ctx context.Context, integ model.UserIntegration, w provider.Window) branchOutcome {
	out := branchOutcome{provider: integ.ProviderType}

	adapter, ok := o.adapters.Get(integ.ProviderType)
	if !ok {
		out.err = fmt.Errorf("no adapter registered for %s", integ.ProviderType)
		return out
	}

	incoming, err := o.fetch(ctx, adapter, integ, w)
	if err != nil {
		out.err = err
		return out
	}
	out.synced = len(incoming)

	stored, err := o.events.ListForSync(ctx, integ.UserID, integ.ProviderType, w.Start, w.End)
	if err != nil {
		out.err = fmt.Errorf("load stored events: %w", err)
		return out
	}
	existing := make(map[string]model.Event, len(stored))
	for _, e := range stored {
		existing[e.ProviderEventID] = e
	}

	// Upserts apply in the order the provider returned them.
	for _, ev := range incoming {
		prev, ok := existing[ev.ProviderEventID]
		if !ok {
			if err := o.events.Create(ctx, ev); err != nil {
				out.err = fmt.Errorf("create event %s: %w", ev.ID, err)
				return out
			}
			out.created++
			continue
		}
		delete(existing, ev.ProviderEventID)
		if ev.Equal(prev) {
			continue // unchanged, skip the write
		}
		if err := o.events.Update(ctx, ev); err != nil {
			out.err = fmt.Errorf("update event %s: %w", ev.ID, err)
			return out
		}
		out.updated++
	}

	// Whatever the provider stopped returning inside the window was
	// cancelled on the provider side.
	for _, gone := range existing {
		if err := o.events.Delete(ctx, integ.UserID, gone.ID); err != nil {
			out.err = fmt.Errorf("delete event %s: %w", gone.ID, err)
			return out
		}
		out.deleted++
	}

	if err := o.integrations.TouchLastSync(ctx, integ.UserID, integ.ProviderType, time.Now().UTC()); err != nil {
		o.logger.Warn("record last sync failed", "provider", integ.ProviderType, "error", err)
	}
	o.logger.Info("provider branch synced",
		"provider", integ.ProviderType, "user", integ.UserID,
		"seen", out.synced, "created", out.created, "updated", out.updated, "deleted", out.deleted)
	return out
}

// fetch lists events with an independent per-call timeout, refreshing the
// access token once if the provider rejects it.  A dead refresh token
// deactivates the integration.
func (o *Orchestrator) fetch(ctx context.Context, adapter provider.Adapter, integ model.UserIntegration, w provider.Window) ([]model.Event, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	events, err := adapter.ListEvents(callCtx, integ, provider.Window{Start: w.Start, End: w.End})
	cancel()
	if err == nil {
		return events, nil
	}
	if !errors.Is(err, provider.ErrAuthExpired) {
		return nil, err
	}

	refreshCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	refreshed, rerr := adapter.RefreshToken(refreshCtx, integ)
	cancel()
	if rerr != nil {
		if errors.Is(rerr, provider.ErrReauthRequired) {
			if derr := o.integrations.Deactivate(ctx, integ.UserID, integ.ProviderType); derr != nil {
				o.logger.Error("deactivate integration failed", "provider", integ.ProviderType, "error", derr)
			}
			o.logger.Warn("integration deactivated, reconnect required",
				"provider", integ.ProviderType, "user", integ.UserID)
		}
		return nil, rerr
	}
	if uerr := o.integrations.UpdateTokens(ctx, refreshed); uerr != nil {
		o.logger.Warn("persist refreshed tokens failed", "provider", integ.ProviderType, "error", uerr)
	}

	retryCtx, cancel := context.WithTimeout(ctx, o.providerTimeout)
	defer cancel()
	return adapter.ListEvents(retryCtx, refreshed, provider.Window{Start: w.Start, End: w.End})
}

