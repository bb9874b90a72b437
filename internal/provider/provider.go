// Package provider translates between external calendar platforms and the
// canonical event model.  Each adapter owns one platform's OAuth flow,
// event paging and native representation; callers above this package only
// ever see model.Event and the shared error taxonomy.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

// Window bounds an event fetch.  Adapters return every event overlapping
// [Start, End] and page internally until exhausted.
type Window struct {
	Start time.Time
	End   time.Time
}

// Adapter is the per-platform contract.  All methods honour ctx for
// cancellation and timeouts; every network call suspends, nothing else
// does.
type Adapter interface {
	// Type identifies which platform this adapter speaks to.
	Type() model.ProviderType

	// Authorize exchanges an OAuth authorization code for tokens and
	// returns a populated (unsaved) integration.  Fails with *AuthError on
	// an invalid or expired code and ErrQuotaExceeded on rate limiting.
	Authorize(ctx context.Context, code string) (model.UserIntegration, error)

	// RefreshToken exchanges the integration's refresh token for a new
	// access token.  Fails with ErrReauthRequired when the refresh token
	// itself is no longer valid; the caller must deactivate the
	// integration and prompt a reconnect.
	RefreshToken(ctx context.Context, integ model.UserIntegration) (model.UserIntegration, error)

	// ListEvents fetches every event overlapping the window, already
	// mapped to canonical form.  Fails with ErrAuthExpired when the access
	// token is rejected; callers attempt one refresh-and-retry before
	// surfacing it.
	ListEvents(ctx context.Context, integ model.UserIntegration, w Window) ([]model.Event, error)

	// CreateEvent mirrors a locally created event to the provider and
	// returns the provider's native event id.
	CreateEvent(ctx context.Context, integ model.UserIntegration, ev model.Event) (string, error)

	// UpdateEvent pushes a local edit to the provider.
	UpdateEvent(ctx context.Context, integ model.UserIntegration, ev model.Event) error

	// DeleteEvent removes the event on the provider side.
	DeleteEvent(ctx context.Context, integ model.UserIntegration, providerEventID string) error
}

// Registry holds the configured adapters keyed by provider type.
type Registry struct {
	adapters map[model.ProviderType]Adapter
}

// NewRegistry builds a registry from the given adapters.  Later adapters
// with a duplicate type overwrite earlier ones.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[model.ProviderType]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Type()] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a provider type.
func (r *Registry) Get(t model.ProviderType) (Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// Types lists the registered provider types.
func (r *Registry) Types() []model.ProviderType {
	out := make([]model.ProviderType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}

// httpClient is shared by the REST-based adapters.  Per-call deadlines
// come from the caller's context; this timeout is only a backstop.
var httpClient = &http.Client{Timeout: 60 * time.Second}
