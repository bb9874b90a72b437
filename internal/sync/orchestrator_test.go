package sync

import (
	"context"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/provider"
)

// fakeAdapter scripts ListEvents responses and records refreshes.
type fakeAdapter struct {
	providerType model.ProviderType
	events       []model.Event
	listErrs     []error // consumed one per ListEvents call, nil = success
	refreshErr   error
	refreshCalls int
}

func (f *fakeAdapter) Type() model.ProviderType { return f.providerType }

func (f *fakeAdapter) Authorize(context.Context, string) (model.UserIntegration, error) {
	panic("not used")
}

func (f *fakeAdapter) RefreshToken(_ context.Context, integ model.UserIntegration) (model.UserIntegration, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return integ, f.refreshErr
	}
	integ.AccessToken = "fresh-token"
	return integ, nil
}

func (f *fakeAdapter) ListEvents(context.Context, model.UserIntegration, provider.Window) ([]model.Event, error) {
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]model.Event, len(f.events))
	copy(out, f.events)
	return out, nil
}

func (f *fakeAdapter) CreateEvent(context.Context, model.UserIntegration, model.Event) (string, error) {
	panic("not used")
}
func (f *fakeAdapter) UpdateEvent(context.Context, model.UserIntegration, model.Event) error {
	panic("not used")
}
func (f *fakeAdapter) DeleteEvent(context.Context, model.UserIntegration, string) error {
	panic("not used")
}

// memEvents is an in-memory EventStore.
type memEvents struct {
	mu   stdsync.Mutex
	rows map[string]model.Event
}

func newMemEvents() *memEvents { return &memEvents{rows: map[string]model.Event{}} }

func (m *memEvents) ListForSync(_ context.Context, userID uint64, p model.ProviderType, start, end time.Time) ([]model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Event
	for _, e := range m.rows {
		if e.UserID == userID && e.ProviderType == p && !e.StartDate.After(end) && !e.EndDate.Before(start) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) Create(_ context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[e.ID] = e
	return nil
}

func (m *memEvents) Update(_ context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[e.ID] = e
	return nil
}

func (m *memEvents) Delete(_ context.Context, _ uint64, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

// memIntegrations is an in-memory IntegrationStore.
type memIntegrations struct {
	mu     stdsync.Mutex
	rows   []model.UserIntegration
	tokens map[model.ProviderType]string
}

func newMemIntegrations(rows ...model.UserIntegration) *memIntegrations {
	return &memIntegrations{rows: rows, tokens: map[model.ProviderType]string{}}
}

func (m *memIntegrations) ListActive(context.Context, uint64) ([]model.UserIntegration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.UserIntegration
	for _, in := range m.rows {
		if in.IsActive {
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *memIntegrations) UpdateTokens(_ context.Context, in model.UserIntegration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[in.ProviderType] = in.AccessToken
	return nil
}

func (m *memIntegrations) Deactivate(_ context.Context, _ uint64, p model.ProviderType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ProviderType == p {
			m.rows[i].IsActive = false
		}
	}
	return nil
}

func (m *memIntegrations) TouchLastSync(_ context.Context, _ uint64, p model.ProviderType, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ProviderType == p {
			m.rows[i].LastSyncAt = at
		}
	}
	return nil
}

func (m *memIntegrations) get(p model.ProviderType) model.UserIntegration {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.rows {
		if in.ProviderType == p {
			return in
		}
	}
	return model.UserIntegration{}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func googleEvent(nativeID, title string, start time.Time) model.Event {
	return model.Event{
		ID:              model.EventID(model.ProviderGoogle, nativeID),
		UserID:          1,
		ProviderType:    model.ProviderGoogle,
		ProviderEventID: nativeID,
		Title:           title,
		StartDate:       start,
		EndDate:         start.Add(time.Hour),
		Timezone:        "UTC",
		MeetingType:     model.MeetingPhoneCall,
	}
}

func testWindow() provider.Window {
	return DefaultWindow(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
}

func activeIntegration(p model.ProviderType) model.UserIntegration {
	return model.UserIntegration{ID: 1, UserID: 1, ProviderType: p, AccessToken: "tok", RefreshToken: "ref", IsActive: true}
}

func TestRunSecondPassIsIdempotent(t *testing.T) {
	base := time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
	google := &fakeAdapter{providerType: model.ProviderGoogle, events: []model.Event{
		googleEvent("g1", "standup", base),
		googleEvent("g2", "retro", base.Add(24*time.Hour)),
	}}
	events := newMemEvents()
	integs := newMemIntegrations(activeIntegration(model.ProviderGoogle))
	o := NewOrchestrator(events, integs, provider.NewRegistry(google), testLogger(), time.Second)

	res, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)

	res, err = o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 0, res.Created, "unchanged events must not be recreated")
	assert.Equal(t, 0, res.Updated, "unchanged events must not be rewritten")
	assert.Equal(t, 0, res.Deleted)
}

func TestRunDetectsProviderSideCancellation(t *testing.T) {
	base := time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
	google := &fakeAdapter{providerType: model.ProviderGoogle, events: []model.Event{
		googleEvent("g123", "kept", base),
		googleEvent("g456", "cancelled later", base.Add(time.Hour)),
	}}
	events := newMemEvents()
	integs := newMemIntegrations(activeIntegration(model.ProviderGoogle))
	o := NewOrchestrator(events, integs, provider.NewRegistry(google), testLogger(), time.Second)

	_, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)
	require.Len(t, events.rows, 2)

	google.events = google.events[:1] // g456 disappears from the provider
	res, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)
	_, stillThere := events.rows[model.EventID(model.ProviderGoogle, "g456")]
	assert.False(t, stillThere, "cancelled provider event must be removed locally")
	_, kept := events.rows[model.EventID(model.ProviderGoogle, "g123")]
	assert.True(t, kept)
}

func TestRunAppliesUpdatesOnlyWhenChanged(t *testing.T) {
	base := time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
	google := &fakeAdapter{providerType: model.ProviderGoogle, events: []model.Event{
		googleEvent("g1", "standup", base),
	}}
	events := newMemEvents()
	integs := newMemIntegrations(activeIntegration(model.ProviderGoogle))
	o := NewOrchestrator(events, integs, provider.NewRegistry(google), testLogger(), time.Second)

	_, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)

	google.events[0].Title = "standup (moved)"
	res, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, "standup (moved)", events.rows[model.EventID(model.ProviderGoogle, "g1")].Title)
}

func TestRunPartialFailureStillCompletes(t *testing.T) {
	base := time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
	google := &fakeAdapter{providerType: model.ProviderGoogle, events: []model.Event{
		googleEvent("g1", "standup", base),
	}}
	zoom := &fakeAdapter{providerType: model.ProviderZoom, listErrs: []error{
		&provider.APIError{Provider: model.ProviderZoom, StatusCode: 500, Message: "internal error"},
	}}
	events := newMemEvents()
	integs := newMemIntegrations(activeIntegration(model.ProviderGoogle), activeIntegration(model.ProviderZoom))
	o := NewOrchestrator(events, integs, provider.NewRegistry(google, zoom), testLogger(), time.Second)

	res, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err, "one healthy provider keeps the job completed")
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, model.ProviderZoom, res.Errors[0].Provider)
	assert.Contains(t, res.Errors[0].Message, "internal error")
	assert.Len(t, events.rows, 1, "healthy provider's events are persisted")
}

func TestRunFailsWhenEveryProviderFails(t *testing.T) {
	google := &fakeAdapter{providerType: model.ProviderGoogle, listErrs: []error{
		&provider.APIError{Provider: model.ProviderGoogle, StatusCode: 503, Message: "unavailable"},
	}}
	zoom := &fakeAdapter{providerType: model.ProviderZoom, listErrs: []error{
		provider.ErrQuotaExceeded,
	}}
	events := newMemEvents()
	integs := newMemIntegrations(activeIntegration(model.ProviderGoogle), activeIntegration(model.ProviderZoom))
	o := NewOrchestrator(events, integs, provider.NewRegistry(google, zoom), testLogger(), time.Second)

	res, err := o.Run(context.Background(), 1, testWindow())
	require.Error(t, err)
	assert.Len(t, res.Errors, 2)
}

func TestRunRefreshesExpiredTokenOnce(t *testing.T) {
	base := time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
	google := &fakeAdapter{
		providerType: model.ProviderGoogle,
		events:       []model.Event{googleEvent("g1", "standup", base)},
		listErrs:     []error{provider.ErrAuthExpired, nil},
	}
	events := newMemEvents()
	integs := newMemIntegrations(activeIntegration(model.ProviderGoogle))
	o := NewOrchestrator(events, integs, provider.NewRegistry(google), testLogger(), time.Second)

	res, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)
	assert.Equal(t, 1, google.refreshCalls)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, "fresh-token", integs.tokens[model.ProviderGoogle], "refreshed token is persisted")
}

func TestRunDeactivatesOnReauthRequired(t *testing.T) {
	google := &fakeAdapter{
		providerType: model.ProviderGoogle,
		listErrs:     []error{provider.ErrAuthExpired},
		refreshErr:   provider.ErrReauthRequired,
	}
	events := newMemEvents()
	integs := newMemIntegrations(activeIntegration(model.ProviderGoogle))
	o := NewOrchestrator(events, integs, provider.NewRegistry(google), testLogger(), time.Second)

	res, err := o.Run(context.Background(), 1, testWindow())
	require.Error(t, err, "sole provider failed")
	require.Len(t, res.Errors, 1)
	assert.False(t, integs.get(model.ProviderGoogle).IsActive, "dead refresh token deactivates the integration")
}

func TestRunKeepsEventsOfDisconnectedProvider(t *testing.T) {
	base := time.Date(2024, 6, 20, 9, 0, 0, 0, time.UTC)
	events := newMemEvents()
	synced := googleEvent("g1", "standup", base)
	require.NoError(t, events.Create(context.Background(), synced))

	// Google was disconnected after its events were synced; only zoom is
	// still active.
	google := activeIntegration(model.ProviderGoogle)
	google.IsActive = false
	zoom := &fakeAdapter{providerType: model.ProviderZoom}
	integs := newMemIntegrations(google, activeIntegration(model.ProviderZoom))
	o := NewOrchestrator(events, integs, provider.NewRegistry(zoom), testLogger(), time.Second)

	res, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Deleted)
	_, kept := events.rows[synced.ID]
	assert.True(t, kept, "disconnected provider's events stay until that provider syncs again")
}

func TestRunWithNothingConnected(t *testing.T) {
	events := newMemEvents()
	integs := newMemIntegrations()
	o := NewOrchestrator(events, integs, provider.NewRegistry(), testLogger(), time.Second)

	res, err := o.Run(context.Background(), 1, testWindow())
	require.NoError(t, err)
	assert.Equal(t, &model.SyncResult{}, res)
}
