package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

type deactivateCall struct {
	userID uint64
	p      model.ProviderType
}

// fakeIntegrationStore records repository calls without a database.  It
// deliberately has no event operations: disconnecting only flips the
// integration row, already-synced events stay untouched.
type fakeIntegrationStore struct {
	rows        []model.UserIntegration
	deactivated []deactivateCall
}

func (f *fakeIntegrationStore) Upsert(context.Context, model.UserIntegration) error { return nil }

func (f *fakeIntegrationStore) ListByUser(context.Context, uint64) ([]model.UserIntegration, error) {
	return f.rows, nil
}

func (f *fakeIntegrationStore) Deactivate(_ context.Context, userID uint64, p model.ProviderType) error {
	f.deactivated = append(f.deactivated, deactivateCall{userID: userID, p: p})
	for i := range f.rows {
		if f.rows[i].ProviderType == p {
			f.rows[i].IsActive = false
		}
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func disconnectContext(t *testing.T, userID uint64, providerType string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/integrations/providers/"+providerType+"/disconnect", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("type")
	c.SetParamValues(providerType)
	c.Set("user_id", userID)
	return c, rec
}

func TestDisconnectDeactivatesIntegration(t *testing.T) {
	store := &fakeIntegrationStore{rows: []model.UserIntegration{
		{ID: 1, UserID: 42, ProviderType: model.ProviderGoogle, IsActive: true},
	}}
	h := &IntegrationHandler{Integrations: store, Logger: discardLogger()}

	c, rec := disconnectContext(t, 42, "google")
	require.NoError(t, h.Disconnect(c))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, store.deactivated, 1)
	assert.Equal(t, deactivateCall{userID: 42, p: model.ProviderGoogle}, store.deactivated[0])
	assert.False(t, store.rows[0].IsActive, "the integration is deactivated, not deleted")
}

func TestDisconnectIsIdempotent(t *testing.T) {
	store := &fakeIntegrationStore{}
	h := &IntegrationHandler{Integrations: store, Logger: discardLogger()}

	c, rec := disconnectContext(t, 42, "google")
	require.NoError(t, h.Disconnect(c))
	assert.Equal(t, http.StatusNoContent, rec.Code, "disconnecting a never-connected provider still succeeds")
}

func TestDisconnectRejectsUnknownProvider(t *testing.T) {
	store := &fakeIntegrationStore{}
	h := &IntegrationHandler{Integrations: store, Logger: discardLogger()}

	c, rec := disconnectContext(t, 42, "caldav")
	require.NoError(t, h.Disconnect(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.deactivated)
}
