package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gitshone/ht-cal-01-sub000/internal/jobs"
	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/provider"
	"github.com/gitshone/ht-cal-01-sub000/internal/repository"
	syncpkg "github.com/gitshone/ht-cal-01-sub000/internal/sync"
	"github.com/gitshone/ht-cal-01-sub000/internal/timezone"
)

// integrationStore is the slice of the integration repository this
// handler needs.  *repository.IntegrationRepo satisfies it.
type integrationStore interface {
	Upsert(ctx context.Context, in model.UserIntegration) error
	ListByUser(ctx context.Context, userID uint64) ([]model.UserIntegration, error)
	Deactivate(ctx context.Context, userID uint64, p model.ProviderType) error
}

// IntegrationHandler manages provider connections and the asynchronous
// jobs that connect and sync them.
type IntegrationHandler struct {
	Integrations integrationStore
	Settings     *repository.SettingsRepo
	Adapters     *provider.Registry
	Tracker      *jobs.Tracker
	Orch         *syncpkg.Orchestrator
	WindowMonths int
	Logger       *slog.Logger
}

func NewIntegrationHandler(integrations integrationStore, settings *repository.SettingsRepo, adapters *provider.Registry, tracker *jobs.Tracker, orch *syncpkg.Orchestrator, windowMonths int, logger *slog.Logger) *IntegrationHandler {
	if windowMonths <= 0 {
		windowMonths = syncpkg.DefaultWindowMonths
	}
	return &IntegrationHandler{
		Integrations: integrations,
		Settings:     settings,
		Adapters:     adapters,
		Tracker:      tracker,
		Orch:         orch,
		WindowMonths: windowMonths,
		Logger:       logger,
	}
}

type connectReq struct {
	Code string `json:"code"` // OAuth authorization code from the client's redirect
}

type dateRange struct {
	Start string `json:"start"` // "2006-01-02"
	End   string `json:"end"`
}

type syncReq struct {
	DateRange *dateRange `json:"dateRange"`
}

type integrationDTO struct {
	ProviderType string     `json:"providerType"`
	ProviderID   string     `json:"providerId,omitempty"`
	IsActive     bool       `json:"isActive"`
	ConnectedAt  time.Time  `json:"connectedAt"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
}

func (h *IntegrationHandler) window(now time.Time) provider.Window {
	return provider.Window{
		Start: now.AddDate(0, -h.WindowMonths, 0),
		End:   now.AddDate(0, h.WindowMonths, 0),
	}
}

// Connect exchanges the OAuth code and runs the initial sync as one
// background job.  The response carries the job id; progress arrives over
// the WebSocket.
func (h *IntegrationHandler) Connect(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	p := model.ProviderType(c.Param("type"))
	if !p.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown provider type"})
	}
	adapter, ok := h.Adapters.Get(p)
	if !ok {
		return c.JSON(http.StatusConflict, echo.Map{"error": string(p) + " is not configured"})
	}

	var req connectReq
	if err := c.Bind(&req); err != nil || req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code required"})
	}
	code := req.Code

	ctx, cancel := reqContext(c)
	defer cancel()

	w := h.window(time.Now().UTC())
	job, err := h.Tracker.Enqueue(ctx, uid, model.JobConnectCalendar, func(jobCtx context.Context) (*model.SyncResult, error) {
		integ, aerr := adapter.Authorize(jobCtx, code)
		if aerr != nil {
			return nil, aerr
		}
		integ.UserID = uid
		if uerr := h.Integrations.Upsert(jobCtx, integ); uerr != nil {
			return nil, uerr
		}
		return h.Orch.Run(jobCtx, uid, w)
	})
	if err != nil {
		if errors.Is(err, jobs.ErrJobAlreadyInProgress) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "connection already in progress", "jobId": job.ID})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "enqueue job failed"})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"jobId": job.ID, "status": string(job.Status)})
}

// Disconnect stops syncing a provider.  Idempotent: disconnecting a
// provider that was never connected still succeeds.  Already-synced
// events stay.
func (h *IntegrationHandler) Disconnect(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	p := model.ProviderType(c.Param("type"))
	if !p.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown provider type"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	if err := h.Integrations.Deactivate(ctx, uid, p); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "disconnect failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// List returns the state of every provider connection plus which
// providers this deployment has configured.
func (h *IntegrationHandler) List(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	rows, err := h.Integrations.ListByUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list integrations failed"})
	}

	out := make([]integrationDTO, 0, len(rows))
	for _, in := range rows {
		dto := integrationDTO{
			ProviderType: string(in.ProviderType),
			ProviderID:   in.ProviderID,
			IsActive:     in.IsActive,
			ConnectedAt:  in.CreatedAt,
		}
		if !in.LastSyncAt.IsZero() {
			t := in.LastSyncAt
			dto.LastSyncAt = &t
		}
		out = append(out, dto)
	}

	available := make([]string, 0)
	for _, t := range h.Adapters.Types() {
		available = append(available, string(t))
	}

	return c.JSON(http.StatusOK, echo.Map{"providers": out, "available": available})
}

// Sync enqueues a full sync across every active provider.  An optional
// dateRange narrows the window; dates are read in the user's timezone.
func (h *IntegrationHandler) Sync(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req syncReq
	_ = c.Bind(&req) // empty body means the default window

	ctx, cancel := reqContext(c)
	defer cancel()

	w := h.window(time.Now().UTC())
	if req.DateRange != nil {
		settings, err := h.Settings.Get(ctx, uid)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load settings failed"})
		}
		tz := settings.Timezone
		start, _, err := timezone.AllDayRange(req.DateRange.Start, tz)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid dateRange.start"})
		}
		_, end, err := timezone.AllDayRange(req.DateRange.End, tz)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid dateRange.end"})
		}
		if end.Before(start) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "dateRange.end before dateRange.start"})
		}
		w = provider.Window{Start: start, End: end}
	}

	job, err := h.Tracker.Enqueue(ctx, uid, model.JobSyncEvents, func(jobCtx context.Context) (*model.SyncResult, error) {
		return h.Orch.Run(jobCtx, uid, w)
	})
	if err != nil {
		if errors.Is(err, jobs.ErrJobAlreadyInProgress) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "sync already in progress", "jobId": job.ID})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "enqueue job failed"})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"jobId": job.ID, "status": string(job.Status)})
}
