package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gitshone/ht-cal-01-sub000/internal/jobs"
	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/provider"
	"github.com/gitshone/ht-cal-01-sub000/internal/repository"
	"github.com/gitshone/ht-cal-01-sub000/internal/timezone"
)

// EventHandler serves the unified calendar: listing merged events and
// mirroring local edits out to the owning provider.
type EventHandler struct {
	Events       *repository.EventRepo
	Integrations *repository.IntegrationRepo
	Settings     *repository.SettingsRepo
	Adapters     *provider.Registry
	Tracker      *jobs.Tracker
	Logger       *slog.Logger
}

func NewEventHandler(events *repository.EventRepo, integrations *repository.IntegrationRepo, settings *repository.SettingsRepo, adapters *provider.Registry, tracker *jobs.Tracker, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		Events:       events,
		Integrations: integrations,
		Settings:     settings,
		Adapters:     adapters,
		Tracker:      tracker,
		Logger:       logger,
	}
}

// eventWriteReq is the body for create and update.  Pointers distinguish
// "absent" from zero values so PATCH can apply partial edits.
type eventWriteReq struct {
	Title        *string  `json:"title"`
	StartDate    *string  `json:"startDate"` // "2006-01-02T15:04:05", or "2006-01-02" for all-day
	EndDate      *string  `json:"endDate"`
	IsAllDay     *bool    `json:"isAllDay"`
	Timezone     *string  `json:"timezone"`
	MeetingType  *string  `json:"meetingType"`
	Description  *string  `json:"description"`
	Location     *string  `json:"location"`
	Attendees    []string `json:"attendees"`
	ProviderType *string  `json:"providerType"`
}

// List returns the user's events between startDate and endDate, grouped
// into view buckets.  Multi-day events appear in every bucket they
// overlap.  Times in the response are UTC instants; bucket keys are dates
// in the user's timezone.
func (h *EventHandler) List(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	tz, err := h.resolveTimezone(ctx, uid, c.QueryParam("timezone"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid timezone"})
	}

	viewType := c.QueryParam("viewType")
	if viewType == "" {
		viewType = "month"
	}
	if viewType != "day" && viewType != "week" && viewType != "month" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "viewType must be day, week or month"})
	}

	startDate := c.QueryParam("startDate")
	endDate := c.QueryParam("endDate")
	if startDate == "" || endDate == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "startDate and endDate required (YYYY-MM-DD)"})
	}
	rangeStart, _, err := timezone.AllDayRange(startDate, tz)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid startDate"})
	}
	_, rangeEnd, err := timezone.AllDayRange(endDate, tz)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid endDate"})
	}
	if rangeEnd.Before(rangeStart) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "endDate before startDate"})
	}

	query := repository.EventQuery{
		Start:  rangeStart,
		End:    rangeEnd,
		Search: strings.TrimSpace(c.QueryParam("searchQuery")),
	}
	if pf := c.QueryParam("providerFilter"); pf != "" {
		p := model.ProviderType(pf)
		if !p.Valid() {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown providerFilter"})
		}
		query.Provider = p
	}

	events, err := h.Events.ListRange(ctx, uid, query)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "list events failed"})
	}

	buckets := map[string][]eventDTO{}
	for _, e := range events {
		keys, err := bucketKeys(e, tz, viewType, rangeStart, rangeEnd)
		if err != nil {
			h.Logger.Warn("bucket event failed", "event", e.ID, "error", err)
			continue
		}
		dto := toEventDTO(e)
		for _, k := range keys {
			buckets[k] = append(buckets[k], dto)
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"viewType": viewType,
		"timezone": tz,
		"is24Hour": timezone.Is24HourFormat(tz),
		"total":    len(events),
		"events":   buckets,
	})
}

// bucketKeys lists the view buckets an event belongs to: one key per
// overlapped day, collapsed to week or month keys for those views.
func bucketKeys(e model.Event, tz, viewType string, rangeStart, rangeEnd time.Time) ([]string, error) {
	s := e.StartDate
	if s.Before(rangeStart) {
		s = rangeStart
	}
	en := e.EndDate
	if en.After(rangeEnd) {
		en = rangeEnd
	}
	firstDay, err := timezone.DateInZone(s, tz)
	if err != nil {
		return nil, err
	}
	lastDay, err := timezone.DateInZone(en, tz)
	if err != nil {
		return nil, err
	}
	d, err := time.Parse(timezone.DateLayout, firstDay)
	if err != nil {
		return nil, err
	}
	last, err := time.Parse(timezone.DateLayout, lastDay)
	if err != nil {
		return nil, err
	}

	var keys []string
	for !d.After(last) {
		k := bucketKey(d, viewType)
		if len(keys) == 0 || keys[len(keys)-1] != k {
			keys = append(keys, k)
		}
		d = d.AddDate(0, 0, 1)
	}
	return keys, nil
}

func bucketKey(day time.Time, viewType string) string {
	switch viewType {
	case "week":
		// Weeks start on Monday.
		back := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -back).Format(timezone.DateLayout)
	case "month":
		return day.Format("2006-01")
	default:
		return day.Format(timezone.DateLayout)
	}
}

// Create mirrors a new event to the chosen provider and stores the
// canonical copy.  The provider assigns the native id, so the local row is
// only written after the provider accepted the event.
func (h *EventHandler) Create(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req eventWriteReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Title == nil || strings.TrimSpace(*req.Title) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title required"})
	}
	if req.StartDate == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "startDate required"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	override := ""
	if req.Timezone != nil {
		override = *req.Timezone
	}
	tz, err := h.resolveTimezone(ctx, uid, override)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid timezone"})
	}

	p, integ, adapter, errResp := h.resolveProvider(c, ctx, uid, req.ProviderType)
	if errResp != nil {
		return errResp
	}

	e := model.Event{
		UserID:       uid,
		ProviderType: p,
		Title:        strings.TrimSpace(*req.Title),
		Timezone:     tz,
		Attendees:    req.Attendees,
	}
	if req.IsAllDay != nil {
		e.IsAllDay = *req.IsAllDay
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Location != nil {
		e.Location = *req.Location
	}

	if err := applyTimes(&e, req.StartDate, req.EndDate, tz); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if err := applyMeetingType(&e, req.MeetingType); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	var nativeID string
	err = h.withFreshToken(ctx, adapter, integ, func(in model.UserIntegration) error {
		var cerr error
		nativeID, cerr = adapter.CreateEvent(ctx, in, e)
		return cerr
	})
	if err != nil {
		return providerError(c, err)
	}

	e.ProviderEventID = nativeID
	e.ID = model.EventID(p, nativeID)
	if err := h.Events.Create(ctx, e); err != nil {
		h.Logger.Error("store created event failed", "event", e.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "store event failed"})
	}
	return c.JSON(http.StatusCreated, toEventDTO(e))
}

// Update applies a full or partial edit, pushes it to the owning provider
// and persists the canonical copy.  Bound to both PUT and PATCH; absent
// fields keep their stored values either way.
func (h *EventHandler) Update(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req eventWriteReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	e, err := h.Events.GetByID(ctx, uid, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load event failed"})
	}

	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "title cannot be empty"})
		}
		e.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		e.Description = *req.Description
	}
	if req.Location != nil {
		e.Location = *req.Location
	}
	if req.Attendees != nil {
		e.Attendees = req.Attendees
	}
	if req.Timezone != nil {
		if err := timezone.Validate(*req.Timezone); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid timezone"})
		}
		e.Timezone = *req.Timezone
	}
	if req.IsAllDay != nil {
		e.IsAllDay = *req.IsAllDay
	}
	if req.StartDate != nil || req.EndDate != nil || req.IsAllDay != nil {
		if err := applyTimes(&e, req.StartDate, req.EndDate, e.Timezone); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
	}
	if err := applyMeetingType(&e, req.MeetingType); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	integ, err := h.Integrations.GetActive(ctx, uid, e.ProviderType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "provider not connected"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load integration failed"})
	}
	adapter, ok := h.Adapters.Get(e.ProviderType)
	if !ok {
		return c.JSON(http.StatusConflict, echo.Map{"error": "provider not configured"})
	}

	err = h.withFreshToken(ctx, adapter, integ, func(in model.UserIntegration) error {
		return adapter.UpdateEvent(ctx, in, e)
	})
	if err != nil {
		return providerError(c, err)
	}

	if err := h.Events.Update(ctx, e); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "store event failed"})
	}
	return c.JSON(http.StatusOK, toEventDTO(e))
}

// Delete removes the event from the provider and then locally.  A
// provider-side 404 is fine: the event is gone either way.
func (h *EventHandler) Delete(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	e, err := h.Events.GetByID(ctx, uid, c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "event not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load event failed"})
	}

	integ, ierr := h.Integrations.GetActive(ctx, uid, e.ProviderType)
	adapter, ok := h.Adapters.Get(e.ProviderType)
	if ierr == nil && ok {
		err = h.withFreshToken(ctx, adapter, integ, func(in model.UserIntegration) error {
			return adapter.DeleteEvent(ctx, in, e.ProviderEventID)
		})
		var apiErr *provider.APIError
		if err != nil && !(errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound) {
			return providerError(c, err)
		}
	}
	// Disconnected provider: nothing to mirror, local removal is enough.

	if err := h.Events.Delete(ctx, uid, e.ID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete event failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// SyncStatus returns a snapshot of one of the user's jobs.
func (h *EventHandler) SyncStatus(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	job, err := h.Tracker.GetStatus(ctx, uid, c.Param("jobId"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "job not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load job failed"})
	}
	return c.JSON(http.StatusOK, toJobDTO(job))
}

// resolveTimezone picks the zone for interpreting request times: an
// explicit override when given, otherwise the user's saved preference
// (which defaults to UTC).
func (h *EventHandler) resolveTimezone(ctx context.Context, uid uint64, override string) (string, error) {
	if override != "" {
		if err := timezone.Validate(override); err != nil {
			return "", err
		}
		return override, nil
	}
	s, err := h.Settings.Get(ctx, uid)
	if err != nil {
		return "", err
	}
	return s.Timezone, nil
}

// resolveProvider picks the provider a local write is routed to: the
// requested one, or google as the conventional default when connected.
// The returned error response is non-nil when resolution failed.
func (h *EventHandler) resolveProvider(c echo.Context, ctx context.Context, uid uint64, requested *string) (model.ProviderType, model.UserIntegration, provider.Adapter, error) {
	var p model.ProviderType
	if requested != nil && *requested != "" {
		p = model.ProviderType(*requested)
		if !p.Valid() {
			return "", model.UserIntegration{}, nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown providerType"})
		}
	} else {
		p = model.ProviderGoogle
	}

	integ, err := h.Integrations.GetActive(ctx, uid, p)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", model.UserIntegration{}, nil, c.JSON(http.StatusConflict, echo.Map{"error": string(p) + " is not connected"})
		}
		return "", model.UserIntegration{}, nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "load integration failed"})
	}
	adapter, ok := h.Adapters.Get(p)
	if !ok {
		return "", model.UserIntegration{}, nil, c.JSON(http.StatusConflict, echo.Map{"error": string(p) + " is not configured"})
	}
	return p, integ, adapter, nil
}

// withFreshToken runs one provider call, refreshing the access token and
// retrying once when the provider rejects it.  A dead refresh token
// deactivates the integration, mirroring what sync does.
func (h *EventHandler) withFreshToken(ctx context.Context, adapter provider.Adapter, integ model.UserIntegration, call func(model.UserIntegration) error) error {
	err := call(integ)
	if err == nil || !errors.Is(err, provider.ErrAuthExpired) {
		return err
	}
	refreshed, rerr := adapter.RefreshToken(ctx, integ)
	if rerr != nil {
		if errors.Is(rerr, provider.ErrReauthRequired) {
			if derr := h.Integrations.Deactivate(ctx, integ.UserID, integ.ProviderType); derr != nil {
				h.Logger.Error("deactivate integration failed", "provider", integ.ProviderType, "error", derr)
			}
		}
		return rerr
	}
	if uerr := h.Integrations.UpdateTokens(ctx, refreshed); uerr != nil {
		h.Logger.Warn("persist refreshed tokens failed", "provider", integ.ProviderType, "error", uerr)
	}
	return call(refreshed)
}

// applyTimes resolves the request's naive times into UTC instants on the
// event.  All-day events span the whole local day regardless of any
// time-of-day in the input.
func applyTimes(e *model.Event, start, end *string, tz string) error {
	if e.IsAllDay {
		date := ""
		switch {
		case start != nil:
			date = dateOnly(*start)
		default:
			d, err := timezone.DateInZone(e.StartDate, tz)
			if err != nil {
				return errors.New("invalid timezone")
			}
			date = d
		}
		s, en, err := timezone.AllDayRange(date, tz)
		if err != nil {
			return errors.New("invalid startDate")
		}
		if end != nil && dateOnly(*end) != date {
			// Multi-day all-day events end at the close of the last day.
			_, en2, err := timezone.AllDayRange(dateOnly(*end), tz)
			if err != nil {
				return errors.New("invalid endDate")
			}
			en = en2
		}
		e.StartDate, e.EndDate = s, en
		e.Timezone = tz
		return nil
	}

	if start != nil {
		s, err := timezone.ToUTC(*start, tz)
		if err != nil {
			return errors.New("invalid startDate")
		}
		e.StartDate = s
	}
	if end != nil {
		en, err := timezone.ToUTC(*end, tz)
		if err != nil {
			return errors.New("invalid endDate")
		}
		e.EndDate = en
	}
	if e.EndDate.IsZero() || (end == nil && start != nil && !e.EndDate.After(e.StartDate)) {
		// Default duration when the client names only a start.
		e.EndDate = e.StartDate.Add(time.Hour)
	}
	if e.EndDate.Before(e.StartDate) {
		return errors.New("endDate before startDate")
	}
	e.Timezone = tz
	return nil
}

func dateOnly(s string) string {
	if len(s) >= len(timezone.DateLayout) {
		return s[:len(timezone.DateLayout)]
	}
	return s
}

// applyMeetingType validates an explicit meeting type or infers one: a
// physical location reads as in-person, otherwise video call.
func applyMeetingType(e *model.Event, mt *string) error {
	if mt != nil && *mt != "" {
		m := model.MeetingType(*mt)
		if m != model.MeetingVideoCall && m != model.MeetingPhoneCall && m != model.MeetingInPerson {
			return errors.New("unknown meetingType")
		}
		e.MeetingType = m
		return nil
	}
	if e.MeetingType != "" {
		return nil
	}
	if e.Location != "" {
		e.MeetingType = model.MeetingInPerson
	} else {
		e.MeetingType = model.MeetingVideoCall
	}
	return nil
}
