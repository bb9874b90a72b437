package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/provider"
)

// dbTimeout bounds every database round trip issued from a handler.
const dbTimeout = 5 * time.Second

// authedUser returns the user id stored by the JWT middleware, zero when
// the request is unauthenticated.
func authedUser(c echo.Context) uint64 {
	id, _ := c.Get("user_id").(uint64)
	return id
}

func reqContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), dbTimeout)
}

// eventDTO is the wire shape of a canonical event.  Instants are UTC; the
// timezone field carries the zone the event was authored in.
type eventDTO struct {
	ID           string    `json:"id"`
	ProviderType string    `json:"providerType"`
	Title        string    `json:"title"`
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	IsAllDay     bool      `json:"isAllDay"`
	Timezone     string    `json:"timezone"`
	MeetingType  string    `json:"meetingType"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	MeetingURL   string    `json:"meetingUrl,omitempty"`
	Attendees    []string  `json:"attendees,omitempty"`
}

func toEventDTO(e model.Event) eventDTO {
	return eventDTO{
		ID:           e.ID,
		ProviderType: string(e.ProviderType),
		Title:        e.Title,
		StartDate:    e.StartDate,
		EndDate:      e.EndDate,
		IsAllDay:     e.IsAllDay,
		Timezone:     e.Timezone,
		MeetingType:  string(e.MeetingType),
		Description:  e.Description,
		Location:     e.Location,
		MeetingURL:   e.MeetingURL,
		Attendees:    e.Attendees,
	}
}

// jobDTO is the wire shape of a job snapshot.
type jobDTO struct {
	JobID       string            `json:"jobId"`
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	Error       string            `json:"error,omitempty"`
	Result      *model.SyncResult `json:"result,omitempty"`
}

func toJobDTO(j model.SyncJob) jobDTO {
	dto := jobDTO{
		JobID:     j.ID,
		Type:      string(j.Type),
		Status:    string(j.Status),
		CreatedAt: j.CreatedAt,
		Error:     j.Error,
		Result:    j.Result,
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		dto.StartedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		dto.CompletedAt = &t
	}
	return dto
}

// providerError translates the provider error taxonomy into an HTTP reply.
// Auth failures tell the client to reconnect, quota maps to 429, anything
// else from the provider surfaces as a bad gateway.
func providerError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, provider.ErrReauthRequired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "provider authorization expired, reconnect required"})
	case errors.Is(err, provider.ErrAuthExpired):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "provider authorization expired"})
	case errors.Is(err, provider.ErrQuotaExceeded):
		return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "provider rate limit exceeded, try again later"})
	}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": apiErr.Error()})
	}
	var authErr *provider.AuthError
	if errors.As(err, &authErr) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": authErr.Error()})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "provider call failed"})
}
