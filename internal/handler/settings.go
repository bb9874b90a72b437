package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/repository"
	"github.com/gitshone/ht-cal-01-sub000/internal/timezone"
)

// SettingsHandler serves timezone and availability preferences.
type SettingsHandler struct {
	Settings *repository.SettingsRepo
}

func NewSettingsHandler(settings *repository.SettingsRepo) *SettingsHandler {
	return &SettingsHandler{Settings: settings}
}

type settingsDTO struct {
	Timezone            string                      `json:"timezone"`
	UTCOffset           string                      `json:"utcOffset"`
	Is24Hour            bool                        `json:"is24Hour"`
	DefaultWorkingHours model.WorkingHours          `json:"defaultWorkingHours"`
	Unavailability      []model.UnavailabilityBlock `json:"unavailability,omitempty"`
}

type settingsWriteReq struct {
	Timezone            *string                     `json:"timezone"`
	DefaultWorkingHours *model.WorkingHours         `json:"defaultWorkingHours"`
	Unavailability      []model.UnavailabilityBlock `json:"unavailability"`
}

func toSettingsDTO(s model.UserSettings) settingsDTO {
	offset, err := timezone.OffsetOf(s.Timezone, time.Now())
	if err != nil {
		offset = "+00:00"
	}
	return settingsDTO{
		Timezone:            s.Timezone,
		UTCOffset:           offset,
		Is24Hour:            timezone.Is24HourFormat(s.Timezone),
		DefaultWorkingHours: s.DefaultWorkingHours,
		Unavailability:      s.Unavailability,
	}
}

// Get returns the user's preferences, defaults included for users who
// never saved any.
func (h *SettingsHandler) Get(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	s, err := h.Settings.Get(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load settings failed"})
	}
	return c.JSON(http.StatusOK, toSettingsDTO(s))
}

// Put updates preferences.  Absent fields keep their stored values.
func (h *SettingsHandler) Put(c echo.Context) error {
	uid := authedUser(c)
	if uid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req settingsWriteReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqContext(c)
	defer cancel()

	s, err := h.Settings.Get(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "load settings failed"})
	}

	if req.Timezone != nil {
		if err := timezone.Validate(*req.Timezone); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid timezone"})
		}
		s.Timezone = *req.Timezone
	}
	if req.DefaultWorkingHours != nil {
		wh := *req.DefaultWorkingHours
		if !validClock(wh.Start) || !validClock(wh.End) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "working hours must be HH:MM"})
		}
		s.DefaultWorkingHours = wh
	}
	if req.Unavailability != nil {
		for _, b := range req.Unavailability {
			if !b.End.After(b.Start) {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "unavailability block end must be after start"})
			}
		}
		s.Unavailability = req.Unavailability
	}

	s.UserID = uid
	if err := h.Settings.Upsert(ctx, s); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save settings failed"})
	}
	return c.JSON(http.StatusOK, toSettingsDTO(s))
}

func validClock(v string) bool {
	_, err := time.Parse("15:04", v)
	return err == nil
}
