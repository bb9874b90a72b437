package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/timezone"
)

const googlePageSize = 250

// GoogleAdapter speaks to the Google Calendar API for the user's primary
// calendar.
type GoogleAdapter struct {
	cfg    *oauth2.Config
	logger *slog.Logger
}

// NewGoogle builds a Google adapter from OAuth client credentials.
func NewGoogle(clientID, clientSecret, redirectURL string, logger *slog.Logger) *GoogleAdapter {
	return &GoogleAdapter{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		},
		logger: logger,
	}
}

func (a *GoogleAdapter) Type() model.ProviderType { return model.ProviderGoogle }

// service builds a calendar client bound to the integration's current
// access token.  A static token source is used on purpose: expiry must
// surface as ErrAuthExpired so the caller controls the refresh-and-retry,
// instead of the SDK refreshing behind our back.
func (a *GoogleAdapter) service(ctx context.Context, integ model.UserIntegration) (*calendar.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: integ.AccessToken})
	srv, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return srv, nil
}

func (a *GoogleAdapter) Authorize(ctx context.Context, code string) (model.UserIntegration, error) {
	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return model.UserIntegration{}, a.mapTokenErr(err, false)
	}

	ts := oauth2.StaticTokenSource(tok)
	srv, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return model.UserIntegration{}, fmt.Errorf("create calendar service: %w", err)
	}
	cal, err := srv.Calendars.Get("primary").Do()
	if err != nil {
		return model.UserIntegration{}, a.mapAPIErr(err)
	}

	a.logger.Info("google authorized", "account", cal.Id)
	return model.UserIntegration{
		ProviderType: model.ProviderGoogle,
		ProviderID:   cal.Id, // primary calendar id is the account email
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        a.cfg.Scopes,
		IsActive:     true,
	}, nil
}

func (a *GoogleAdapter) RefreshToken(ctx context.Context, integ model.UserIntegration) (model.UserIntegration, error) {
	if integ.RefreshToken == "" {
		return integ, ErrReauthRequired
	}
	ts := a.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: integ.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return integ, a.mapTokenErr(err, true)
	}
	integ.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		integ.RefreshToken = tok.RefreshToken
	}
	integ.ExpiresAt = tok.Expiry
	return integ, nil
}

func (a *GoogleAdapter) ListEvents(ctx context.Context, integ model.UserIntegration, w Window) ([]model.Event, error) {
	srv, err := a.service(ctx, integ)
	if err != nil {
		return nil, err
	}

	var out []model.Event
	pageToken := ""
	for {
		call := srv.Events.List("primary").
			ShowDeleted(false).
			SingleEvents(true).
			TimeMin(w.Start.UTC().Format(time.RFC3339)).
			TimeMax(w.End.UTC().Format(time.RFC3339)).
			MaxResults(googlePageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, a.mapAPIErr(err)
		}
		for _, item := range resp.Items {
			ev, err := GoogleToCanonical(item, resp.TimeZone, integ.UserID)
			if err != nil {
				a.logger.Warn("skipping unmappable google event", "id", item.Id, "error", err)
				continue
			}
			out = append(out, ev)
		}
		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return out, nil
}

func (a *GoogleAdapter) CreateEvent(ctx context.Context, integ model.UserIntegration, ev model.Event) (string, error) {
	srv, err := a.service(ctx, integ)
	if err != nil {
		return "", err
	}
	created, err := srv.Events.Insert("primary", googleNative(ev)).Context(ctx).Do()
	if err != nil {
		return "", a.mapAPIErr(err)
	}
	return created.Id, nil
}

func (a *GoogleAdapter) UpdateEvent(ctx context.Context, integ model.UserIntegration, ev model.Event) error {
	srv, err := a.service(ctx, integ)
	if err != nil {
		return err
	}
	_, err = srv.Events.Update("primary", ev.ProviderEventID, googleNative(ev)).Context(ctx).Do()
	if err != nil {
		return a.mapAPIErr(err)
	}
	return nil
}

func (a *GoogleAdapter) DeleteEvent(ctx context.Context, integ model.UserIntegration, providerEventID string) error {
	srv, err := a.service(ctx, integ)
	if err != nil {
		return err
	}
	if err := srv.Events.Delete("primary", providerEventID).Context(ctx).Do(); err != nil {
		return a.mapAPIErr(err)
	}
	return nil
}

func (a *GoogleAdapter) mapTokenErr(err error, refreshing bool) error {
	return mapOAuthError(model.ProviderGoogle, err, refreshing)
}

// mapAPIErr translates Google Calendar API failures into the shared
// taxonomy.
func (a *GoogleAdapter) mapAPIErr(err error) error {
	var ge *googleapi.Error
	if !errors.As(err, &ge) {
		return err
	}
	switch {
	case ge.Code == 401:
		return ErrAuthExpired
	case ge.Code == 429:
		return ErrQuotaExceeded
	case ge.Code == 403 && isRateLimited(ge):
		return ErrQuotaExceeded
	default:
		return &APIError{Provider: model.ProviderGoogle, StatusCode: ge.Code, Message: ge.Message}
	}
}

func isRateLimited(ge *googleapi.Error) bool {
	for _, item := range ge.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

// GoogleToCanonical maps a native Google Calendar event to canonical
// form.  The timezone comes from the event's stated zone, falling back to
// the calendar's primary zone.
func GoogleToCanonical(item *calendar.Event, defaultTZ string, userID uint64) (model.Event, error) {
	if item.Start == nil || item.End == nil {
		return model.Event{}, fmt.Errorf("google event %s has no start/end", item.Id)
	}
	tz := item.Start.TimeZone
	if tz == "" {
		tz = defaultTZ
	}
	if tz == "" {
		tz = "UTC"
	}

	ev := model.Event{
		ID:              model.EventID(model.ProviderGoogle, item.Id),
		UserID:          userID,
		ProviderType:    model.ProviderGoogle,
		ProviderEventID: item.Id,
		Title:           item.Summary,
		Timezone:        tz,
		Description:     item.Description,
		Location:        item.Location,
	}

	if item.Start.Date != "" {
		// All-day: Google's End.Date is exclusive, so the last covered
		// day is one before it.
		ev.IsAllDay = true
		lastDay := item.Start.Date
		if item.End.Date != "" {
			d, err := time.Parse(timezone.DateLayout, item.End.Date)
			if err != nil {
				return model.Event{}, fmt.Errorf("parse all-day end %q: %w", item.End.Date, err)
			}
			lastDay = d.AddDate(0, 0, -1).Format(timezone.DateLayout)
		}
		start, _, err := timezone.AllDayRange(item.Start.Date, tz)
		if err != nil {
			return model.Event{}, err
		}
		_, end, err := timezone.AllDayRange(lastDay, tz)
		if err != nil {
			return model.Event{}, err
		}
		ev.StartDate, ev.EndDate = start, end
	} else {
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return model.Event{}, fmt.Errorf("parse start %q: %w", item.Start.DateTime, err)
		}
		end, err := time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return model.Event{}, fmt.Errorf("parse end %q: %w", item.End.DateTime, err)
		}
		ev.StartDate, ev.EndDate = start.UTC(), end.UTC()
	}

	switch {
	case item.HangoutLink != "" || item.ConferenceData != nil:
		ev.MeetingType = model.MeetingVideoCall
		ev.MeetingURL = item.HangoutLink
		if ev.MeetingURL == "" && item.ConferenceData != nil {
			for _, ep := range item.ConferenceData.EntryPoints {
				if ep.EntryPointType == "video" {
					ev.MeetingURL = ep.Uri
					break
				}
			}
		}
		for _, att := range item.Attendees {
			ev.Attendees = append(ev.Attendees, att.Email)
		}
	case item.Location != "":
		ev.MeetingType = model.MeetingInPerson
	default:
		ev.MeetingType = model.MeetingPhoneCall
	}
	return ev, nil
}

// googleNative maps a canonical event back to Google's representation for
// create/update mirroring.
func googleNative(ev model.Event) *calendar.Event {
	ge := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.IsAllDay {
		startDay := ev.StartDate.Format(timezone.DateLayout)
		if ev.Timezone != "" {
			if d, err := timezone.DateInZone(ev.StartDate, ev.Timezone); err == nil {
				startDay = d
			}
		}
		endDay := startDay
		if ev.Timezone != "" {
			if d, err := timezone.DateInZone(ev.EndDate, ev.Timezone); err == nil {
				endDay = d
			}
		}
		// Google wants an exclusive end date.
		if d, err := time.Parse(timezone.DateLayout, endDay); err == nil {
			endDay = d.AddDate(0, 0, 1).Format(timezone.DateLayout)
		}
		ge.Start = &calendar.EventDateTime{Date: startDay, TimeZone: ev.Timezone}
		ge.End = &calendar.EventDateTime{Date: endDay, TimeZone: ev.Timezone}
	} else {
		ge.Start = &calendar.EventDateTime{DateTime: ev.StartDate.UTC().Format(time.RFC3339), TimeZone: ev.Timezone}
		ge.End = &calendar.EventDateTime{DateTime: ev.EndDate.UTC().Format(time.RFC3339), TimeZone: ev.Timezone}
	}
	if ev.MeetingType == model.MeetingVideoCall {
		for _, email := range ev.Attendees {
			ge.Attendees = append(ge.Attendees, &calendar.EventAttendee{Email: email})
		}
	}
	return ge
}
