package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

const zoomBase = "https://api.zoom.us/v2"

// zoomEndpoint is declared by hand; x/oauth2 ships no Zoom preset.
var zoomEndpoint = oauth2.Endpoint{
	AuthURL:  "https://zoom.us/oauth/authorize",
	TokenURL: "https://zoom.us/oauth/token",
}

// ZoomAdapter maps Zoom scheduled meetings onto the canonical event
// model.  Zoom has no general-purpose calendar, so every event it
// contributes is a video call.
type ZoomAdapter struct {
	cfg    *oauth2.Config
	logger *slog.Logger
}

// NewZoom builds a Zoom adapter from OAuth client credentials.
func NewZoom(clientID, clientSecret, redirectURL string, logger *slog.Logger) *ZoomAdapter {
	return &ZoomAdapter{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     zoomEndpoint,
		},
		logger: logger,
	}
}

func (a *ZoomAdapter) Type() model.ProviderType { return model.ProviderZoom }

func (a *ZoomAdapter) Authorize(ctx context.Context, code string) (model.UserIntegration, error) {
	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return model.UserIntegration{}, mapOAuthError(model.ProviderZoom, err, false)
	}

	var me struct {
		ID       string `json:"id"`
		Email    string `json:"email"`
		Timezone string `json:"timezone"`
	}
	if err := a.doZoom(ctx, tok.AccessToken, http.MethodGet, zoomBase+"/users/me", nil, &me); err != nil {
		return model.UserIntegration{}, err
	}

	a.logger.Info("zoom authorized", "account", me.Email)
	return model.UserIntegration{
		ProviderType: model.ProviderZoom,
		ProviderID:   me.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        []string{"meeting:read", "meeting:write", "user:read"},
		IsActive:     true,
	}, nil
}

func (a *ZoomAdapter) RefreshToken(ctx context.Context, integ model.UserIntegration) (model.UserIntegration, error) {
	if integ.RefreshToken == "" {
		return integ, ErrReauthRequired
	}
	ts := a.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: integ.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return integ, mapOAuthError(model.ProviderZoom, err, true)
	}
	integ.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		// Zoom rotates refresh tokens on every use.
		integ.RefreshToken = tok.RefreshToken
	}
	integ.ExpiresAt = tok.Expiry
	return integ, nil
}

// ZoomMeeting is Zoom's native scheduled-meeting representation, reduced
// to the fields the canonical mapping consumes.
type ZoomMeeting struct {
	ID        int64  `json:"id"`
	Topic     string `json:"topic"`
	Agenda    string `json:"agenda"`
	StartTime string `json:"start_time"` // RFC3339, UTC
	Duration  int    `json:"duration"`   // minutes
	Timezone  string `json:"timezone"`
	JoinURL   string `json:"join_url"`
}

func (a *ZoomAdapter) ListEvents(ctx context.Context, integ model.UserIntegration, w Window) ([]model.Event, error) {
	var out []model.Event
	for _, listType := range []string{"upcoming", "previous_meetings"} {
		page := 1
		for {
			u := fmt.Sprintf("%s/users/me/meetings?type=%s&page_size=300&page_number=%d",
				zoomBase, url.QueryEscape(listType), page)
			var resp struct {
				PageCount int           `json:"page_count"`
				Meetings  []ZoomMeeting `json:"meetings"`
			}
			if err := a.doZoom(ctx, integ.AccessToken, http.MethodGet, u, nil, &resp); err != nil {
				return nil, err
			}
			for _, m := range resp.Meetings {
				ev, err := ZoomToCanonical(m, integ.UserID)
				if err != nil {
					a.logger.Warn("skipping unmappable zoom meeting", "id", m.ID, "error", err)
					continue
				}
				// Zoom's list endpoints take no window; filter here.
				if ev.EndDate.Before(w.Start) || ev.StartDate.After(w.End) {
					continue
				}
				out = append(out, ev)
			}
			if page >= resp.PageCount {
				break
			}
			page++
		}
	}
	return out, nil
}

func (a *ZoomAdapter) CreateEvent(ctx context.Context, integ model.UserIntegration, ev model.Event) (string, error) {
	var created struct {
		ID int64 `json:"id"`
	}
	if err := a.doZoom(ctx, integ.AccessToken, http.MethodPost, zoomBase+"/users/me/meetings", zoomNative(ev), &created); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", created.ID), nil
}

func (a *ZoomAdapter) UpdateEvent(ctx context.Context, integ model.UserIntegration, ev model.Event) error {
	u := zoomBase + "/meetings/" + url.PathEscape(ev.ProviderEventID)
	return a.doZoom(ctx, integ.AccessToken, http.MethodPatch, u, zoomNative(ev), nil)
}

func (a *ZoomAdapter) DeleteEvent(ctx context.Context, integ model.UserIntegration, providerEventID string) error {
	u := zoomBase + "/meetings/" + url.PathEscape(providerEventID)
	return a.doZoom(ctx, integ.AccessToken, http.MethodDelete, u, nil, nil)
}

func (a *ZoomAdapter) doZoom(ctx context.Context, accessToken, method, u string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal zoom body: %w", err)
		}
		rdr = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return a.mapStatus(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *ZoomAdapter) mapStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusTooManyRequests:
		return ErrQuotaExceeded
	}
	var body struct {
		Message string `json:"message"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
		msg = body.Message
	}
	return &APIError{Provider: model.ProviderZoom, StatusCode: resp.StatusCode, Message: msg}
}

// ZoomToCanonical maps a native Zoom meeting to canonical form.  The end
// time derives from start + duration; meetings without a start time (PMI,
// recurring templates) are rejected.
func ZoomToCanonical(m ZoomMeeting, userID uint64) (model.Event, error) {
	if m.StartTime == "" {
		return model.Event{}, fmt.Errorf("zoom meeting %d has no start time", m.ID)
	}
	start, err := time.Parse(time.RFC3339, m.StartTime)
	if err != nil {
		return model.Event{}, fmt.Errorf("parse zoom start %q: %w", m.StartTime, err)
	}
	dur := m.Duration
	if dur <= 0 {
		dur = 30
	}
	tz := m.Timezone
	if tz == "" {
		tz = "UTC"
	}
	id := fmt.Sprintf("%d", m.ID)
	return model.Event{
		ID:              model.EventID(model.ProviderZoom, id),
		UserID:          userID,
		ProviderType:    model.ProviderZoom,
		ProviderEventID: id,
		Title:           m.Topic,
		StartDate:       start.UTC(),
		EndDate:         start.UTC().Add(time.Duration(dur) * time.Minute),
		Timezone:        tz,
		MeetingType:     model.MeetingVideoCall,
		Description:     m.Agenda,
		MeetingURL:      m.JoinURL,
	}, nil
}

// zoomNative maps a canonical event back to Zoom's meeting representation.
func zoomNative(ev model.Event) map[string]any {
	dur := int(ev.EndDate.Sub(ev.StartDate) / time.Minute)
	if dur <= 0 {
		dur = 30
	}
	tz := ev.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return map[string]any{
		"topic":      ev.Title,
		"agenda":     ev.Description,
		"type":       2, // scheduled meeting
		"start_time": ev.StartDate.UTC().Format(time.RFC3339),
		"duration":   dur,
		"timezone":   tz,
	}
}
