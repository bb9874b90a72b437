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
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/timezone"
)

const graphBase = "https://graph.microsoft.com/v1.0"

// graphLayout is Graph's naive dateTime (no offset, zone carried
// separately); responses may append fractional seconds.
const graphLayout = "2006-01-02T15:04:05"

// MicrosoftAdapter speaks to the Microsoft Graph calendar endpoints for
// the signed-in user's default calendar.
type MicrosoftAdapter struct {
	cfg    *oauth2.Config
	logger *slog.Logger
}

// NewMicrosoft builds a Graph adapter from OAuth client credentials.
// tenant is usually "common" for multi-tenant apps.
func NewMicrosoft(clientID, clientSecret, redirectURL, tenant string, logger *slog.Logger) *MicrosoftAdapter {
	if tenant == "" {
		tenant = "common"
	}
	return &MicrosoftAdapter{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"offline_access",
				"https://graph.microsoft.com/Calendars.ReadWrite",
				"https://graph.microsoft.com/User.Read",
			},
			Endpoint: microsoft.AzureADEndpoint(tenant),
		},
		logger: logger,
	}
}

func (a *MicrosoftAdapter) Type() model.ProviderType { return model.ProviderMicrosoft }

func (a *MicrosoftAdapter) Authorize(ctx context.Context, code string) (model.UserIntegration, error) {
	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return model.UserIntegration{}, mapOAuthError(model.ProviderMicrosoft, err, false)
	}

	var me struct {
		ID                string `json:"id"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := a.doGraph(ctx, tok.AccessToken, http.MethodGet, graphBase+"/me", nil, &me); err != nil {
		return model.UserIntegration{}, err
	}
	account := me.Mail
	if account == "" {
		account = me.UserPrincipalName
	}

	a.logger.Info("microsoft authorized", "account", account)
	return model.UserIntegration{
		ProviderType: model.ProviderMicrosoft,
		ProviderID:   me.ID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        a.cfg.Scopes,
		IsActive:     true,
	}, nil
}

func (a *MicrosoftAdapter) RefreshToken(ctx context.Context, integ model.UserIntegration) (model.UserIntegration, error) {
	if integ.RefreshToken == "" {
		return integ, ErrReauthRequired
	}
	ts := a.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: integ.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return integ, mapOAuthError(model.ProviderMicrosoft, err, true)
	}
	integ.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		integ.RefreshToken = tok.RefreshToken
	}
	integ.ExpiresAt = tok.Expiry
	return integ, nil
}

// GraphEvent is Microsoft Graph's native event representation, reduced to
// the fields the canonical mapping consumes.
type GraphEvent struct {
	ID                    string         `json:"id"`
	Subject               string         `json:"subject"`
	BodyPreview           string         `json:"bodyPreview"`
	IsAllDay              bool           `json:"isAllDay"`
	Start                 GraphDateTime  `json:"start"`
	End                   GraphDateTime  `json:"end"`
	OriginalStartTimeZone string         `json:"originalStartTimeZone"`
	IsOnlineMeeting       bool           `json:"isOnlineMeeting"`
	OnlineMeeting         *GraphMeeting  `json:"onlineMeeting"`
	Location              GraphLocation  `json:"location"`
	Attendees             []GraphInvitee `json:"attendees"`
}

type GraphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type GraphMeeting struct {
	JoinURL string `json:"joinUrl"`
}

type GraphLocation struct {
	DisplayName string `json:"displayName"`
}

type GraphInvitee struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (a *MicrosoftAdapter) ListEvents(ctx context.Context, integ model.UserIntegration, w Window) ([]model.Event, error) {
	next := fmt.Sprintf("%s/me/calendarview?startDateTime=%s&endDateTime=%s&$top=100",
		graphBase,
		url.QueryEscape(w.Start.UTC().Format(time.RFC3339)),
		url.QueryEscape(w.End.UTC().Format(time.RFC3339)))

	var out []model.Event
	for next != "" {
		var page struct {
			Value    []GraphEvent `json:"value"`
			NextLink string       `json:"@odata.nextLink"`
		}
		if err := a.doGraph(ctx, integ.AccessToken, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Value {
			ev, err := MicrosoftToCanonical(item, integ.UserID)
			if err != nil {
				a.logger.Warn("skipping unmappable graph event", "id", item.ID, "error", err)
				continue
			}
			out = append(out, ev)
		}
		next = page.NextLink
	}
	return out, nil
}

func (a *MicrosoftAdapter) CreateEvent(ctx context.Context, integ model.UserIntegration, ev model.Event) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := a.doGraph(ctx, integ.AccessToken, http.MethodPost, graphBase+"/me/events", graphNative(ev), &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (a *MicrosoftAdapter) UpdateEvent(ctx context.Context, integ model.UserIntegration, ev model.Event) error {
	u := graphBase + "/me/events/" + url.PathEscape(ev.ProviderEventID)
	return a.doGraph(ctx, integ.AccessToken, http.MethodPatch, u, graphNative(ev), nil)
}

func (a *MicrosoftAdapter) DeleteEvent(ctx context.Context, integ model.UserIntegration, providerEventID string) error {
	u := graphBase + "/me/events/" + url.PathEscape(providerEventID)
	return a.doGraph(ctx, integ.AccessToken, http.MethodDelete, u, nil, nil)
}

// doGraph performs one authenticated Graph call and decodes the JSON
// response into out when non-nil.
func (a *MicrosoftAdapter) doGraph(ctx context.Context, accessToken, method, u string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal graph body: %w", err)
		}
		rdr = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	// Normalise returned dateTimes to UTC so parsing is uniform.
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
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

func (a *MicrosoftAdapter) mapStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthExpired
	case http.StatusTooManyRequests:
		return ErrQuotaExceeded
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	return &APIError{Provider: model.ProviderMicrosoft, StatusCode: resp.StatusCode, Message: msg}
}

// windowsToIANA covers the Windows zone names Graph commonly reports in
// originalStartTimeZone.  Unlisted zones fall back to UTC.
var windowsToIANA = map[string]string{
	"Eastern Standard Time":        "America/New_York",
	"Central Standard Time":        "America/Chicago",
	"Mountain Standard Time":       "America/Denver",
	"Pacific Standard Time":        "America/Los_Angeles",
	"GMT Standard Time":            "Europe/London",
	"W. Europe Standard Time":      "Europe/Berlin",
	"Romance Standard Time":        "Europe/Paris",
	"Central Europe Standard Time": "Europe/Budapest",
	"E. Europe Standard Time":      "Europe/Bucharest",
	"India Standard Time":          "Asia/Kolkata",
	"China Standard Time":          "Asia/Shanghai",
	"Tokyo Standard Time":          "Asia/Tokyo",
	"AUS Eastern Standard Time":    "Australia/Sydney",
	"New Zealand Standard Time":    "Pacific/Auckland",
	"UTC":                          "UTC",
}

func graphZoneToIANA(name string) string {
	if name == "" {
		return "UTC"
	}
	if iana, ok := windowsToIANA[name]; ok {
		return iana
	}
	// Graph echoes IANA names back unchanged when the client supplied one.
	if strings.Contains(name, "/") {
		return name
	}
	return "UTC"
}

func parseGraphTime(dt GraphDateTime) (time.Time, error) {
	raw := dt.DateTime
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	loc := time.UTC
	if z := graphZoneToIANA(dt.TimeZone); z != "UTC" {
		if l, err := time.LoadLocation(z); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse graph time %q: %w", dt.DateTime, err)
	}
	return t.UTC(), nil
}

// MicrosoftToCanonical maps a native Graph event to canonical form.  The
// authored timezone derives from originalStartTimeZone; unmapped Windows
// zones fall back to UTC.
func MicrosoftToCanonical(item GraphEvent, userID uint64) (model.Event, error) {
	tz := graphZoneToIANA(item.OriginalStartTimeZone)

	start, err := parseGraphTime(item.Start)
	if err != nil {
		return model.Event{}, err
	}
	end, err := parseGraphTime(item.End)
	if err != nil {
		return model.Event{}, err
	}

	ev := model.Event{
		ID:              model.EventID(model.ProviderMicrosoft, item.ID),
		UserID:          userID,
		ProviderType:    model.ProviderMicrosoft,
		ProviderEventID: item.ID,
		Title:           item.Subject,
		StartDate:       start,
		EndDate:         end,
		Timezone:        tz,
		Description:     item.BodyPreview,
		Location:        item.Location.DisplayName,
	}

	if item.IsAllDay {
		// Graph all-day events run midnight to midnight exclusive; pin the
		// end to the last covered local day like every other provider.
		ev.IsAllDay = true
		lastDay, err := timezone.DateInZone(end.Add(-time.Second), tz)
		if err == nil {
			if _, e, rerr := timezone.AllDayRange(lastDay, tz); rerr == nil {
				ev.EndDate = e
			}
		}
	}

	switch {
	case item.IsOnlineMeeting || item.OnlineMeeting != nil:
		ev.MeetingType = model.MeetingVideoCall
		if item.OnlineMeeting != nil {
			ev.MeetingURL = item.OnlineMeeting.JoinURL
		}
		for _, att := range item.Attendees {
			if att.EmailAddress.Address != "" {
				ev.Attendees = append(ev.Attendees, att.EmailAddress.Address)
			}
		}
	case item.Location.DisplayName != "":
		ev.MeetingType = model.MeetingInPerson
	default:
		ev.MeetingType = model.MeetingPhoneCall
	}
	return ev, nil
}

// graphNative maps a canonical event back to Graph's representation.
func graphNative(ev model.Event) map[string]any {
	tz := ev.Timezone
	if tz == "" {
		tz = "UTC"
	}
	body := map[string]any{
		"subject":  ev.Title,
		"isAllDay": ev.IsAllDay,
		"body": map[string]any{
			"contentType": "text",
			"content":     ev.Description,
		},
		"location": map[string]any{"displayName": ev.Location},
	}
	if ev.IsAllDay {
		startDay, _ := timezone.DateInZone(ev.StartDate, tz)
		endDay, _ := timezone.DateInZone(ev.EndDate, tz)
		// Graph wants an exclusive midnight end.
		if d, err := time.Parse(timezone.DateLayout, endDay); err == nil {
			endDay = d.AddDate(0, 0, 1).Format(timezone.DateLayout)
		}
		body["start"] = map[string]any{"dateTime": startDay + "T00:00:00", "timeZone": tz}
		body["end"] = map[string]any{"dateTime": endDay + "T00:00:00", "timeZone": tz}
	} else {
		body["start"] = map[string]any{"dateTime": ev.StartDate.UTC().Format(graphLayout), "timeZone": "UTC"}
		body["end"] = map[string]any{"dateTime": ev.EndDate.UTC().Format(graphLayout), "timeZone": "UTC"}
	}
	if ev.MeetingType == model.MeetingVideoCall {
		body["isOnlineMeeting"] = true
		var atts []map[string]any
		for _, email := range ev.Attendees {
			atts = append(atts, map[string]any{
				"emailAddress": map[string]any{"address": email},
				"type":         "required",
			})
		}
		if atts != nil {
			body["attendees"] = atts
		}
	}
	return body
}
