package model

import "time"

// ProviderType identifies the external calendar platform an event or
// integration belongs to.
type ProviderType string

const (
	ProviderGoogle    ProviderType = "google"
	ProviderMicrosoft ProviderType = "microsoft"
	ProviderZoom      ProviderType = "zoom"
)

// Valid reports whether p is one of the supported providers.
func (p ProviderType) Valid() bool {
	switch p {
	case ProviderGoogle, ProviderMicrosoft, ProviderZoom:
		return true
	}
	return false
}

// MeetingType describes how an event is attended.
type MeetingType string

const (
	MeetingVideoCall MeetingType = "video_call"
	MeetingPhoneCall MeetingType = "phone_call"
	MeetingInPerson  MeetingType = "in_person"
)

// Event is the canonical calendar event, merged from all connected
// providers into one timezone-aware representation.
//
// Fields:
//
//	ID              – provider-qualified identifier ("<provider>_<native id>").
//	UserID          – owner of the event.
//	ProviderType    – platform the event originates from.
//	ProviderEventID – the provider's native event id; (ProviderType,
//	                  ProviderEventID) is the natural key used by sync.
//	Title           – event summary.
//	StartDate       – start as a UTC instant (events.start_date).
//	EndDate         – end as a UTC instant; never before StartDate.
//	IsAllDay        – all-day events span local midnight to end of day in
//	                  Timezone before UTC conversion.
//	Timezone        – IANA zone the event was authored in.
//	MeetingType     – video_call, phone_call or in_person.
//	Description     – free-form body.
//	Location        – physical location, if any.
//	MeetingURL      – join link; only set for video calls.
//	Attendees       – ordered attendee emails; only meaningful for
//	                  video calls.
type Event struct {
	ID              string       // events.id
	UserID          uint64       // events.user_id
	ProviderType    ProviderType // events.provider_type
	ProviderEventID string       // events.provider_event_id
	Title           string       // events.title
	StartDate       time.Time    // events.start_date (UTC)
	EndDate         time.Time    // events.end_date (UTC)
	IsAllDay        bool         // events.is_all_day
	Timezone        string       // events.timezone
	MeetingType     MeetingType  // events.meeting_type
	Description     string       // events.description
	Location        string       // events.location
	MeetingURL      string       // events.meeting_url
	Attendees       []string     // events.attendees (JSON column)
	CreatedAt       time.Time    // events.created_at
	UpdatedAt       time.Time    // events.updated_at
}

// EventID builds the provider-qualified canonical id so events from
// different platforms can never collide.
func EventID(p ProviderType, providerEventID string) string {
	return string(p) + "_" + providerEventID
}

// Equal reports whether the provider-sourced fields of two events match.
// Sync uses it to skip writes when a re-fetched event is unchanged.
func (e Event) Equal(o Event) bool {
	if e.Title != o.Title ||
		!e.StartDate.Equal(o.StartDate) ||
		!e.EndDate.Equal(o.EndDate) ||
		e.IsAllDay != o.IsAllDay ||
		e.Timezone != o.Timezone ||
		e.MeetingType != o.MeetingType ||
		e.Description != o.Description ||
		e.Location != o.Location ||
		e.MeetingURL != o.MeetingURL ||
		len(e.Attendees) != len(o.Attendees) {
		return false
	}
	for i := range e.Attendees {
		if e.Attendees[i] != o.Attendees[i] {
			return false
		}
	}
	return true
}
