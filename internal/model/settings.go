package model

import "time"

// WorkingHours is a daily availability window expressed as wall-clock
// "HH:MM" strings in the user's timezone.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// UnavailabilityBlock marks a span during which the user cannot be booked.
type UnavailabilityBlock struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Note  string    `json:"note,omitempty"`
}

// UserSettings holds timezone and availability preferences.  The sync
// subsystem only consumes these values: Timezone resolves the user's
// "current timezone" whenever a request supplies no override.
type UserSettings struct {
	UserID              uint64                // user_settings.user_id
	Timezone            string                // user_settings.timezone (IANA)
	DefaultWorkingHours WorkingHours          // user_settings.working_hours (JSON column)
	Unavailability      []UnavailabilityBlock // user_settings.unavailability (JSON column)
	UpdatedAt           time.Time             // user_settings.updated_at
}
