// Package timezone converts between naive wall-clock times and UTC
// instants.  All conversions are pure and deterministic given a (time,
// zone) pair; nothing here touches the network or the database.
package timezone

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CivilLayout is the naive date+time representation exchanged with
// clients: no offset, interpreted in an explicit IANA zone.
const CivilLayout = "2006-01-02T15:04:05"

// DateLayout is the date-only representation used by all-day events.
const DateLayout = "2006-01-02"

// ErrInvalidTimezone is returned when a zone name is not a recognised
// IANA identifier.  This is always a caller bug and is never retried.
var ErrInvalidTimezone = errors.New("invalid timezone")

func load(tz string) (*time.Location, error) {
	if tz == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return loc, nil
}

// Validate reports whether tz names a recognised IANA zone.
func Validate(tz string) error {
	_, err := load(tz)
	return err
}

// ToUTC interprets local (CivilLayout, or DateLayout for a bare date) as
// wall-clock time in tz and returns the equivalent absolute instant.
//
// DST policy: conversion goes through time.Date normalisation, so a local
// time that does not exist (spring-forward gap) rolls forward across the
// gap, and an ambiguous local time (fall-back hour) resolves to whichever
// offset time.Date picks for that zone.  Both outcomes are deterministic
// for a given Go release and tzdata, which is what callers rely on.
func ToUTC(local, tz string) (time.Time, error) {
	loc, err := load(tz)
	if err != nil {
		return time.Time{}, err
	}
	layout := CivilLayout
	if len(local) == len(DateLayout) {
		layout = DateLayout
	}
	t, err := time.ParseInLocation(layout, local, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse local time %q: %w", local, err)
	}
	return t.UTC(), nil
}

// FromUTC renders an absolute instant as the naive wall-clock time a user
// in tz would read off their clock.  It is the inverse of ToUTC outside
// DST transition boundaries, where the forward conversion is not
// injective.
func FromUTC(instant time.Time, tz string) (string, error) {
	loc, err := load(tz)
	if err != nil {
		return "", err
	}
	return instant.In(loc).Format(CivilLayout), nil
}

// DateInZone returns the calendar date an instant falls on in tz.  All-day
// events compare by this value only, ignoring time-of-day noise from
// different providers' representations.
func DateInZone(instant time.Time, tz string) (string, error) {
	loc, err := load(tz)
	if err != nil {
		return "", err
	}
	return instant.In(loc).Format(DateLayout), nil
}

// AllDayRange expands a DateLayout date into the UTC span of the whole
// local day in tz: local midnight through 23:59:59.  The start uses the
// offset in force at the preceding midnight boundary, so an all-day event
// on a DST transition date keeps the pre-transition offset.
func AllDayRange(date, tz string) (time.Time, time.Time, error) {
	loc, err := load(tz)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse date %q: %w", date, err)
	}
	start := d
	end := time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc)
	return start.UTC(), end.UTC(), nil
}

// OffsetOf resolves the DST-correct UTC offset of tz at a specific
// instant, formatted as a signed "±HH:MM" string.  Offsets shift with DST,
// so callers must not cache the result across dates.
func OffsetOf(tz string, instant time.Time) (string, error) {
	loc, err := load(tz)
	if err != nil {
		return "", err
	}
	_, secs := instant.In(loc).Zone()
	sign := "+"
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	return fmt.Sprintf("%s%02d:%02d", sign, secs/3600, (secs%3600)/60), nil
}

// twelveHourPrefixes and twelveHourZones approximate which locales
// conventionally use a 12-hour clock.  This is a UI formatting hint only,
// never authoritative.
var twelveHourPrefixes = []string{"America/", "Australia/", "Pacific/"}

var twelveHourZones = map[string]bool{
	"Asia/Manila":  true,
	"Asia/Kolkata": true,
	"Asia/Karachi": true,
	"Asia/Dhaka":   true,
	"Asia/Riyadh":  true,
	"Africa/Cairo": true,
}

// Is24HourFormat reports whether clients in tz conventionally read a
// 24-hour clock.  Unknown zones default to 24-hour.
func Is24HourFormat(tz string) bool {
	if twelveHourZones[tz] {
		return false
	}
	for _, p := range twelveHourPrefixes {
		if strings.HasPrefix(tz, p) {
			return false
		}
	}
	return true
}
