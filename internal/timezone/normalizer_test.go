package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUTCFromUTCRoundTrip(t *testing.T) {
	cases := []struct {
		local string
		tz    string
	}{
		{"2024-06-15T09:30:00", "America/New_York"},
		{"2024-06-15T09:30:00", "Europe/Berlin"},
		{"2024-01-02T23:59:59", "Asia/Tokyo"},
		{"2024-12-31T00:00:00", "Pacific/Auckland"},
		{"2024-02-29T12:00:00", "UTC"},
		{"2024-07-04T18:15:00", "Asia/Kolkata"},
	}
	for _, tc := range cases {
		utc, err := ToUTC(tc.local, tc.tz)
		require.NoError(t, err, "%s in %s", tc.local, tc.tz)
		back, err := FromUTC(utc, tc.tz)
		require.NoError(t, err)
		assert.Equal(t, tc.local, back, "round trip in %s", tc.tz)
	}
}

func TestToUTCInvalidTimezone(t *testing.T) {
	_, err := ToUTC("2024-06-15T09:30:00", "Mars/Olympus_Mons")
	assert.ErrorIs(t, err, ErrInvalidTimezone)

	_, err = ToUTC("2024-06-15T09:30:00", "")
	assert.ErrorIs(t, err, ErrInvalidTimezone)

	_, err = FromUTC(time.Now(), "Not/AZone")
	assert.ErrorIs(t, err, ErrInvalidTimezone)
}

func TestToUTCBadLocalTime(t *testing.T) {
	_, err := ToUTC("not-a-time", "UTC")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTimezone)
}

// A US spring-forward date: midnight precedes the 02:00 transition, so the
// all-day start must carry the EST offset (-05:00), not EDT.
func TestAllDayRangeDSTTransition(t *testing.T) {
	start, end, err := AllDayRange("2024-03-10", "America/New_York")
	require.NoError(t, err)

	assert.Equal(t, "2024-03-10T05:00:00Z", start.Format(time.RFC3339))
	// 23:59:59 local is after the transition, so the end is EDT (-04:00).
	assert.Equal(t, "2024-03-11T03:59:59Z", end.Format(time.RFC3339))

	// Date-only readback lands on the same calendar day.
	d, err := DateInZone(start, "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", d)
}

// A local time inside the spring-forward gap does not exist; the policy is
// whatever time.Date normalisation yields, which must be deterministic.
func TestToUTCNonexistentLocalTimeDeterministic(t *testing.T) {
	a, err := ToUTC("2024-03-10T02:30:00", "America/New_York")
	require.NoError(t, err)
	b, err := ToUTC("2024-03-10T02:30:00", "America/New_York")
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestToUTCDateOnly(t *testing.T) {
	got, err := ToUTC("2024-03-10", "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10T05:00:00Z", got.Format(time.RFC3339))
}

func TestOffsetOf(t *testing.T) {
	winter := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	summer := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)

	off, err := OffsetOf("America/New_York", winter)
	require.NoError(t, err)
	assert.Equal(t, "-05:00", off)

	off, err = OffsetOf("America/New_York", summer)
	require.NoError(t, err)
	assert.Equal(t, "-04:00", off)

	off, err = OffsetOf("Asia/Kolkata", winter)
	require.NoError(t, err)
	assert.Equal(t, "+05:30", off)

	off, err = OffsetOf("UTC", winter)
	require.NoError(t, err)
	assert.Equal(t, "+00:00", off)

	_, err = OffsetOf("Bad/Zone", winter)
	assert.ErrorIs(t, err, ErrInvalidTimezone)
}

func TestIs24HourFormat(t *testing.T) {
	assert.False(t, Is24HourFormat("America/New_York"))
	assert.False(t, Is24HourFormat("Asia/Manila"))
	assert.False(t, Is24HourFormat("Australia/Sydney"))
	assert.True(t, Is24HourFormat("Europe/Berlin"))
	assert.True(t, Is24HourFormat("Asia/Tokyo"))
	assert.True(t, Is24HourFormat("UTC"))
}
