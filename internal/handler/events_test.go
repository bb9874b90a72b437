package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

func rangeBounds(t *testing.T) (time.Time, time.Time) {
	t.Helper()
	return time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC), // 2024-06-01 00:00 America/New_York
		time.Date(2024, 7, 1, 3, 59, 59, 0, time.UTC) // 2024-06-30 23:59:59
}

func TestBucketKeysSingleDay(t *testing.T) {
	start, end := rangeBounds(t)
	e := model.Event{
		StartDate: time.Date(2024, 6, 10, 13, 0, 0, 0, time.UTC), // 09:00 local
		EndDate:   time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC),
	}

	keys, err := bucketKeys(e, "America/New_York", "day", start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-10"}, keys)
}

func TestBucketKeysMultiDayAppearsInEveryDay(t *testing.T) {
	start, end := rangeBounds(t)
	e := model.Event{
		StartDate: time.Date(2024, 6, 10, 22, 0, 0, 0, time.UTC), // June 10 18:00 local
		EndDate:   time.Date(2024, 6, 12, 16, 0, 0, 0, time.UTC), // June 12 12:00 local
	}

	keys, err := bucketKeys(e, "America/New_York", "day", start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-10", "2024-06-11", "2024-06-12"}, keys)
}

func TestBucketKeysLocalDateNotUTCDate(t *testing.T) {
	start, end := rangeBounds(t)
	// 01:00 UTC on June 11 is still June 10 in New York.
	e := model.Event{
		StartDate: time.Date(2024, 6, 11, 1, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 6, 11, 2, 0, 0, 0, time.UTC),
	}

	keys, err := bucketKeys(e, "America/New_York", "day", start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-10"}, keys)
}

func TestBucketKeysWeekView(t *testing.T) {
	start, end := rangeBounds(t)
	// Thursday June 13 through Tuesday June 18 spans two Monday-keyed weeks.
	e := model.Event{
		StartDate: time.Date(2024, 6, 13, 13, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 6, 18, 13, 0, 0, 0, time.UTC),
	}

	keys, err := bucketKeys(e, "America/New_York", "week", start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-10", "2024-06-17"}, keys)
}

func TestBucketKeysMonthView(t *testing.T) {
	start, end := rangeBounds(t)
	e := model.Event{
		StartDate: time.Date(2024, 6, 13, 13, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 6, 20, 13, 0, 0, 0, time.UTC),
	}

	keys, err := bucketKeys(e, "America/New_York", "month", start, end)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06"}, keys)
}

func TestBucketKeysClampedToRequestedRange(t *testing.T) {
	start, end := rangeBounds(t)
	// Event starts in May and ends in July; only June days are bucketed.
	e := model.Event{
		StartDate: time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC),
	}

	keys, err := bucketKeys(e, "America/New_York", "day", start, end)
	require.NoError(t, err)
	require.Len(t, keys, 30)
	assert.Equal(t, "2024-06-01", keys[0])
	assert.Equal(t, "2024-06-30", keys[len(keys)-1])
}

func strptr(s string) *string { return &s }

func TestApplyTimesTimedEvent(t *testing.T) {
	e := model.Event{}
	err := applyTimes(&e, strptr("2024-06-10T09:00:00"), strptr("2024-06-10T10:30:00"), "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 13, 0, 0, 0, time.UTC), e.StartDate)
	assert.Equal(t, time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC), e.EndDate)
	assert.Equal(t, "America/New_York", e.Timezone)
}

func TestApplyTimesDefaultsDuration(t *testing.T) {
	e := model.Event{}
	err := applyTimes(&e, strptr("2024-06-10T09:00:00"), nil, "UTC")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, e.EndDate.Sub(e.StartDate))
}

func TestApplyTimesRejectsInvertedRange(t *testing.T) {
	e := model.Event{}
	err := applyTimes(&e, strptr("2024-06-10T09:00:00"), strptr("2024-06-10T08:00:00"), "UTC")
	assert.Error(t, err)
}

func TestApplyTimesAllDayOnDSTTransition(t *testing.T) {
	e := model.Event{IsAllDay: true}
	err := applyTimes(&e, strptr("2024-03-10"), nil, "America/New_York")
	require.NoError(t, err)
	// Midnight local is still EST on the spring-forward date.
	assert.Equal(t, time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC), e.StartDate)
	assert.Equal(t, time.Date(2024, 3, 11, 3, 59, 59, 0, time.UTC), e.EndDate)
}

func TestApplyMeetingTypeInference(t *testing.T) {
	withLocation := model.Event{Location: "Room 4"}
	require.NoError(t, applyMeetingType(&withLocation, nil))
	assert.Equal(t, model.MeetingInPerson, withLocation.MeetingType)

	noLocation := model.Event{}
	require.NoError(t, applyMeetingType(&noLocation, nil))
	assert.Equal(t, model.MeetingVideoCall, noLocation.MeetingType)

	explicit := model.Event{}
	require.NoError(t, applyMeetingType(&explicit, strptr("phone_call")))
	assert.Equal(t, model.MeetingPhoneCall, explicit.MeetingType)

	bogus := model.Event{}
	assert.Error(t, applyMeetingType(&bogus, strptr("hologram")))
}
