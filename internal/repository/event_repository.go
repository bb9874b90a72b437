package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

// EventRepo persists canonical calendar events.  The natural key for sync
// is (provider_type, provider_event_id); the primary key is the
// provider-qualified id string.
type EventRepo struct{ DB *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{DB: db} }

const eventCols = "id,user_id,provider_type,provider_event_id,title,start_date,end_date,is_all_day,timezone,meeting_type,description,location,meeting_url,attendees,created_at,updated_at"

func scanEvent(row interface{ Scan(...any) error }) (model.Event, error) {
	var (
		e         model.Event
		attendees sql.NullString
	)
	err := row.Scan(&e.ID, &e.UserID, &e.ProviderType, &e.ProviderEventID, &e.Title,
		&e.StartDate, &e.EndDate, &e.IsAllDay, &e.Timezone, &e.MeetingType,
		&e.Description, &e.Location, &e.MeetingURL, &attendees, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return model.Event{}, err
	}
	if attendees.Valid && attendees.String != "" {
		if err := json.Unmarshal([]byte(attendees.String), &e.Attendees); err != nil {
			return model.Event{}, err
		}
	}
	return e, nil
}

func attendeesJSON(a []string) (any, error) {
	if len(a) == 0 {
		return nil, nil
	}
	bs, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(bs), nil
}

// Create inserts a new canonical event row.
func (r *EventRepo) Create(ctx context.Context, e model.Event) error {
	att, err := attendeesJSON(e.Attendees)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO events
			(id,user_id,provider_type,provider_event_id,title,start_date,end_date,is_all_day,timezone,meeting_type,description,location,meeting_url,attendees)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, e.ProviderType, e.ProviderEventID, e.Title,
		e.StartDate.UTC(), e.EndDate.UTC(), e.IsAllDay, e.Timezone, e.MeetingType,
		e.Description, e.Location, e.MeetingURL, att)
	return err
}

// Update overwrites the provider-sourced fields of an existing row.
func (r *EventRepo) Update(ctx context.Context, e model.Event) error {
	att, err := attendeesJSON(e.Attendees)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		`UPDATE events SET
			title=?, start_date=?, end_date=?, is_all_day=?, timezone=?,
			meeting_type=?, description=?, location=?, meeting_url=?, attendees=?, updated_at=NOW()
		 WHERE id=? AND user_id=?`,
		e.Title, e.StartDate.UTC(), e.EndDate.UTC(), e.IsAllDay, e.Timezone,
		e.MeetingType, e.Description, e.Location, e.MeetingURL, att,
		e.ID, e.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes one event owned by the user.
func (r *EventRepo) Delete(ctx context.Context, userID uint64, id string) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM events WHERE id=? AND user_id=?", id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID fetches one event owned by the user.
func (r *EventRepo) GetByID(ctx context.Context, userID uint64, id string) (model.Event, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+eventCols+" FROM events WHERE id=? AND user_id=? LIMIT 1", id, userID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return model.Event{}, ErrNotFound
	}
	return e, err
}

// EventQuery filters the range listing.
type EventQuery struct {
	Start    time.Time
	End      time.Time
	Provider model.ProviderType // zero value means all providers
	Search   string             // substring match on title/description/location
}

// ListRange returns the user's events overlapping [q.Start, q.End],
// optionally filtered, ordered by start time.
func (r *EventRepo) ListRange(ctx context.Context, userID uint64, q EventQuery) ([]model.Event, error) {
	where := []string{"user_id=?", "start_date <= ?", "end_date >= ?"}
	args := []any{userID, q.End.UTC(), q.Start.UTC()}

	if q.Provider != "" {
		where = append(where, "provider_type=?")
		args = append(args, q.Provider)
	}
	if q.Search != "" {
		needle := "%" + strings.ToLower(q.Search) + "%"
		where = append(where, "(LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(location) LIKE ?)")
		args = append(args, needle, needle, needle)
	}

	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+eventCols+" FROM events WHERE "+strings.Join(where, " AND ")+" ORDER BY start_date ASC",
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListForSync returns the stored events one provider contributed inside a
// window.  Sync diffs the provider's fresh response against this set.
func (r *EventRepo) ListForSync(ctx context.Context, userID uint64, p model.ProviderType, start, end time.Time) ([]model.Event, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+eventCols+" FROM events WHERE user_id=? AND provider_type=? AND start_date <= ? AND end_date >= ?",
		userID, p, end.UTC(), start.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
