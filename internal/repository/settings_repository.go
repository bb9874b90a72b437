package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

// SettingsRepo persists timezone and availability preferences.
type SettingsRepo struct{ DB *sql.DB }

func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{DB: db} }

// defaultSettings apply for users who never saved preferences.
func defaultSettings(userID uint64) model.UserSettings {
	return model.UserSettings{
		UserID:              userID,
		Timezone:            "UTC",
		DefaultWorkingHours: model.WorkingHours{Start: "09:00", End: "17:00"},
	}
}

// Get returns the user's settings, falling back to defaults when no row
// exists yet.
func (r *SettingsRepo) Get(ctx context.Context, userID uint64) (model.UserSettings, error) {
	var (
		s      model.UserSettings
		hours  sql.NullString
		blocks sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT user_id,timezone,working_hours,unavailability,updated_at FROM user_settings WHERE user_id=? LIMIT 1",
		userID).Scan(&s.UserID, &s.Timezone, &hours, &blocks, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return defaultSettings(userID), nil
	}
	if err != nil {
		return model.UserSettings{}, err
	}
	if hours.Valid && hours.String != "" {
		if err := json.Unmarshal([]byte(hours.String), &s.DefaultWorkingHours); err != nil {
			return model.UserSettings{}, err
		}
	}
	if blocks.Valid && blocks.String != "" {
		if err := json.Unmarshal([]byte(blocks.String), &s.Unavailability); err != nil {
			return model.UserSettings{}, err
		}
	}
	return s, nil
}

// Upsert saves the user's settings, creating the row on first write.
func (r *SettingsRepo) Upsert(ctx context.Context, s model.UserSettings) error {
	hours, err := json.Marshal(s.DefaultWorkingHours)
	if err != nil {
		return err
	}
	var blocks any
	if len(s.Unavailability) > 0 {
		bs, err := json.Marshal(s.Unavailability)
		if err != nil {
			return err
		}
		blocks = string(bs)
	}
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, timezone, working_hours, unavailability)
		 VALUES (?,?,?,?)
		 ON DUPLICATE KEY UPDATE
			timezone=VALUES(timezone),
			working_hours=VALUES(working_hours),
			unavailability=VALUES(unavailability),
			updated_at=NOW()`,
		s.UserID, s.Timezone, string(hours), blocks)
	return err
}
