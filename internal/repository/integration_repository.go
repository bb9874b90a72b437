package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

// IntegrationRepo persists provider connections.  A unique key on
// (user_id, provider_type) guarantees at most one row per pair;
// reconnecting upserts tokens back into the same row, and disconnecting
// only flips is_active so the audit trail survives.
type IntegrationRepo struct{ DB *sql.DB }

func NewIntegrationRepo(db *sql.DB) *IntegrationRepo { return &IntegrationRepo{DB: db} }

const integrationCols = "id,user_id,provider_type,provider_id,access_token,refresh_token,expires_at,scope,is_active,last_sync_at,created_at,updated_at"

func scanIntegration(row interface{ Scan(...any) error }) (model.UserIntegration, error) {
	var (
		in       model.UserIntegration
		refresh  sql.NullString
		expires  sql.NullTime
		scope    sql.NullString
		lastSync sql.NullTime
	)
	err := row.Scan(&in.ID, &in.UserID, &in.ProviderType, &in.ProviderID,
		&in.AccessToken, &refresh, &expires, &scope, &in.IsActive, &lastSync,
		&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return model.UserIntegration{}, err
	}
	in.RefreshToken = refresh.String
	if expires.Valid {
		in.ExpiresAt = expires.Time
	}
	if scope.Valid && scope.String != "" {
		in.Scope = strings.Split(scope.String, " ")
	}
	if lastSync.Valid {
		in.LastSyncAt = lastSync.Time
	}
	return in, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Upsert creates or reactivates the user's connection to one provider,
// replacing its credentials.
func (r *IntegrationRepo) Upsert(ctx context.Context, in model.UserIntegration) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO user_integrations
			(user_id, provider_type, provider_id, access_token, refresh_token, expires_at, scope, is_active)
		 VALUES (?,?,?,?,?,?,?,1)
		 ON DUPLICATE KEY UPDATE
			provider_id=VALUES(provider_id),
			access_token=VALUES(access_token),
			refresh_token=VALUES(refresh_token),
			expires_at=VALUES(expires_at),
			scope=VALUES(scope),
			is_active=1,
			updated_at=NOW()`,
		in.UserID, in.ProviderType, in.ProviderID, in.AccessToken,
		nullStr(in.RefreshToken), nullTime(in.ExpiresAt), strings.Join(in.Scope, " "))
	return err
}

// GetActive fetches the user's active connection to one provider.
func (r *IntegrationRepo) GetActive(ctx context.Context, userID uint64, p model.ProviderType) (model.UserIntegration, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+integrationCols+" FROM user_integrations WHERE user_id=? AND provider_type=? AND is_active=1 LIMIT 1",
		userID, p)
	in, err := scanIntegration(row)
	if err == sql.ErrNoRows {
		return model.UserIntegration{}, ErrNotFound
	}
	return in, err
}

// ListByUser returns every connection row for the user, active or not.
func (r *IntegrationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.UserIntegration, error) {
	return r.list(ctx, "SELECT "+integrationCols+" FROM user_integrations WHERE user_id=? ORDER BY provider_type", userID)
}

// ListActive returns the user's active connections only; these are the
// providers a sync fans out to.
func (r *IntegrationRepo) ListActive(ctx context.Context, userID uint64) ([]model.UserIntegration, error) {
	return r.list(ctx, "SELECT "+integrationCols+" FROM user_integrations WHERE user_id=? AND is_active=1 ORDER BY provider_type", userID)
}

func (r *IntegrationRepo) list(ctx context.Context, query string, args ...any) ([]model.UserIntegration, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserIntegration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// UpdateTokens stores refreshed credentials.
func (r *IntegrationRepo) UpdateTokens(ctx context.Context, in model.UserIntegration) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE user_integrations SET access_token=?, refresh_token=?, expires_at=?, updated_at=NOW() WHERE user_id=? AND provider_type=?",
		in.AccessToken, nullStr(in.RefreshToken), nullTime(in.ExpiresAt), in.UserID, in.ProviderType)
	return err
}

// Deactivate stops future syncs for a provider without deleting the row
// or any already-synced events.  Idempotent.
func (r *IntegrationRepo) Deactivate(ctx context.Context, userID uint64, p model.ProviderType) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE user_integrations SET is_active=0, updated_at=NOW() WHERE user_id=? AND provider_type=?",
		userID, p)
	return err
}

// TouchLastSync records the completion time of a successful sync.
func (r *IntegrationRepo) TouchLastSync(ctx context.Context, userID uint64, p model.ProviderType, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE user_integrations SET last_sync_at=?, updated_at=NOW() WHERE user_id=? AND provider_type=?",
		at.UTC(), userID, p)
	return err
}
