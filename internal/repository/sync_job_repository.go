package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
)

// SyncJobRepo persists the lifecycle of asynchronous sync/connect jobs.
type SyncJobRepo struct{ DB *sql.DB }

func NewSyncJobRepo(db *sql.DB) *SyncJobRepo { return &SyncJobRepo{DB: db} }

const jobCols = "id,user_id,type,status,created_at,started_at,completed_at,error,result"

func scanJob(row interface{ Scan(...any) error }) (model.SyncJob, error) {
	var (
		j         model.SyncJob
		started   sql.NullTime
		completed sql.NullTime
		errMsg    sql.NullString
		result    sql.NullString
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Type, &j.Status, &j.CreatedAt,
		&started, &completed, &errMsg, &result)
	if err != nil {
		return model.SyncJob{}, err
	}
	if started.Valid {
		j.StartedAt = started.Time
	}
	if completed.Valid {
		j.CompletedAt = completed.Time
	}
	j.Error = errMsg.String
	if result.Valid && result.String != "" {
		var res model.SyncResult
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return model.SyncJob{}, err
		}
		j.Result = &res
	}
	return j, nil
}

// CreateIfNoneActive atomically inserts a pending job unless the user
// already has a pending/processing job of the same type, in which case the
// existing job is returned and created is false.  The check-and-set runs
// inside one transaction so two simultaneous enqueues cannot both create.
func (r *SyncJobRepo) CreateIfNoneActive(ctx context.Context, job model.SyncJob) (model.SyncJob, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.SyncJob{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+jobCols+" FROM sync_jobs WHERE user_id=? AND type=? AND status IN ('pending','processing') LIMIT 1 FOR UPDATE",
		job.UserID, job.Type)
	existing, err := scanJob(row)
	if err == nil {
		return existing, false, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return model.SyncJob{}, false, err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO sync_jobs (id, user_id, type, status) VALUES (?,?,?,'pending')",
		job.ID, job.UserID, job.Type); err != nil {
		return model.SyncJob{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.SyncJob{}, false, err
	}

	job.Status = model.JobPending
	job.CreatedAt = time.Now().UTC()
	return job, true, nil
}

// Get returns a job snapshot.
func (r *SyncJobRepo) Get(ctx context.Context, id string) (model.SyncJob, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+jobCols+" FROM sync_jobs WHERE id=? LIMIT 1", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return model.SyncJob{}, ErrNotFound
	}
	return j, err
}

// MarkProcessing transitions pending → processing.  The status guard in
// the WHERE clause makes the transition happen at most once.
func (r *SyncJobRepo) MarkProcessing(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE sync_jobs SET status='processing', started_at=NOW() WHERE id=? AND status='pending'", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete transitions processing → completed with a result summary.
func (r *SyncJobRepo) Complete(ctx context.Context, id string, result *model.SyncResult) error {
	var res any
	if result != nil {
		bs, err := json.Marshal(result)
		if err != nil {
			return err
		}
		res = string(bs)
	}
	out, err := r.DB.ExecContext(ctx,
		"UPDATE sync_jobs SET status='completed', completed_at=NOW(), result=? WHERE id=? AND status='processing'",
		res, id)
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail transitions processing → failed with a human-readable summary.
func (r *SyncJobRepo) Fail(ctx context.Context, id, msg string) error {
	out, err := r.DB.ExecContext(ctx,
		"UPDATE sync_jobs SET status='failed', completed_at=NOW(), error=? WHERE id=? AND status IN ('pending','processing')",
		msg, id)
	if err != nil {
		return err
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
