package model

import "time"

// JobType distinguishes the kinds of asynchronous work the tracker runs.
type JobType string

const (
	JobSyncEvents      JobType = "sync_events"
	JobConnectCalendar JobType = "connect_calendar"
)

// JobStatus is the lifecycle state of a SyncJob.  Jobs move
// pending → processing → completed|failed; terminal states are final and a
// failed job requires a brand new job, no retry transition exists.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// ProviderSyncError captures one provider's failure inside an otherwise
// successful sync so partial failures are surfaced, never silently dropped.
type ProviderSyncError struct {
	Provider ProviderType `json:"provider"`
	Message  string       `json:"message"`
}

// SyncResult summarises what a completed sync did.
type SyncResult struct {
	Synced  int                 `json:"synced"`  // total events seen across providers
	Created int                 `json:"created"` // new local rows
	Updated int                 `json:"updated"` // changed local rows
	Deleted int                 `json:"deleted"` // provider-side cancellations removed
	Errors  []ProviderSyncError `json:"errors,omitempty"`
}

// SyncJob is an asynchronous unit of work tracked across its lifecycle and
// queryable while it runs.
type SyncJob struct {
	ID          string      // sync_jobs.id (uuid)
	UserID      uint64      // sync_jobs.user_id
	Type        JobType     // sync_jobs.type
	Status      JobStatus   // sync_jobs.status
	CreatedAt   time.Time   // sync_jobs.created_at
	StartedAt   time.Time   // sync_jobs.started_at (zero until processing)
	CompletedAt time.Time   // sync_jobs.completed_at (zero until terminal)
	Error       string      // sync_jobs.error (human-readable, failed only)
	Result      *SyncResult // sync_jobs.result (JSON column, completed only)
}
