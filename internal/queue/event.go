// Package queue defines message payloads exchanged over the message broker.
package queue

// SyncJobFinishedEvent is published when a sync or connect job reaches a
// terminal state. It contains enough information for downstream consumers
// to log, notify, or trigger analytics without querying the primary
// database.
type SyncJobFinishedEvent struct {
	JobID      string `json:"job_id"`
	UserID     uint64 `json:"user_id"`
	JobType    string `json:"job_type"`
	Status     string `json:"status"`
	Synced     int    `json:"synced"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
	Error      string `json:"error,omitempty"`
	FinishedAt string `json:"finished_at"`
}
