// Package jobs tracks asynchronous sync and connect work across its
// lifecycle.  Enqueue admits at most one live job per (user, type), the
// job runs on a background goroutine detached from the request, and every
// transition is pushed to the user's WebSocket connections.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/repository"
	"github.com/gitshone/ht-cal-01-sub000/internal/ws"
)

var (
	// ErrJobAlreadyInProgress is returned by Enqueue when the user already
	// has a pending or processing job of the same type.  The returned job
	// is the existing one so callers can hand its id back.
	ErrJobAlreadyInProgress = errors.New("job already in progress")

	// ErrJobNotFound is returned by GetStatus for unknown ids and for jobs
	// owned by somebody else.
	ErrJobNotFound = errors.New("job not found")
)

// Work is the unit a job executes, supplied by the caller: a full provider
// sync, or an OAuth exchange plus initial sync for connect jobs.
type Work func(ctx context.Context) (*model.SyncResult, error)

// JobStore is the persistence slice the tracker needs.
// *repository.SyncJobRepo satisfies it.
type JobStore interface {
	CreateIfNoneActive(ctx context.Context, job model.SyncJob) (model.SyncJob, bool, error)
	Get(ctx context.Context, id string) (model.SyncJob, error)
	MarkProcessing(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, result *model.SyncResult) error
	Fail(ctx context.Context, id, msg string) error
}

// Notifier pushes job transitions to the user.  *ws.Hub satisfies it.
type Notifier interface {
	NotifyUser(userID uint64, event string, data map[string]any)
}

// Publisher records finished jobs on the audit trail.
// *queue_publisher.Publisher satisfies it.
type Publisher interface {
	PublishJobFinished(job model.SyncJob) error
}

// Tracker owns the job lifecycle.  Transitions run through SQL status
// guards, so even a duplicated goroutine cannot complete a job twice.
type Tracker struct {
	store      JobStore
	notify     Notifier
	publish    Publisher
	logger     *slog.Logger
	jobTimeout time.Duration

	wg sync.WaitGroup
}

// NewTracker wires a tracker.  jobTimeout bounds a whole job run; zero
// falls back to 5 minutes.
func NewTracker(store JobStore, notify Notifier, publish Publisher, logger *slog.Logger, jobTimeout time.Duration) *Tracker {
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Tracker{
		store:      store,
		notify:     notify,
		publish:    publish,
		logger:     logger,
		jobTimeout: jobTimeout,
	}
}

// Enqueue creates a pending job and starts it in the background, unless a
// job of the same type is already live for the user, in which case the
// existing job is returned together with ErrJobAlreadyInProgress.
func (t *Tracker) Enqueue(ctx context.Context, userID uint64, typ model.JobType, work Work) (model.SyncJob, error) {
	job, created, err := t.store.CreateIfNoneActive(ctx, model.SyncJob{
		ID:     uuid.NewString(),
		UserID: userID,
		Type:   typ,
	})
	if err != nil {
		return model.SyncJob{}, fmt.Errorf("create job: %w", err)
	}
	if !created {
		return job, ErrJobAlreadyInProgress
	}

	t.wg.Add(1)
	go t.run(job, work)
	return job, nil
}

// GetStatus returns a snapshot of the user's job.  Jobs owned by other
// users are reported as not found rather than forbidden.
func (t *Tracker) GetStatus(ctx context.Context, userID uint64, jobID string) (model.SyncJob, error) {
	job, err := t.store.Get(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.SyncJob{}, ErrJobNotFound
	}
	if err != nil {
		return model.SyncJob{}, err
	}
	if job.UserID != userID {
		return model.SyncJob{}, ErrJobNotFound
	}
	return job, nil
}

// Wait blocks until every in-flight job has reached a terminal state.
// Called on shutdown.
func (t *Tracker) Wait() { t.wg.Wait() }

// run drives one job from pending to terminal.  It deliberately uses a
// fresh context: the HTTP request that enqueued the job is long gone by
// the time the work finishes.
func (t *Tracker) run(job model.SyncJob, work Work) {
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), t.jobTimeout)
	defer cancel()

	if err := t.store.MarkProcessing(ctx, job.ID); err != nil {
		t.logger.Error("job never reached processing", "job", job.ID, "error", err)
		return
	}
	t.notify.NotifyUser(job.UserID, startedEvent(job.Type), map[string]any{"jobId": job.ID})

	result, err := work(ctx)
	if err != nil {
		t.fail(ctx, job, err)
		return
	}
	t.complete(ctx, job, result)
}

func (t *Tracker) complete(ctx context.Context, job model.SyncJob, result *model.SyncResult) {
	if err := t.store.Complete(ctx, job.ID, result); err != nil {
		t.logger.Error("mark job completed failed", "job", job.ID, "error", err)
		return
	}
	job.Status = model.JobCompleted
	job.Result = result
	job.CompletedAt = time.Now().UTC()

	t.notify.NotifyUser(job.UserID, finishedEvent(job.Type, true), map[string]any{
		"jobId":  job.ID,
		"result": result,
	})
	t.audit(job)
	t.logger.Info("job completed", "job", job.ID, "type", job.Type, "user", job.UserID)
}

func (t *Tracker) fail(ctx context.Context, job model.SyncJob, cause error) {
	if err := t.store.Fail(ctx, job.ID, cause.Error()); err != nil {
		t.logger.Error("mark job failed failed", "job", job.ID, "error", err)
		return
	}
	job.Status = model.JobFailed
	job.Error = cause.Error()
	job.CompletedAt = time.Now().UTC()

	t.notify.NotifyUser(job.UserID, finishedEvent(job.Type, false), map[string]any{
		"jobId": job.ID,
		"error": cause.Error(),
	})
	t.audit(job)
	t.logger.Warn("job failed", "job", job.ID, "type", job.Type, "user", job.UserID, "error", cause)
}

func (t *Tracker) audit(job model.SyncJob) {
	if t.publish == nil {
		return
	}
	if err := t.publish.PublishJobFinished(job); err != nil {
		t.logger.Warn("publish job audit event failed", "job", job.ID, "error", err)
	}
}

func startedEvent(typ model.JobType) string {
	if typ == model.JobConnectCalendar {
		return ws.EventConnectionStarted
	}
	return ws.EventSyncStarted
}

func finishedEvent(typ model.JobType, ok bool) string {
	if typ == model.JobConnectCalendar {
		if ok {
			return ws.EventConnectionCompleted
		}
		return ws.EventConnectionFailed
	}
	if ok {
		return ws.EventSyncCompleted
	}
	return ws.EventSyncFailed
}
