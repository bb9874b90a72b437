package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitshone/ht-cal-01-sub000/internal/model"
	"github.com/gitshone/ht-cal-01-sub000/internal/repository"
	"github.com/gitshone/ht-cal-01-sub000/internal/ws"
)

// memJobStore mirrors the SQL repo's status guards in memory.
type memJobStore struct {
	mu   sync.Mutex
	rows map[string]model.SyncJob
}

func newMemJobStore() *memJobStore { return &memJobStore{rows: map[string]model.SyncJob{}} }

func (m *memJobStore) CreateIfNoneActive(_ context.Context, job model.SyncJob) (model.SyncJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.rows {
		if j.UserID == job.UserID && j.Type == job.Type && !j.Status.Terminal() {
			return j, false, nil
		}
	}
	job.Status = model.JobPending
	job.CreatedAt = time.Now().UTC()
	m.rows[job.ID] = job
	return job, true, nil
}

func (m *memJobStore) Get(_ context.Context, id string) (model.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok {
		return model.SyncJob{}, repository.ErrNotFound
	}
	return j, nil
}

func (m *memJobStore) MarkProcessing(_ context.Context, id string) error {
	return m.transition(id, model.JobProcessing, func(j model.SyncJob) bool {
		return j.Status == model.JobPending
	})
}

func (m *memJobStore) Complete(_ context.Context, id string, result *model.SyncResult) error {
	return m.transition(id, model.JobCompleted, func(j model.SyncJob) bool {
		return j.Status == model.JobProcessing
	}, func(j *model.SyncJob) { j.Result = result })
}

func (m *memJobStore) Fail(_ context.Context, id, msg string) error {
	return m.transition(id, model.JobFailed, func(j model.SyncJob) bool {
		return j.Status == model.JobPending || j.Status == model.JobProcessing
	}, func(j *model.SyncJob) { j.Error = msg })
}

func (m *memJobStore) transition(id string, to model.JobStatus, guard func(model.SyncJob) bool, mutate ...func(*model.SyncJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[id]
	if !ok || !guard(j) {
		return repository.ErrNotFound
	}
	j.Status = to
	for _, fn := range mutate {
		fn(&j)
	}
	m.rows[id] = j
	return nil
}

type notification struct {
	userID uint64
	event  string
	data   map[string]any
}

type recordNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordNotifier) NotifyUser(userID uint64, event string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{userID: userID, event: event, data: data})
}

func (r *recordNotifier) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	for i, n := range r.sent {
		out[i] = n.event
	}
	return out
}

type recordPublisher struct {
	mu        sync.Mutex
	published []model.SyncJob
}

func (r *recordPublisher) PublishJobFinished(job model.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, job)
	return nil
}

func newTestTracker(store JobStore, notify Notifier, publish Publisher) *Tracker {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTracker(store, notify, publish, logger, time.Minute)
}

func TestEnqueueRunsJobToCompletion(t *testing.T) {
	store := newMemJobStore()
	notify := &recordNotifier{}
	publish := &recordPublisher{}
	tr := newTestTracker(store, notify, publish)

	result := &model.SyncResult{Synced: 4, Created: 2}
	job, err := tr.Enqueue(context.Background(), 1, model.JobSyncEvents, func(context.Context) (*model.SyncResult, error) {
		return result, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobPending, job.Status)

	tr.Wait()

	final, err := tr.GetStatus(context.Background(), 1, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	require.NotNil(t, final.Result)
	assert.Equal(t, 2, final.Result.Created)

	assert.Equal(t, []string{ws.EventSyncStarted, ws.EventSyncCompleted}, notify.events())
	require.Len(t, publish.published, 1)
	assert.Equal(t, model.JobCompleted, publish.published[0].Status)
}

func TestEnqueueReturnsExistingLiveJob(t *testing.T) {
	store := newMemJobStore()
	tr := newTestTracker(store, &recordNotifier{}, &recordPublisher{})

	release := make(chan struct{})
	first, err := tr.Enqueue(context.Background(), 1, model.JobSyncEvents, func(context.Context) (*model.SyncResult, error) {
		<-release
		return &model.SyncResult{}, nil
	})
	require.NoError(t, err)

	dup, err := tr.Enqueue(context.Background(), 1, model.JobSyncEvents, func(context.Context) (*model.SyncResult, error) {
		t.Fatal("duplicate work must never run")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrJobAlreadyInProgress)
	assert.Equal(t, first.ID, dup.ID, "caller gets the live job's id")

	// A different job type is not blocked.
	_, err = tr.Enqueue(context.Background(), 1, model.JobConnectCalendar, func(context.Context) (*model.SyncResult, error) {
		return &model.SyncResult{}, nil
	})
	require.NoError(t, err)

	close(release)
	tr.Wait()

	// With the first job terminal, the same type can be enqueued again.
	again, err := tr.Enqueue(context.Background(), 1, model.JobSyncEvents, func(context.Context) (*model.SyncResult, error) {
		return &model.SyncResult{}, nil
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
	tr.Wait()
}

func TestFailedJobRecordsErrorAndNotifies(t *testing.T) {
	store := newMemJobStore()
	notify := &recordNotifier{}
	publish := &recordPublisher{}
	tr := newTestTracker(store, notify, publish)

	job, err := tr.Enqueue(context.Background(), 3, model.JobSyncEvents, func(context.Context) (*model.SyncResult, error) {
		return nil, errors.New("all providers failed: google: boom")
	})
	require.NoError(t, err)
	tr.Wait()

	final, err := tr.GetStatus(context.Background(), 3, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, final.Status)
	assert.Contains(t, final.Error, "google: boom")

	assert.Equal(t, []string{ws.EventSyncStarted, ws.EventSyncFailed}, notify.events())
	require.Len(t, publish.published, 1)
	assert.Equal(t, model.JobFailed, publish.published[0].Status)
}

func TestConnectJobUsesConnectionEvents(t *testing.T) {
	store := newMemJobStore()
	notify := &recordNotifier{}
	tr := newTestTracker(store, notify, &recordPublisher{})

	_, err := tr.Enqueue(context.Background(), 2, model.JobConnectCalendar, func(context.Context) (*model.SyncResult, error) {
		return &model.SyncResult{Synced: 1, Created: 1}, nil
	})
	require.NoError(t, err)
	tr.Wait()

	assert.Equal(t, []string{ws.EventConnectionStarted, ws.EventConnectionCompleted}, notify.events())
}

func TestGetStatusUnknownAndForeignJobs(t *testing.T) {
	store := newMemJobStore()
	tr := newTestTracker(store, &recordNotifier{}, &recordPublisher{})

	_, err := tr.GetStatus(context.Background(), 1, "no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)

	job, err := tr.Enqueue(context.Background(), 1, model.JobSyncEvents, func(context.Context) (*model.SyncResult, error) {
		return &model.SyncResult{}, nil
	})
	require.NoError(t, err)
	tr.Wait()

	_, err = tr.GetStatus(context.Background(), 2, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound, "other users' jobs look like they do not exist")
}
