// Package dispatcher contains tests for worker coordination and job submission.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/events"
	"github.com/JakeFAU/crawl-ingest/internal/storage/memory"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	dispatch := New(queue, []Runner{dequeuer{queue}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestDispatcherSubmit(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	jobs := memory.NewJobStore(nil)
	rec := &events.Recorder{}
	dispatch := New(queue, nil, WithJobStore(jobs, &fixedIDs{}), WithEvents(rec))

	job, err := dispatch.Submit(context.Background(), Submission{
		URL:     " https://s.test/news ",
		Filters: crawler.JobFilters{Keywords: []string{"bread"}},
		UserID:  "u-1",
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, crawler.GenericSourceID, job.SourceID)
	require.Equal(t, DefaultDepth, job.Depth)

	stored, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, stored.Status)
	require.Equal(t, "u-1", stored.CreatedBy)

	require.Len(t, queue.items, 1)
	require.Equal(t, crawler.QueueItem{
		JobID:    "job-1",
		URL:      "https://s.test/news",
		SourceID: crawler.GenericSourceID,
		Depth:    1,
		Filters:  crawler.JobFilters{Keywords: []string{"bread"}},
		UserID:   "u-1",
	}, queue.items[0])

	created := rec.OfType(events.TypeJobCreated)
	require.Len(t, created, 1)
	require.Equal(t, "job-1", created[0].JobID)
}

func TestDispatcherSubmitRejects(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore(nil)
	dispatch := New(&recordingQueue{}, nil, WithJobStore(jobs, &fixedIDs{}))

	_, err := dispatch.Submit(context.Background(), Submission{URL: "  "})
	require.ErrorIs(t, err, crawler.ErrEmptyURL)
	_, err = dispatch.Submit(context.Background(), Submission{URL: "ftp://s.test/x"})
	require.ErrorIs(t, err, ErrInvalidURL)
	_, err = dispatch.Submit(context.Background(), Submission{URL: "/relative"})
	require.ErrorIs(t, err, ErrInvalidURL)

	_, err = New(&recordingQueue{}, nil).Submit(context.Background(), Submission{URL: "https://s.test"})
	require.Error(t, err)
}

func TestDispatcherSubmitQueueFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	jobs := memory.NewJobStore(nil)
	dispatch := New(&errorQueue{err: errors.New("queue full")}, nil, WithJobStore(jobs, &fixedIDs{}))

	_, err := dispatch.Submit(context.Background(), Submission{URL: "https://s.test", Depth: 4})
	require.ErrorContains(t, err, "queue full")

	job, err := jobs.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, 4, job.Depth)
}

type fixedIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fixedIDs) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("job-%d", f.n), nil
}

type dequeuer struct{ q crawler.Queue }

func (d dequeuer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		_, _ = d.q.Dequeue(ctx)
	}
}

type recordingQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
}

func (q *recordingQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	<-ctx.Done()
	return crawler.QueueItem{}, ctx.Err()
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, nil
}
