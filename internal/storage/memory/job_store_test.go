package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore(newStepClock())
	ctx := context.Background()
	job := crawler.Job{ID: "job-1", URL: "https://example.com", SourceID: "src"}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job), "duplicate id")

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, got.Status)
	require.False(t, got.CreatedAt.IsZero())

	require.NoError(t, store.UpdateStatus(ctx, job.ID, crawler.JobStatusRunning, 0, ""))
	require.NoError(t, store.UpdateProgress(ctx, job.ID, 140))
	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, got.Status)
	require.Equal(t, 100, got.Progress)
	require.Nil(t, got.CompletedAt)

	require.NoError(t, store.UpdateStatus(ctx, job.ID, crawler.JobStatusFailed, 0, "boom"))
	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, "boom", got.ErrorText)
	require.NotNil(t, got.CompletedAt)

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.ErrorIs(t, store.UpdateProgress(ctx, "missing", 1), crawler.ErrJobNotFound)
}

func TestJobStoreTerminalIsSticky(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "j", URL: "u", SourceID: "s"}))
	require.NoError(t, store.UpdateStatus(ctx, "j", crawler.JobStatusCompleted, 100, ""))

	require.NoError(t, store.UpdateStatus(ctx, "j", crawler.JobStatusRunning, 0, ""))
	require.NoError(t, store.UpdateProgress(ctx, "j", 5))
	got, err := store.GetJob(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
}

func TestJobStoreCompleteByTarget(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "a", URL: "https://x", SourceID: "s"}))
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "b", URL: "https://x", SourceID: "other"}))
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "c", URL: "https://x", SourceID: "s"}))
	require.NoError(t, store.UpdateStatus(ctx, "c", crawler.JobStatusFailed, 0, "earlier"))

	result := crawler.Result{DocumentsCreated: 1, PagesProcessed: 2, BytesProcessed: 300}
	require.NoError(t, store.CompleteByTarget(ctx, "https://x", "s", result))

	a, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusCompleted, a.Status)
	require.Equal(t, 100, a.Progress)
	require.Equal(t, &result, a.Result)

	b, err := store.GetJob(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPending, b.Status)
	require.Nil(t, b.Result)

	c, err := store.GetJob(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, c.Status)
}

func TestJobStoreListJobs(t *testing.T) {
	t.Parallel()

	store := NewJobStore(newStepClock())
	ctx := context.Background()
	for _, id := range []string{"j1", "j2", "j3"} {
		require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: id, URL: "u"}))
	}
	require.NoError(t, store.UpdateStatus(ctx, "j2", crawler.JobStatusRunning, 10, ""))

	jobs, total, err := store.ListJobs(ctx, crawler.JobListOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, []string{"j3", "j2", "j1"}, jobIDs(jobs))

	jobs, total, err = store.ListJobs(ctx, crawler.JobListOptions{Status: crawler.JobStatusPending, Limit: 1, Page: 2})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, []string{"j1"}, jobIDs(jobs))

	jobs, total, err = store.ListJobs(ctx, crawler.JobListOptions{Limit: 50, Page: math.MaxInt / 10})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Empty(t, jobs)
}

func jobIDs(jobs []crawler.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
