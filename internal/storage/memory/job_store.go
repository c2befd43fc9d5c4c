package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/document"
)

// JobStore keeps crawl jobs in memory for development and tests.
type JobStore struct {
	clock Clock

	mu   sync.RWMutex
	jobs map[string]crawler.Job
}

// NewJobStore constructs a JobStore. A nil clock uses UTC wall time.
func NewJobStore(clock Clock) *JobStore {
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{
		clock: clock,
		jobs:  make(map[string]crawler.Job),
	}
}

// CreateJob stores a new job in pending status.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	now := s.clock.Now()
	if job.Status == "" {
		job.Status = crawler.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return cloneJob(job), nil
}

// ListJobs returns one page of jobs, newest first, and the filtered total.
func (s *JobStore) ListJobs(_ context.Context, opts crawler.JobListOptions) ([]crawler.Job, int, error) {
	page, limit := normalizePage(opts.Page, opts.Limit)
	s.mu.RLock()
	matched := make([]crawler.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if opts.Status != "" && job.Status != opts.Status {
			continue
		}
		matched = append(matched, cloneJob(job))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return window(matched, document.PageOffset(page, limit), limit), len(matched), nil
}

// UpdateStatus moves a job to status. Terminal jobs are left untouched.
func (s *JobStore) UpdateStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	progress int,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if job.Status.Terminal() {
		return nil
	}
	now := s.clock.Now()
	job.Status = status
	job.Progress = clampProgress(progress)
	job.ErrorText = errText
	job.UpdatedAt = now
	if status.Terminal() {
		job.CompletedAt = &now
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateProgress records progress for a running job.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Progress = clampProgress(progress)
	job.UpdatedAt = s.clock.Now()
	s.jobs[jobID] = job
	return nil
}

// CompleteByTarget stores result on every unfinished job for (url, sourceID)
// and marks it completed.
func (s *JobStore) CompleteByTarget(_ context.Context, url, sourceID string, result crawler.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for id, job := range s.jobs {
		if job.URL != url || job.SourceID != sourceID || job.Status.Terminal() {
			continue
		}
		res := result
		job.Result = &res
		job.Progress = 100
		job.Status = crawler.JobStatusCompleted
		job.UpdatedAt = now
		job.CompletedAt = &now
		s.jobs[id] = job
	}
	return nil
}

func clampProgress(p int) int {
	return min(100, max(0, p))
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return page, limit
}

func cloneJob(job crawler.Job) crawler.Job {
	job.Filters.Keywords = append([]string(nil), job.Filters.Keywords...)
	if job.Result != nil {
		res := *job.Result
		job.Result = &res
	}
	return job
}
