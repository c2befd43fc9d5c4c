package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/document"
)

const jobColumns = `id, url, source_id, status, progress, depth, filters, result,
COALESCE(error, ''), COALESCE(created_by, ''), created_at, updated_at, completed_at`

// notTerminal guards every job write so finished jobs stay finished.
const notTerminal = `status NOT IN ('completed', 'failed')`

// JobStore persists crawl jobs in scraping_jobs.
type JobStore struct {
	db    DB
	clock Clock
}

// NewJobStore builds a JobStore. A nil clock uses UTC wall time.
func NewJobStore(db DB, clock Clock) *JobStore {
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{db: db, clock: clock}
}

// CreateJob inserts job, defaulting to pending.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	now := s.clock.Now()
	if job.Status == "" {
		job.Status = crawler.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	filters, err := json.Marshal(job.Filters)
	if err != nil {
		return fmt.Errorf("marshal filters: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO scraping_jobs (
	id, url, source_id, status, progress, depth, filters, created_by, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.URL, job.SourceID, string(job.Status), job.Progress, job.Depth, filters,
		nullString(job.CreatedBy), job.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the job or crawler.ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// ListJobs returns one page of jobs, newest first, and the filtered total.
func (s *JobStore) ListJobs(ctx context.Context, opts crawler.JobListOptions) ([]crawler.Job, int, error) {
	page, limit := pageBounds(opts.Page, opts.Limit)
	filter := sq.Eq{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	total, err := countRows(ctx, s.db, psql.Select("COUNT(*)").From("scraping_jobs").Where(filter))
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	query, args, err := psql.Select(jobColumns).
		From("scraping_jobs").
		Where(filter).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(document.PageOffset(page, limit))).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list jobs: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	jobs := []crawler.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// UpdateStatus moves a job to status. Terminal jobs are left untouched.
func (s *JobStore) UpdateStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	progress int,
	errText string,
) error {
	now := s.clock.Now()
	var completedAt *time.Time
	if status.Terminal() {
		completedAt = &now
	}
	tag, err := s.db.Exec(ctx, `UPDATE scraping_jobs
SET status = $1, progress = $2, error = $3, updated_at = $4, completed_at = $5
WHERE id = $6 AND `+notTerminal,
		string(status), clampProgress(progress), nullString(errText), now, completedAt, jobID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireJob(ctx, jobID)
	}
	return nil
}

// UpdateProgress records progress for an unfinished job.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scraping_jobs SET progress = $1, updated_at = $2 WHERE id = $3 AND `+notTerminal,
		clampProgress(progress), s.clock.Now(), jobID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireJob(ctx, jobID)
	}
	return nil
}

// CompleteByTarget stores result on every unfinished job for (url, sourceID)
// and marks it completed.
func (s *JobStore) CompleteByTarget(ctx context.Context, url, sourceID string, result crawler.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := s.clock.Now()
	_, err = s.db.Exec(ctx, `UPDATE scraping_jobs
SET status = 'completed', progress = 100, result = $1, updated_at = $2, completed_at = $2
WHERE url = $3 AND source_id = $4 AND `+notTerminal,
		payload, now, url, sourceID,
	)
	if err != nil {
		return fmt.Errorf("complete jobs for %s: %w", url, err)
	}
	return nil
}

// requireJob distinguishes an unknown job from a terminal one after an
// update touched no rows.
func (s *JobStore) requireJob(ctx context.Context, jobID string) error {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scraping_jobs WHERE id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job %s: %w", jobID, err)
	}
	if !exists {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		job     crawler.Job
		status  string
		filters []byte
		result  []byte
	)
	err := row.Scan(&job.ID, &job.URL, &job.SourceID, &status, &job.Progress, &job.Depth, &filters,
		&result, &job.ErrorText, &job.CreatedBy, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt)
	if err != nil {
		return crawler.Job{}, err
	}
	job.Status = crawler.JobStatus(status)
	if err := unmarshalJSON(filters, &job.Filters); err != nil {
		return crawler.Job{}, fmt.Errorf("decode filters: %w", err)
	}
	if len(result) > 0 {
		var res crawler.Result
		if err := json.Unmarshal(result, &res); err != nil {
			return crawler.Job{}, fmt.Errorf("decode result: %w", err)
		}
		job.Result = &res
	}
	return job, nil
}

func clampProgress(p int) int {
	return min(100, max(0, p))
}
