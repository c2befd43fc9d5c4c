// Package dispatcher accepts crawl submissions and fans queued work out to
// a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/events"
)

// DefaultDepth is the page budget of a job submitted without one.
const DefaultDepth = 1

// ErrInvalidURL is returned for submissions whose URL is not absolute http(s).
var ErrInvalidURL = errors.New("invalid crawl url")

// Runner is one queue consumer.
type Runner interface {
	Run(ctx context.Context)
}

// Submission is a request to crawl URL.
type Submission struct {
	URL      string             `json:"url"`
	SourceID string             `json:"sourceId,omitempty"`
	Depth    int                `json:"depth,omitempty"`
	Filters  crawler.JobFilters `json:"filters"`
	UserID   string             `json:"-"`
}

// Dispatcher fans out queue work to a pool of workers and records new jobs
// before enqueueing them.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
	jobs    crawler.JobStore
	ids     crawler.IDGenerator
	clock   crawler.Clock
	events  events.Emitter
	logger  *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithJobStore enables Submit, which needs somewhere to record jobs and a
// source of job IDs.
func WithJobStore(jobs crawler.JobStore, ids crawler.IDGenerator) Option {
	return func(d *Dispatcher) {
		d.jobs = jobs
		d.ids = ids
	}
}

// WithEvents publishes scraping_job_created on submit.
func WithEvents(e events.Emitter) Option {
	return func(d *Dispatcher) {
		if e != nil {
			d.events = e
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		workers: workers,
		clock:   utcClock{},
		events:  events.Nop{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit validates sub, stores a pending job, announces it and enqueues it.
// An empty source id is recorded as the generic source.
func (d *Dispatcher) Submit(ctx context.Context, sub Submission) (crawler.Job, error) {
	if d.jobs == nil || d.ids == nil {
		return crawler.Job{}, errors.New("submit: no job store configured")
	}
	target := strings.TrimSpace(sub.URL)
	if target == "" {
		return crawler.Job{}, crawler.ErrEmptyURL
	}
	if err := ValidateURL(target); err != nil {
		return crawler.Job{}, err
	}
	id, err := d.ids.NewID()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("submit: %w", err)
	}
	depth := sub.Depth
	if depth < 1 {
		depth = DefaultDepth
	}
	now := d.clock.Now()
	job := crawler.Job{
		ID:        id,
		URL:       target,
		SourceID:  crawler.SourceIDOrGeneric(sub.SourceID),
		Status:    crawler.JobStatusPending,
		Depth:     depth,
		Filters:   sub.Filters,
		CreatedBy: sub.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, fmt.Errorf("create job: %w", err)
	}
	item := crawler.QueueItem{
		JobID:    job.ID,
		URL:      job.URL,
		SourceID: job.SourceID,
		Depth:    job.Depth,
		Filters:  job.Filters,
		UserID:   job.CreatedBy,
	}
	if err := d.Enqueue(ctx, item); err != nil {
		errText := err.Error()
		if uerr := d.jobs.UpdateStatus(context.WithoutCancel(ctx), job.ID, crawler.JobStatusFailed, 0, errText); uerr != nil {
			d.logger.Warn("mark unqueued job failed", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		return crawler.Job{}, err
	}
	d.events.Emit(events.JobEvent(events.TypeJobCreated, now, job.ID, job.URL, ""))
	d.logger.Info("job submitted", zap.String("job_id", job.ID), zap.String("url", job.URL), zap.Int("depth", job.Depth))
	return job, nil
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
