// Package worker runs crawl jobs taken from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/events"
	"github.com/JakeFAU/crawl-ingest/internal/metrics"
)

// Crawler runs one pagination walk.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.CrawlRequest, progress func(int)) (crawler.Result, error)
}

// acker is implemented by queues that redeliver unacknowledged items.
type acker interface {
	Ack(ctx context.Context, item crawler.QueueItem) error
}

// Worker consumes queue items and drives each job from pending to a
// terminal state.
type Worker struct {
	queue   crawler.Queue
	jobs    crawler.JobStore
	sources crawler.SourceStore
	crawler Crawler
	events  events.Emitter
	clock   crawler.Clock
	logger  *zap.Logger
}

// New constructs a Worker. sources may be nil, in which case every job
// crawls with the generic source.
func New(
	queue crawler.Queue,
	jobs crawler.JobStore,
	sources crawler.SourceStore,
	c Crawler,
	emitter events.Emitter,
	clock crawler.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Worker{
		queue:   queue,
		jobs:    jobs,
		sources: sources,
		crawler: c,
		events:  emitter,
		clock:   clock,
		logger:  logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
		if a, ok := w.queue.(acker); ok && ctx.Err() == nil {
			if err := a.Ack(ctx, item); err != nil {
				w.logger.Warn("queue ack failed", zap.String("job_id", item.JobID), zap.Error(err))
			}
		}
	}
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

// processJob runs one job. Items for jobs that already finished are
// dropped, so a redelivered item does no work twice.
func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.URL))
	job, err := w.jobs.GetJob(ctx, item.JobID)
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		logger.Warn("dropping item for unknown job")
		return
	case err != nil:
		logger.Error("load job failed", zap.Error(err))
		return
	case job.Status.Terminal():
		logger.Info("skipping finished job", zap.String("status", string(job.Status)))
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	started := time.Now()

	w.events.Emit(events.JobEvent(events.TypeJobStarted, w.now(), item.JobID, item.URL, ""))
	if err := w.jobs.UpdateStatus(ctx, item.JobID, crawler.JobStatusRunning, 0, ""); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	res, err := w.run(ctx, item, logger)
	if err != nil && ctx.Err() != nil {
		// Left running and unacked so the redelivered item reruns the job.
		logger.Warn("job interrupted by shutdown", zap.Error(err))
		metrics.ObserveJob("interrupted", time.Since(started))
		return
	}
	if err != nil {
		w.fail(ctx, item, err, logger)
		metrics.ObserveJob(string(crawler.JobStatusFailed), time.Since(started))
		return
	}

	if err := w.jobs.UpdateStatus(ctx, item.JobID, crawler.JobStatusCompleted, 100, ""); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	w.emitUpdate(item, 100, crawler.JobStatusCompleted, "")
	metrics.ObserveJob(string(crawler.JobStatusCompleted), time.Since(started))
	logger.Info("job completed",
		zap.Int("documents_created", res.DocumentsCreated),
		zap.Int("pages_processed", res.PagesProcessed),
		zap.Int64("bytes_processed", res.BytesProcessed),
	)
}

func (w *Worker) run(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) (crawler.Result, error) {
	if w.crawler == nil {
		return crawler.Result{}, errors.New("no crawler configured")
	}
	src, err := crawler.ResolveSource(ctx, w.sources, item.SourceID, item.URL)
	if err != nil {
		return crawler.Result{}, err
	}
	req := crawler.CrawlRequest{
		URL:      item.URL,
		Source:   src,
		MaxDepth: item.Depth,
		JobID:    item.JobID,
		UserID:   item.UserID,
		Filters:  item.Filters,
	}
	// The controller emits scraping_update per page; the callback only
	// persists progress.
	res, err := w.crawler.Crawl(ctx, req, func(p int) {
		if err := w.jobs.UpdateProgress(ctx, item.JobID, p); err != nil {
			logger.Warn("progress update failed", zap.Int("progress", p), zap.Error(err))
		}
	})
	if err != nil {
		return res, fmt.Errorf("crawl %s: %w", item.URL, err)
	}
	return res, nil
}

func (w *Worker) fail(ctx context.Context, item crawler.QueueItem, cause error, logger *zap.Logger) {
	logger.Error("job failed", zap.Error(cause))
	errText := cause.Error()
	if err := w.jobs.UpdateStatus(context.WithoutCancel(ctx), item.JobID, crawler.JobStatusFailed, 0, errText); err != nil {
		logger.Error("fail job status update", zap.Error(err))
	}
	w.emitUpdate(item, 0, crawler.JobStatusFailed, errText)
	w.events.Emit(events.JobEvent(events.TypeJobFailed, w.now(), item.JobID, item.URL, errText))
}

func (w *Worker) emitUpdate(item crawler.QueueItem, progress int, status crawler.JobStatus, errText string) {
	evt := events.ScrapingUpdate(w.now(), item.JobID, item.URL, progress, string(status))
	evt.Error = errText
	w.events.Emit(evt)
}
