// Package natsqueue provides a JetStream-backed crawl job queue. Items are
// delivered at least once: a dequeued item is acknowledged only after the
// worker calls Ack, so a crash mid-job leads to redelivery.
package natsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/natsutil"
)

// Defaults for stream and consumer setup.
const (
	DefaultSubject  = "ingest.jobs"
	DefaultStream   = "INGEST_JOBS"
	DefaultConsumer = "ingest-workers"
	DefaultAckWait  = 15 * time.Minute
	pollWait        = time.Second
)

// Config names the stream, subject and durable consumer.
type Config struct {
	Subject  string
	Stream   string
	Consumer string
	// AckWait bounds how long a job may run before JetStream redelivers it.
	AckWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.Subject == "" {
		c.Subject = DefaultSubject
	}
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Consumer == "" {
		c.Consumer = DefaultConsumer
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
}

// Queue publishes QueueItems to a work-queue stream and pulls them through
// a shared durable consumer.
type Queue struct {
	js       jetstream.JetStream
	consumer jetstream.Consumer
	cfg      Config
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]jetstream.Msg
}

// New ensures the stream and consumer exist and returns a Queue.
func New(ctx context.Context, conn *nats.Conn, cfg Config, logger *zap.Logger) (*Queue, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("open jetstream: %w", err)
	}
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		FilterSubject: cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s: %w", cfg.Consumer, err)
	}
	return &Queue{
		js:       js,
		consumer: consumer,
		cfg:      cfg,
		logger:   logger,
		pending:  make(map[string]jetstream.Msg),
	}, nil
}

// Enqueue publishes item. The job ID doubles as the message ID so a
// retried publish is deduplicated by the server.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	msg := &nats.Msg{Subject: q.cfg.Subject, Data: data}
	natsutil.Inject(ctx, msg)
	if _, err := q.js.PublishMsg(ctx, msg, jetstream.WithMsgID(item.JobID)); err != nil {
		return fmt.Errorf("publish job %s: %w", item.JobID, err)
	}
	return nil
}

// Dequeue blocks until an item arrives or ctx ends. Malformed messages are
// terminated so they are not redelivered.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	for {
		if err := ctx.Err(); err != nil {
			return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(pollWait))
		if err != nil {
			if isEmptyFetch(err) {
				continue
			}
			return crawler.QueueItem{}, fmt.Errorf("fetch job: %w", err)
		}
		for msg := range batch.Messages() {
			var item crawler.QueueItem
			if err := json.Unmarshal(msg.Data(), &item); err != nil || item.JobID == "" {
				q.logger.Warn("dropping malformed queue message", zap.Error(err))
				if termErr := msg.Term(); termErr != nil {
					q.logger.Warn("terminate message failed", zap.Error(termErr))
				}
				continue
			}
			q.mu.Lock()
			q.pending[item.JobID] = msg
			q.mu.Unlock()
			fields := []zap.Field{zap.String("job_id", item.JobID)}
			if sc := trace.SpanContextFromContext(natsutil.Extract(ctx, msg.Headers())); sc.HasTraceID() {
				fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
			}
			q.logger.Debug("job dequeued", fields...)
			return item, nil
		}
		if err := batch.Error(); err != nil && !isEmptyFetch(err) {
			return crawler.QueueItem{}, fmt.Errorf("fetch job: %w", err)
		}
	}
}

// Ack acknowledges the message that carried item.
func (q *Queue) Ack(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	msg, ok := q.pending[item.JobID]
	delete(q.pending, item.JobID)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	if err := msg.Ack(); err != nil {
		return fmt.Errorf("ack job %s: %w", item.JobID, err)
	}
	return nil
}

func isEmptyFetch(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, jetstream.ErrNoMessages) || errors.Is(err, context.DeadlineExceeded)
}
