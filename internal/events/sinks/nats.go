package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/JakeFAU/crawl-ingest/internal/events"
	"github.com/JakeFAU/crawl-ingest/internal/natsutil"
)

// NATSSink publishes each event as JSON on <prefix>.<type>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink publishes through conn. prefix defaults to "ingest.events".
func NewNATSSink(conn *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "ingest.events"
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// Subject returns the subject an event of type t is published on.
func (s *NATSSink) Subject(t events.Type) string {
	return s.prefix + "." + string(t)
}

// Consume publishes the batch and flushes the connection.
func (s *NATSSink) Consume(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal %s: %w", evt.Type, err))
			continue
		}
		msg := &nats.Msg{Subject: s.Subject(evt.Type), Data: data}
		natsutil.Inject(ctx, msg)
		if err := s.conn.PublishMsg(msg); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.Type, err))
		}
	}
	if err := s.flush(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close flushes pending publishes. The connection itself belongs to the caller.
func (s *NATSSink) Close(ctx context.Context) error {
	return s.flush(ctx)
}

func (s *NATSSink) flush(ctx context.Context) error {
	if err := natsutil.Flush(ctx, s.conn); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}
