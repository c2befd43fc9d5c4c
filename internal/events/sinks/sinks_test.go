package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crawl-ingest/internal/events"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	require.NoError(t, err)
	srv.Start()
	require.True(t, srv.ReadyForConnections(3*time.Second), "nats not ready")
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestNATSSinkPublishesBySubject(t *testing.T) {
	t.Parallel()

	nc := startNATS(t)
	sink := NewNATSSink(nc, "")
	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("ingest.events.>", ch)
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch := []events.Event{
		events.ScrapingUpdate(time.Now(), "job-1", "https://example.com", 20, "running"),
		events.DocumentEvent(events.TypeDocumentCreated, time.Now(), "doc-1", "title", 1, "u"),
	}
	require.NoError(t, sink.Consume(ctx, batch))

	got := map[string]events.Event{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			var evt events.Event
			require.NoError(t, json.Unmarshal(msg.Data, &evt))
			got[msg.Subject] = evt
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
	require.Equal(t, 20, got["ingest.events.scraping_update"].Progress)
	require.Equal(t, "doc-1", got["ingest.events.document_created"].DocumentID)
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		events.JobEvent(events.TypeJobStarted, now, "j1", "u", ""),
		events.JobEvent(events.TypeJobStarted, now, "j2", "u", ""),
		events.ScrapingUpdate(now, "j1", "u", 100, "completed"),
		events.JobEvent(events.TypeJobFailed, now, "j2", "u", "boom"),
		events.DocumentEvent(events.TypeDocumentCreated, now, "d", "t", 1, "u"),
		events.DocumentEvent(events.TypeDocumentUpdated, now, "d", "t", 2, "u"),
	}))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.eventsTotal.WithLabelValues("job_started")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFailed))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.docsWritten.WithLabelValues("create")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.docsWritten.WithLabelValues("update")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.lastProgress))

	_, err = NewPrometheusSink(reg)
	require.Error(t, err, "duplicate registration must fail")
}

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		events.ScrapingUpdate(time.Now(), "job-9", "https://example.com", 60, "running"),
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.FilterMessage("pipeline event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "job-9", fields["job_id"])
	require.EqualValues(t, 60, fields["progress"])
}
