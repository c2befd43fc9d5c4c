package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-ingest/internal/events"
)

// PrometheusSink counts events by type and tracks the latest progress of
// running jobs.
type PrometheusSink struct {
	eventsTotal  *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	jobsFailed   prometheus.Counter
	docsWritten  *prometheus.CounterVec
	lastProgress prometheus.Histogram
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Pipeline events delivered, partitioned by type.",
		}, []string{"type"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_jobs_running",
			Help: "Jobs started and not yet finished according to the event stream.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_jobs_failed_events_total",
			Help: "Job failure events.",
		}),
		docsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_document_writes_total",
			Help: "Committed document writes partitioned by kind.",
		}, []string{"kind"}),
		lastProgress: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_scraping_progress_percent",
			Help:    "Distribution of reported crawl progress values.",
			Buckets: []float64{0, 10, 25, 50, 75, 90, 100},
		}),
	}
	for _, c := range []prometheus.Collector{s.eventsTotal, s.jobsRunning, s.jobsFailed, s.docsWritten, s.lastProgress} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.eventsTotal.WithLabelValues(string(evt.Type)).Inc()
		switch evt.Type {
		case events.TypeJobStarted:
			s.jobsRunning.Inc()
		case events.TypeJobFailed:
			s.jobsFailed.Inc()
			s.jobsRunning.Dec()
		case events.TypeScrapingUpdate:
			s.lastProgress.Observe(float64(evt.Progress))
			if evt.Status == "completed" {
				s.jobsRunning.Dec()
			}
		case events.TypeDocumentCreated:
			s.docsWritten.WithLabelValues("create").Inc()
		case events.TypeDocumentUpdated:
			s.docsWritten.WithLabelValues("update").Inc()
		}
	}
	return nil
}

// Close implements events.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
