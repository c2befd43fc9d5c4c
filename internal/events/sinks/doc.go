// Package sinks contains events.Sink implementations: structured logs,
// Prometheus counters and a NATS publisher.
package sinks
