// Package events carries pipeline notifications (crawl progress, job
// lifecycle, document writes) from the core to pluggable sinks without ever
// blocking the caller.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Type names the kind of notification.
type Type string

// Supported event types.
const (
	TypeScrapingUpdate  Type = "scraping_update"
	TypeJobCreated      Type = "scraping_job_created"
	TypeJobStarted      Type = "job_started"
	TypeJobFailed       Type = "job_failed"
	TypeDocumentCreated Type = "document_created"
	TypeDocumentUpdated Type = "document_updated"
)

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	Type       Type      `json:"type"`
	TS         time.Time `json:"ts"`
	JobID      string    `json:"jobId,omitempty"`
	URL        string    `json:"url,omitempty"`
	Progress   int       `json:"progress,omitempty"`
	Status     string    `json:"status,omitempty"`
	DocumentID string    `json:"documentId,omitempty"`
	Title      string    `json:"title,omitempty"`
	Version    int       `json:"version,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeScrapingUpdate, TypeJobCreated, TypeJobStarted, TypeJobFailed:
		if e.JobID == "" {
			return fmt.Errorf("%s requires job id", e.Type)
		}
	case TypeDocumentCreated, TypeDocumentUpdated:
		if e.DocumentID == "" {
			return fmt.Errorf("%s requires document id", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %d out of range", e.Progress)
	}
	return nil
}

// ScrapingUpdate reports crawl progress for a job.
func ScrapingUpdate(ts time.Time, jobID, url string, progress int, status string) Event {
	return Event{Type: TypeScrapingUpdate, TS: ts, JobID: jobID, URL: url, Progress: progress, Status: status}
}

// JobEvent reports a job lifecycle change.
func JobEvent(t Type, ts time.Time, jobID, url, errText string) Event {
	return Event{Type: t, TS: ts, JobID: jobID, URL: url, Error: errText}
}

// DocumentEvent reports a committed document write.
func DocumentEvent(t Type, ts time.Time, id, title string, version int, actor string) Event {
	return Event{Type: t, TS: ts, DocumentID: id, Title: title, Version: version, Actor: actor}
}
