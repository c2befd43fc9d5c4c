// Package crawler defines the crawl pipeline types and the controller that
// walks a source's pages into the document store.
package crawler

import (
	"errors"
	"net/http"
	"time"
)

// Sentinel errors returned by crawler components and stores.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrSourceNotFound = errors.New("source not found")
	ErrSourceExists   = errors.New("source already exists")
	ErrEmptyURL       = errors.New("url is required")
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store. Completed and failed are terminal.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// SourceStatus marks a crawl source as usable or parked.
type SourceStatus string

// Source status values.
const (
	SourceStatusActive   SourceStatus = "active"
	SourceStatusInactive SourceStatus = "inactive"
)

// Selectors are CSS selector strings used to pull fields out of a page.
// Empty selectors fall back to the generic defaults.
type Selectors struct {
	Content  string `json:"content,omitempty" yaml:"content"`
	Title    string `json:"title,omitempty" yaml:"title"`
	Date     string `json:"date,omitempty" yaml:"date"`
	Category string `json:"category,omitempty" yaml:"category"`
	NextPage string `json:"next_page,omitempty" yaml:"next_page"`
}

// Source describes a site that can be crawled. Sources are read-only while a
// crawl is running.
type Source struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	BaseURL   string            `json:"base_url" yaml:"base_url"`
	Selectors Selectors         `json:"selectors" yaml:"selectors"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers"`
	Priority  int               `json:"priority" yaml:"priority"`
	Status    SourceStatus      `json:"status" yaml:"status"`
	CreatedAt time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt time.Time         `json:"updated_at" yaml:"-"`
}

// DateRange bounds the publication dates a client is interested in.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// JobFilters narrows which pages become documents.
type JobFilters struct {
	Keywords  []string   `json:"keywords,omitempty"`
	DateRange *DateRange `json:"date_range,omitempty"`
}

// Result summarizes a finished crawl.
type Result struct {
	DocumentsCreated int   `json:"documentsCreated"`
	PagesProcessed   int   `json:"pagesProcessed"`
	BytesProcessed   int64 `json:"bytesProcessed"`
}

// Job is the persisted record for one crawl request.
type Job struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	SourceID    string     `json:"source_id,omitempty"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Depth       int        `json:"depth"`
	Filters     JobFilters `json:"filters"`
	Result      *Result    `json:"result,omitempty"`
	ErrorText   string     `json:"error,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListOptions pages through jobs, newest first.
type JobListOptions struct {
	Status JobStatus
	Page   int
	Limit  int
}

// QueueItem is the message consumed by workers. Delivery is at-least-once.
type QueueItem struct {
	JobID    string     `json:"jobId"`
	URL      string     `json:"url"`
	SourceID string     `json:"sourceId,omitempty"`
	Depth    int        `json:"depth"`
	Filters  JobFilters `json:"filters"`
	UserID   string     `json:"userId,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL. Headers win over
// SourceHeaders when both set the same key.
type FetchRequest struct {
	URL           string
	SourceHeaders map[string]string
	Headers       http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Bytes      int
	Duration   time.Duration
	Attempts   int
}

// SourceRelation records which job pulled a document from which source URL.
type SourceRelation struct {
	DocumentID  string    `json:"document_id"`
	SourceID    string    `json:"source_id"`
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// CrawlRequest is the input to Controller.Crawl.
type CrawlRequest struct {
	URL      string
	Source   Source
	MaxDepth int
	JobID    string
	UserID   string
	Filters  JobFilters
}
