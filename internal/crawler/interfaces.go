package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/crawl-ingest/internal/document"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Page answers CSS selector queries against one parsed HTML document.
type Page interface {
	SelectFirst(selector string) string
	SelectAll(selector string) []string
	Attr(selector, attr string) (string, bool)
}

// Parser turns a response body into a Page.
type Parser interface {
	Parse(body []byte) (Page, error)
}

// DocumentCreator is the slice of the document store the controller writes to.
type DocumentCreator interface {
	Create(ctx context.Context, in document.NewDocument, userID string) (document.Document, error)
}

// RelationStore records document provenance. Writing the same
// (document, source) pair again replaces the earlier row.
type RelationStore interface {
	UpsertRelation(ctx context.Context, rel SourceRelation) error
}

// JobStore persists crawl jobs. Status updates never move a job out of a
// terminal state, so redelivered queue items are harmless.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, opts JobListOptions) ([]Job, int, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, progress int, errText string) error
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	CompleteByTarget(ctx context.Context, url, sourceID string, result Result) error
}

// SourceStore looks up crawl sources.
type SourceStore interface {
	CreateSource(ctx context.Context, src Source) error
	GetSource(ctx context.Context, id string) (Source, error)
	ListSources(ctx context.Context) ([]Source, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for raw page archives.
type Hasher interface {
	HashBytes(data []byte) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
