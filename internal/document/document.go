// Package document defines versioned documents and the shared rules every
// document store applies: hashing, version bumps, status stamps, revert and
// search snippets.
package document

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// ErrVersionConflict is returned when a write loses a race or a caller's
// expected version no longer matches the stored row.
var ErrVersionConflict = errors.New("document version conflict")

// ErrInvalidHighlight rejects highlight delimiters that full-text headline
// options cannot carry.
var ErrInvalidHighlight = errors.New("highlight delimiters must not contain double quotes")

// Status is the publication state of a document.
type Status string

// Document status values.
const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Change summaries written to version rows.
const (
	InitialVersionSummary = "Initial version"
	DefaultUpdateSummary  = "Document updated"
	DefaultTitle          = "Untitled Document"
)

// Document is the current state of a stored document. Hash is always the hex
// SHA-256 of Content and Version only moves when Content does.
type Document struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Category    string     `json:"category,omitempty"`
	Source      string     `json:"source,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	Status      Status     `json:"status"`
	Language    string     `json:"language,omitempty"`
	Keywords    []string   `json:"keywords"`
	Metadata    Metadata   `json:"metadata"`
	Version     int        `json:"version"`
	Hash        string     `json:"hash"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
}

// Version is an immutable snapshot written alongside the document row it
// captures.
type Version struct {
	DocumentID    string    `json:"document_id"`
	Version       int       `json:"version"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Metadata      Metadata  `json:"metadata"`
	Hash          string    `json:"hash"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by,omitempty"`
	ChangeSummary string    `json:"change_summary"`
}

// NewDocument is the caller-supplied part of a document on create.
type NewDocument struct {
	Title    string
	Content  string
	Category string
	Source   string
	Score    *float64
	Status   Status
	Language string
	Keywords []string
	Metadata Metadata
}

// Patch lists the fields to change on update. Nil fields are left alone.
// Metadata is merged key by key into the stored map. A non-zero
// ExpectedVersion makes the update fail with ErrVersionConflict when the
// stored version differs.
type Patch struct {
	Title           *string
	Content         *string
	Category        *string
	Source          *string
	Score           *float64
	Status          *Status
	Language        *string
	Keywords        []string
	Metadata        Metadata
	ExpectedVersion int
}

// Search defaults.
const (
	DefaultPage           = 1
	DefaultLimit          = 20
	DefaultHighlightStart = "<em>"
	DefaultHighlightEnd   = "</em>"
)

// SearchOptions controls paging, highlighting and filtering of Search.
type SearchOptions struct {
	Page           int
	Limit          int
	HighlightStart string
	HighlightEnd   string
	Status         Status
}

// Normalize fills defaults in place and returns the options.
func (o SearchOptions) Normalize() SearchOptions {
	if o.Page < 1 {
		o.Page = DefaultPage
	}
	if o.Limit < 1 {
		o.Limit = DefaultLimit
	}
	if o.HighlightStart == "" {
		o.HighlightStart = DefaultHighlightStart
	}
	if o.HighlightEnd == "" {
		o.HighlightEnd = DefaultHighlightEnd
	}
	return o
}

// Validate reports options every store can honor unchanged.
func (o SearchOptions) Validate() error {
	if strings.Contains(o.HighlightStart, `"`) || strings.Contains(o.HighlightEnd, `"`) {
		return ErrInvalidHighlight
	}
	return nil
}

// Offset is the number of rows skipped before the requested page.
func (o SearchOptions) Offset() int {
	return PageOffset(o.Page, o.Limit)
}

// SearchHit is one ranked search result.
type SearchHit struct {
	Document
	Snippet string  `json:"snippet"`
	Rank    float64 `json:"rank"`
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Results   []SearchHit `json:"results"`
	Total     int         `json:"total"`
	Page      int         `json:"page"`
	PageCount int         `json:"pageCount"`
}

// ListOptions filters and orders List. Unknown sort columns fall back to
// created_at.
type ListOptions struct {
	Page     int
	Limit    int
	Status   Status
	Category string
	Source   string
	SortBy   string
	Asc      bool
}

// ListResult is one page of documents.
type ListResult struct {
	Items     []Document `json:"items"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	PageCount int        `json:"pageCount"`
}

// Store is implemented by the memory and Postgres document stores.
type Store interface {
	Create(ctx context.Context, in NewDocument, userID string) (Document, error)
	Update(ctx context.Context, id string, patch Patch, userID string) (Document, bool, error)
	Get(ctx context.Context, id string) (Document, bool, error)
	Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error)
	ListVersions(ctx context.Context, id string) ([]Version, error)
	GetVersion(ctx context.Context, id string, version int) (Version, bool, error)
	RevertToVersion(ctx context.Context, id string, version int, userID string) (Document, bool, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	Categories(ctx context.Context) ([]string, error)
	Sources(ctx context.Context) ([]string, error)
}

// PageOffset returns (page-1)*limit, saturating at math.MaxInt so that a
// huge page number lands past the end instead of wrapping negative.
func PageOffset(page, limit int) int {
	if page < 1 || limit < 1 {
		return 0
	}
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

// PageCount returns ceil(total/limit).
func PageCount(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
