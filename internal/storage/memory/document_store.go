package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-ingest/internal/document"
	"github.com/JakeFAU/crawl-ingest/internal/events"
)

// IDGenerator issues document IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// DocumentStore is an in-memory document.Store. Writes to one document are
// serialized through a per-document lock; reads take a snapshot.
type DocumentStore struct {
	ids    IDGenerator
	hasher document.Hasher
	clock  Clock
	events events.Emitter

	mu       sync.RWMutex
	docs     map[string]document.Document
	versions map[string][]document.Version

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// DocumentOption customizes a DocumentStore.
type DocumentOption func(*DocumentStore)

// WithEvents publishes document_created and document_updated to e.
func WithEvents(e events.Emitter) DocumentOption {
	return func(s *DocumentStore) {
		if e != nil {
			s.events = e
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(c Clock) DocumentOption {
	return func(s *DocumentStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewDocumentStore builds an empty store.
func NewDocumentStore(ids IDGenerator, hasher document.Hasher, opts ...DocumentOption) *DocumentStore {
	s := &DocumentStore{
		ids:      ids,
		hasher:   hasher,
		clock:    utcClock{},
		events:   events.Nop{},
		docs:     make(map[string]document.Document),
		versions: make(map[string][]document.Version),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

func (s *DocumentStore) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// Create stores a new document together with its version-1 snapshot.
func (s *DocumentStore) Create(ctx context.Context, in document.NewDocument, userID string) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, fmt.Errorf("create document: %w", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return document.Document{}, fmt.Errorf("create document: %w", err)
	}
	now := s.clock.Now()
	doc, v := document.Build(in, id, userID, s.hasher, now)

	s.mu.Lock()
	if _, exists := s.docs[id]; exists {
		s.mu.Unlock()
		return document.Document{}, fmt.Errorf("create document: duplicate id %s", id)
	}
	s.docs[id] = doc
	s.versions[id] = []document.Version{v}
	s.mu.Unlock()

	s.events.Emit(events.DocumentEvent(events.TypeDocumentCreated, now, doc.ID, doc.Title, doc.Version, userID))
	return cloneDoc(doc), nil
}

// Update applies patch to the document. found is false when id is unknown.
func (s *DocumentStore) Update(
	ctx context.Context,
	id string,
	patch document.Patch,
	userID string,
) (document.Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, false, fmt.Errorf("update document: %w", err)
	}
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	cur, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return document.Document{}, false, nil
	}

	now := s.clock.Now()
	next, v, err := document.Apply(cur, patch, userID, s.hasher, now)
	if err != nil {
		return document.Document{}, true, fmt.Errorf("update document %s: %w", id, err)
	}

	s.mu.Lock()
	s.docs[id] = next
	if v != nil {
		s.versions[id] = append(s.versions[id], *v)
	}
	s.mu.Unlock()

	s.events.Emit(events.DocumentEvent(events.TypeDocumentUpdated, now, next.ID, next.Title, next.Version, userID))
	return cloneDoc(next), true, nil
}

// Get returns the current document.
func (s *DocumentStore) Get(_ context.Context, id string) (document.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return document.Document{}, false, nil
	}
	return cloneDoc(doc), true, nil
}

// ListVersions returns every snapshot, newest first.
func (s *DocumentStore) ListVersions(_ context.Context, id string) ([]document.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.versions[id]
	out := make([]document.Version, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, cloneVersion(src[i]))
	}
	return out, nil
}

// GetVersion returns one snapshot.
func (s *DocumentStore) GetVersion(_ context.Context, id string, version int) (document.Version, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions[id] {
		if v.Version == version {
			return cloneVersion(v), true, nil
		}
	}
	return document.Version{}, false, nil
}

// RevertToVersion writes the content of an earlier version as a new version.
func (s *DocumentStore) RevertToVersion(
	ctx context.Context,
	id string,
	version int,
	userID string,
) (document.Document, bool, error) {
	return document.Revert(ctx, s, id, version, userID)
}

// List pages through documents matching opts.
func (s *DocumentStore) List(_ context.Context, opts document.ListOptions) (document.ListResult, error) {
	page, limit := opts.Page, opts.Limit
	if page < 1 {
		page = document.DefaultPage
	}
	if limit < 1 {
		limit = document.DefaultLimit
	}

	s.mu.RLock()
	matched := make([]document.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		if opts.Status != "" && doc.Status != opts.Status {
			continue
		}
		if opts.Category != "" && doc.Category != opts.Category {
			continue
		}
		if opts.Source != "" && doc.Source != opts.Source {
			continue
		}
		matched = append(matched, cloneDoc(doc))
	}
	s.mu.RUnlock()

	less := sortFunc(opts.SortBy)
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if opts.Asc {
			a, b = b, a
		}
		if c := less(a, b); c != 0 {
			return c > 0
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	return document.ListResult{
		Items:     window(matched, document.PageOffset(page, limit), limit),
		Total:     total,
		Page:      page,
		PageCount: document.PageCount(total, limit),
	}, nil
}

// Categories returns the distinct non-empty categories in order.
func (s *DocumentStore) Categories(_ context.Context) ([]string, error) {
	return s.distinct(func(d document.Document) string { return d.Category }), nil
}

// Sources returns the distinct non-empty source names in order.
func (s *DocumentStore) Sources(_ context.Context) ([]string, error) {
	return s.distinct(func(d document.Document) string { return d.Source }), nil
}

func (s *DocumentStore) distinct(field func(document.Document) string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	out := []string{}
	for _, doc := range s.docs {
		v := field(doc)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// sortFunc compares two documents on a whitelisted column, returning >0 when
// a sorts before b in descending order.
func sortFunc(column string) func(a, b document.Document) int {
	switch column {
	case "title":
		return func(a, b document.Document) int { return compareStrings(a.Title, b.Title) }
	case "category":
		return func(a, b document.Document) int { return compareStrings(a.Category, b.Category) }
	case "source":
		return func(a, b document.Document) int { return compareStrings(a.Source, b.Source) }
	case "version":
		return func(a, b document.Document) int { return a.Version - b.Version }
	case "updated_at":
		return func(a, b document.Document) int { return compareTimes(a.UpdatedAt, b.UpdatedAt) }
	case "published_at":
		return func(a, b document.Document) int { return compareTimes(a.PublishedAt, b.PublishedAt) }
	case "score":
		return func(a, b document.Document) int { return compareScores(a.Score, b.Score) }
	default:
		return func(a, b document.Document) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}
}

func compareStrings(a, b string) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// compareTimes orders nil below any timestamp.
func compareTimes(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func compareScores(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a > *b:
		return 1
	case *a < *b:
		return -1
	}
	return 0
}

func window[T any](items []T, offset, limit int) []T {
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

func cloneDoc(d document.Document) document.Document {
	d.Keywords = append([]string{}, d.Keywords...)
	d.Metadata = d.Metadata.Clone()
	return d
}

func cloneVersion(v document.Version) document.Version {
	v.Metadata = v.Metadata.Clone()
	return v
}
