package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-ingest/internal/hash/sha256"
)

// stepClock advances by one second on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// seqIDs hands out doc-1, doc-2, ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("doc-%d", g.n), nil
}

func newTestDocumentStore(opts ...DocumentOption) *DocumentStore {
	opts = append([]DocumentOption{WithClock(newStepClock())}, opts...)
	return NewDocumentStore(&seqIDs{}, sha256.New(), opts...)
}

func ptr[T any](v T) *T { return &v }
