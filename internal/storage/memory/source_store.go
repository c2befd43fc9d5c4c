package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

// SourceStore keeps crawl sources in memory, usually seeded from YAML.
type SourceStore struct {
	clock Clock

	mu      sync.RWMutex
	sources map[string]crawler.Source
}

// NewSourceStore returns a store holding seed.
func NewSourceStore(clock Clock, seed ...crawler.Source) (*SourceStore, error) {
	if clock == nil {
		clock = utcClock{}
	}
	s := &SourceStore{clock: clock, sources: make(map[string]crawler.Source, len(seed))}
	for _, src := range seed {
		if err := s.CreateSource(context.Background(), src); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateSource adds a source. IDs must be unique.
func (s *SourceStore) CreateSource(_ context.Context, src crawler.Source) error {
	if src.ID == "" {
		return errors.New("create source: empty id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[src.ID]; exists {
		return fmt.Errorf("create source %s: %w", src.ID, crawler.ErrSourceExists)
	}
	now := s.clock.Now()
	if src.Status == "" {
		src.Status = crawler.SourceStatusActive
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	s.sources[src.ID] = cloneSource(src)
	return nil
}

// GetSource returns the source or crawler.ErrSourceNotFound.
func (s *SourceStore) GetSource(_ context.Context, id string) (crawler.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return crawler.Source{}, fmt.Errorf("get source %s: %w", id, crawler.ErrSourceNotFound)
	}
	return cloneSource(src), nil
}

// ListSources orders by priority ascending, then newest first.
func (s *SourceStore) ListSources(_ context.Context) ([]crawler.Source, error) {
	s.mu.RLock()
	out := make([]crawler.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, cloneSource(src))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cloneSource(src crawler.Source) crawler.Source {
	if src.Headers != nil {
		src.Headers = maps.Clone(src.Headers)
	}
	return src
}
