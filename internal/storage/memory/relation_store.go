package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

type relationKey struct{ documentID, sourceID string }

// RelationStore records document provenance keyed by (document, source).
type RelationStore struct {
	mu   sync.RWMutex
	rows map[relationKey]crawler.SourceRelation
}

// NewRelationStore returns an empty store.
func NewRelationStore() *RelationStore {
	return &RelationStore{rows: make(map[relationKey]crawler.SourceRelation)}
}

// UpsertRelation inserts or replaces the row for (DocumentID, SourceID).
func (s *RelationStore) UpsertRelation(_ context.Context, rel crawler.SourceRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[relationKey{rel.DocumentID, rel.SourceID}] = rel
	return nil
}

// ForDocument lists the relations recorded for documentID.
func (s *RelationStore) ForDocument(_ context.Context, documentID string) ([]crawler.SourceRelation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.SourceRelation
	for key, rel := range s.rows {
		if key.documentID == documentID {
			out = append(out, rel)
		}
	}
	return out, nil
}
