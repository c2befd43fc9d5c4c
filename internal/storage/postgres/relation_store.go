package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

// RelationStore records document provenance in document_source_relations.
type RelationStore struct {
	db DB
}

// NewRelationStore builds a RelationStore.
func NewRelationStore(db DB) *RelationStore {
	return &RelationStore{db: db}
}

// UpsertRelation inserts or replaces the row for (DocumentID, SourceID).
func (s *RelationStore) UpsertRelation(ctx context.Context, rel crawler.SourceRelation) error {
	_, err := s.db.Exec(ctx, `INSERT INTO document_source_relations (document_id, source_id, job_id, url, extracted_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (document_id, source_id) DO UPDATE
SET job_id = EXCLUDED.job_id, url = EXCLUDED.url, extracted_at = EXCLUDED.extracted_at`,
		rel.DocumentID, rel.SourceID, nullString(rel.JobID), rel.URL, rel.ExtractedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert relation %s/%s: %w", rel.DocumentID, rel.SourceID, err)
	}
	return nil
}

// ForDocument lists the relations recorded for documentID.
func (s *RelationStore) ForDocument(ctx context.Context, documentID string) ([]crawler.SourceRelation, error) {
	rows, err := s.db.Query(ctx, `SELECT document_id, source_id, COALESCE(job_id, ''), url, extracted_at
FROM document_source_relations WHERE document_id = $1 ORDER BY extracted_at DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()
	var out []crawler.SourceRelation
	for rows.Next() {
		var rel crawler.SourceRelation
		if err := rows.Scan(&rel.DocumentID, &rel.SourceID, &rel.JobID, &rel.URL, &rel.ExtractedAt); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	return out, nil
}
