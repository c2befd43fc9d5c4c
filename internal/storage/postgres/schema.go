package postgres

import (
	"context"
	"fmt"
)

// TextSearchConfig is the Postgres text search configuration used for the
// document index. "simple" tokenizes without stemming, which keeps Persian
// and mixed-script content searchable.
const TextSearchConfig = "simple"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	content      TEXT NOT NULL,
	category     TEXT,
	source       TEXT,
	score        DOUBLE PRECISION,
	status       TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'published', 'archived')),
	language     TEXT,
	keywords     JSONB NOT NULL DEFAULT '[]',
	metadata     JSONB NOT NULL DEFAULT '{}',
	version      INTEGER NOT NULL DEFAULT 1 CHECK (version >= 1),
	hash         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ,
	published_at TIMESTAMPTZ,
	archived_at  TIMESTAMPTZ,
	created_by   TEXT,
	updated_by   TEXT,
	search_vector TSVECTOR GENERATED ALWAYS AS (
		setweight(to_tsvector('simple', coalesce(title, '')), 'A') ||
		setweight(to_tsvector('simple', coalesce(content, '')), 'B')
	) STORED
)`,
	`CREATE INDEX IF NOT EXISTS documents_search_idx ON documents USING GIN (search_vector)`,
	`CREATE INDEX IF NOT EXISTS documents_status_idx ON documents (status)`,
	`CREATE INDEX IF NOT EXISTS documents_category_idx ON documents (category)`,
	`CREATE INDEX IF NOT EXISTS documents_created_idx ON documents (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS document_versions (
	id             BIGSERIAL PRIMARY KEY,
	document_id    TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	version        INTEGER NOT NULL,
	title          TEXT NOT NULL,
	content        TEXT NOT NULL,
	metadata       JSONB NOT NULL DEFAULT '{}',
	hash           TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	created_by     TEXT,
	change_summary TEXT,
	UNIQUE (document_id, version)
)`,
	`CREATE TABLE IF NOT EXISTS scraping_sources (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	base_url   TEXT NOT NULL,
	selectors  JSONB NOT NULL DEFAULT '{}',
	headers    JSONB NOT NULL DEFAULT '{}',
	priority   INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive')),
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS scraping_jobs (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	source_id    TEXT NOT NULL,
	status       TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
	progress     INTEGER NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
	depth        INTEGER NOT NULL DEFAULT 1,
	filters      JSONB NOT NULL DEFAULT '{}',
	result       JSONB,
	error        TEXT,
	created_by   TEXT,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS scraping_jobs_target_idx ON scraping_jobs (url, source_id)`,
	`CREATE INDEX IF NOT EXISTS scraping_jobs_created_idx ON scraping_jobs (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS document_source_relations (
	document_id  TEXT NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	source_id    TEXT NOT NULL,
	job_id       TEXT,
	url          TEXT NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (document_id, source_id)
)`,
}

// Migrate creates the tables and indexes. Every statement is idempotent.
func Migrate(ctx context.Context, db DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
