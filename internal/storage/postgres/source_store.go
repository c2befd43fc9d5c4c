package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

const sourceColumns = `id, name, base_url, selectors, headers, priority, status, created_at, updated_at`

// SourceStore persists crawl sources in scraping_sources.
type SourceStore struct {
	db    DB
	clock Clock
}

// NewSourceStore builds a SourceStore. A nil clock uses UTC wall time.
func NewSourceStore(db DB, clock Clock) *SourceStore {
	if clock == nil {
		clock = utcClock{}
	}
	return &SourceStore{db: db, clock: clock}
}

// CreateSource inserts src. IDs must be unique.
func (s *SourceStore) CreateSource(ctx context.Context, src crawler.Source) error {
	if src.ID == "" {
		return errors.New("create source: empty id")
	}
	now := s.clock.Now()
	if src.Status == "" {
		src.Status = crawler.SourceStatusActive
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	selectors, err := json.Marshal(src.Selectors)
	if err != nil {
		return fmt.Errorf("marshal selectors: %w", err)
	}
	headers := src.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO scraping_sources (`+sourceColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		src.ID, src.Name, src.BaseURL, selectors, headerJSON, src.Priority, string(src.Status),
		src.CreatedAt, now,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("create source %s: %w", src.ID, crawler.ErrSourceExists)
	}
	if err != nil {
		return fmt.Errorf("create source %s: %w", src.ID, err)
	}
	return nil
}

// GetSource returns the source or crawler.ErrSourceNotFound.
func (s *SourceStore) GetSource(ctx context.Context, id string) (crawler.Source, error) {
	src, err := scanSource(s.db.QueryRow(ctx, `SELECT `+sourceColumns+` FROM scraping_sources WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Source{}, fmt.Errorf("get source %s: %w", id, crawler.ErrSourceNotFound)
	}
	if err != nil {
		return crawler.Source{}, fmt.Errorf("get source %s: %w", id, err)
	}
	return src, nil
}

// ListSources orders by priority ascending, then newest first.
func (s *SourceStore) ListSources(ctx context.Context) ([]crawler.Source, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+sourceColumns+` FROM scraping_sources ORDER BY priority ASC, created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()
	out := []crawler.Source{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

func scanSource(row pgx.Row) (crawler.Source, error) {
	var (
		src       crawler.Source
		selectors []byte
		headers   []byte
		status    string
	)
	err := row.Scan(&src.ID, &src.Name, &src.BaseURL, &selectors, &headers, &src.Priority, &status,
		&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return crawler.Source{}, err
	}
	src.Status = crawler.SourceStatus(status)
	if err := unmarshalJSON(selectors, &src.Selectors); err != nil {
		return crawler.Source{}, fmt.Errorf("decode selectors: %w", err)
	}
	if err := unmarshalJSON(headers, &src.Headers); err != nil {
		return crawler.Source{}, fmt.Errorf("decode headers: %w", err)
	}
	return src, nil
}
