package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

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

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

const documentColumns = `id, title, content, COALESCE(category, ''), COALESCE(source, ''), score, status,
COALESCE(language, ''), keywords, metadata, version, hash, created_at, updated_at, published_at,
archived_at, COALESCE(created_by, ''), COALESCE(updated_by, '')`

const versionColumns = `document_id, version, title, content, metadata, hash, created_at,
COALESCE(created_by, ''), COALESCE(change_summary, '')`

const (
	insertDocumentSQL = `INSERT INTO documents (
	id, title, content, category, source, score, status, language, keywords, metadata,
	version, hash, created_at, updated_at, published_at, archived_at, created_by, updated_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	insertVersionSQL = `INSERT INTO document_versions (
	document_id, version, title, content, metadata, hash, created_at, created_by, change_summary
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	selectForUpdateSQL = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`

	updateDocumentSQL = `UPDATE documents SET
	title = $1, content = $2, category = $3, source = $4, score = $5, status = $6, language = $7,
	keywords = $8, metadata = $9, version = $10, hash = $11, updated_at = $12, published_at = $13,
	archived_at = $14, updated_by = $15
WHERE id = $16 AND version = $17`
)

// DocumentStore is the Postgres document.Store. Each write runs in one
// transaction that locks the document row, so concurrent updates of the
// same document serialize and versions stay gap-free.
type DocumentStore struct {
	db     DB
	ids    IDGenerator
	hasher document.Hasher
	clock  Clock
	events events.Emitter
	logger *zap.Logger
}

// DocumentOption customizes a DocumentStore.
type DocumentOption func(*DocumentStore)

// WithEvents publishes document_created and document_updated after commit.
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

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) DocumentOption {
	return func(s *DocumentStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewDocumentStore builds a store over db.
func NewDocumentStore(db DB, ids IDGenerator, hasher document.Hasher, opts ...DocumentOption) (*DocumentStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	s := &DocumentStore{
		db:     db,
		ids:    ids,
		hasher: hasher,
		clock:  utcClock{},
		events: events.Nop{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create inserts the document and its version-1 snapshot in one transaction.
func (s *DocumentStore) Create(ctx context.Context, in document.NewDocument, userID string) (document.Document, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return document.Document{}, fmt.Errorf("create document: %w", err)
	}
	now := s.clock.Now()
	doc, v := document.Build(in, id, userID, s.hasher, now)

	err = withTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := insertDocument(ctx, tx, doc); err != nil {
			return err
		}
		return insertVersion(ctx, tx, v)
	})
	if err != nil {
		return document.Document{}, fmt.Errorf("create document: %w", err)
	}
	s.events.Emit(events.DocumentEvent(events.TypeDocumentCreated, now, doc.ID, doc.Title, doc.Version, userID))
	return doc, nil
}

var errNoDocument = errors.New("document not found")

// Update applies patch under a row lock. found is false when id is unknown.
func (s *DocumentStore) Update(
	ctx context.Context,
	id string,
	patch document.Patch,
	userID string,
) (document.Document, bool, error) {
	var next document.Document
	now := s.clock.Now()
	err := withTx(ctx, s.db, func(tx pgx.Tx) error {
		cur, err := scanDocument(tx.QueryRow(ctx, selectForUpdateSQL, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return errNoDocument
		}
		if err != nil {
			return fmt.Errorf("lock document: %w", err)
		}
		var v *document.Version
		next, v, err = document.Apply(cur, patch, userID, s.hasher, now)
		if err != nil {
			return err
		}
		if err := updateDocument(ctx, tx, next, cur.Version); err != nil {
			return err
		}
		if v != nil {
			return insertVersion(ctx, tx, *v)
		}
		return nil
	})
	if errors.Is(err, errNoDocument) {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, true, fmt.Errorf("update document %s: %w", id, err)
	}
	s.events.Emit(events.DocumentEvent(events.TypeDocumentUpdated, now, next.ID, next.Title, next.Version, userID))
	return next, true, nil
}

// Get returns the current document.
func (s *DocumentStore) Get(ctx context.Context, id string) (document.Document, bool, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Document{}, false, nil
	}
	if err != nil {
		return document.Document{}, false, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, true, nil
}

// ListVersions returns every snapshot, newest first.
func (s *DocumentStore) ListVersions(ctx context.Context, id string) ([]document.Version, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+` FROM document_versions WHERE document_id = $1 ORDER BY version DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()
	out := []document.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return out, nil
}

// GetVersion returns one snapshot.
func (s *DocumentStore) GetVersion(ctx context.Context, id string, version int) (document.Version, bool, error) {
	v, err := scanVersion(s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM document_versions WHERE document_id = $1 AND version = $2`, id, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return document.Version{}, false, nil
	}
	if err != nil {
		return document.Version{}, false, fmt.Errorf("get version %d: %w", version, err)
	}
	return v, true, nil
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

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertDocument(ctx context.Context, tx execer, doc document.Document) error {
	keywords, metadata, err := marshalDocJSON(doc)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, insertDocumentSQL,
		doc.ID, doc.Title, doc.Content, nullString(doc.Category), nullString(doc.Source), doc.Score,
		string(doc.Status), nullString(doc.Language), keywords, metadata, doc.Version, doc.Hash,
		doc.CreatedAt, doc.UpdatedAt, doc.PublishedAt, doc.ArchivedAt,
		nullString(doc.CreatedBy), nullString(doc.UpdatedBy),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func updateDocument(ctx context.Context, tx execer, doc document.Document, readVersion int) error {
	keywords, metadata, err := marshalDocJSON(doc)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, updateDocumentSQL,
		doc.Title, doc.Content, nullString(doc.Category), nullString(doc.Source), doc.Score,
		string(doc.Status), nullString(doc.Language), keywords, metadata, doc.Version, doc.Hash,
		doc.UpdatedAt, doc.PublishedAt, doc.ArchivedAt, nullString(doc.UpdatedBy),
		doc.ID, readVersion,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return document.ErrVersionConflict
	}
	return nil
}

func insertVersion(ctx context.Context, tx execer, v document.Version) error {
	metadata, err := json.Marshal(metadataOrEmpty(v.Metadata))
	if err != nil {
		return fmt.Errorf("marshal version metadata: %w", err)
	}
	_, err = tx.Exec(ctx, insertVersionSQL,
		v.DocumentID, v.Version, v.Title, v.Content, metadata, v.Hash, v.CreatedAt,
		nullString(v.CreatedBy), v.ChangeSummary,
	)
	if err != nil {
		return fmt.Errorf("insert version %d: %w", v.Version, err)
	}
	return nil
}

func marshalDocJSON(doc document.Document) ([]byte, []byte, error) {
	keywords := doc.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	kw, err := json.Marshal(keywords)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal keywords: %w", err)
	}
	meta, err := json.Marshal(metadataOrEmpty(doc.Metadata))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return kw, meta, nil
}

func metadataOrEmpty(m document.Metadata) document.Metadata {
	if m == nil {
		return document.Metadata{}
	}
	return m
}

// nullString stores empty strings as NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanDocument(row pgx.Row) (document.Document, error) {
	var (
		doc      document.Document
		status   string
		keywords []byte
		metadata []byte
	)
	err := row.Scan(
		&doc.ID, &doc.Title, &doc.Content, &doc.Category, &doc.Source, &doc.Score, &status,
		&doc.Language, &keywords, &metadata, &doc.Version, &doc.Hash, &doc.CreatedAt, &doc.UpdatedAt,
		&doc.PublishedAt, &doc.ArchivedAt, &doc.CreatedBy, &doc.UpdatedBy,
	)
	if err != nil {
		return document.Document{}, err
	}
	doc.Status = document.Status(status)
	if err := unmarshalJSON(keywords, &doc.Keywords); err != nil {
		return document.Document{}, fmt.Errorf("decode keywords: %w", err)
	}
	if err := unmarshalJSON(metadata, &doc.Metadata); err != nil {
		return document.Document{}, fmt.Errorf("decode metadata: %w", err)
	}
	if doc.Keywords == nil {
		doc.Keywords = []string{}
	}
	if doc.Metadata == nil {
		doc.Metadata = document.Metadata{}
	}
	return doc, nil
}

func scanVersion(row pgx.Row) (document.Version, error) {
	var (
		v        document.Version
		metadata []byte
	)
	err := row.Scan(&v.DocumentID, &v.Version, &v.Title, &v.Content, &metadata, &v.Hash,
		&v.CreatedAt, &v.CreatedBy, &v.ChangeSummary)
	if err != nil {
		return document.Version{}, err
	}
	if err := unmarshalJSON(metadata, &v.Metadata); err != nil {
		return document.Version{}, fmt.Errorf("decode metadata: %w", err)
	}
	if v.Metadata == nil {
		v.Metadata = document.Metadata{}
	}
	return v, nil
}

func unmarshalJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
