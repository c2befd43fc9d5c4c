package postgres

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/crawl-ingest/internal/document"
)

// Headline limits for the content snippet.
const (
	headlineMaxWords = 24
	headlineMinWords = 8
)

// sortColumns whitelists List ordering.
var sortColumns = map[string]string{
	"title":        "title",
	"created_at":   "created_at",
	"updated_at":   "updated_at",
	"published_at": "published_at",
	"version":      "version",
	"category":     "category",
	"source":       "source",
	"score":        "score",
}

func tsQuery() string {
	return fmt.Sprintf("websearch_to_tsquery('%s', ?)", TextSearchConfig)
}

// headlineOptions renders ts_headline options. Delimiters are quoted as
// given; SearchOptions.Validate keeps double quotes out of them.
func headlineOptions(opts document.SearchOptions, extra string) string {
	out := fmt.Sprintf(`StartSel="%s", StopSel="%s"`, opts.HighlightStart, opts.HighlightEnd)
	if extra != "" {
		out += ", " + extra
	}
	return out
}

// Search ranks documents with ts_rank over the weighted title/content
// vector and highlights matches with ts_headline.
func (s *DocumentStore) Search(ctx context.Context, query string, opts document.SearchOptions) (document.SearchResult, error) {
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return document.SearchResult{}, fmt.Errorf("search documents: %w", err)
	}
	if strings.TrimSpace(query) == "" {
		return document.SearchResult{Results: []document.SearchHit{}, Page: opts.Page}, nil
	}

	filter := sq.And{sq.Expr("search_vector @@ "+tsQuery(), query)}
	if opts.Status != "" {
		filter = append(filter, sq.Eq{"status": string(opts.Status)})
	}

	total, err := countRows(ctx, s.db, psql.Select("COUNT(*)").From("documents").Where(filter))
	if err != nil {
		return document.SearchResult{}, fmt.Errorf("search documents: %w", err)
	}

	titleOpts := headlineOptions(opts, "HighlightAll=true")
	contentOpts := headlineOptions(opts, fmt.Sprintf("MaxWords=%d, MinWords=%d", headlineMaxWords, headlineMinWords))
	b := psql.Select(documentColumns).
		Column(sq.Expr(fmt.Sprintf("ts_rank(search_vector, %s) AS rank", tsQuery()), query)).
		Column(sq.Expr(fmt.Sprintf("ts_headline('%s', title, %s, ?) AS title_snippet", TextSearchConfig, tsQuery()), query, titleOpts)).
		Column(sq.Expr(fmt.Sprintf("ts_headline('%s', content, %s, ?) AS content_snippet", TextSearchConfig, tsQuery()), query, contentOpts)).
		From("documents").
		Where(filter).
		OrderBy("rank DESC", "created_at DESC", "id").
		Limit(uint64(opts.Limit)).
		Offset(uint64(opts.Offset()))
	sqlText, args, err := b.ToSql()
	if err != nil {
		return document.SearchResult{}, fmt.Errorf("build search: %w", err)
	}
	rows, err := s.db.Query(ctx, sqlText, args...)
	if err != nil {
		return document.SearchResult{}, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	hits := []document.SearchHit{}
	for rows.Next() {
		hit, err := scanHit(rows)
		if err != nil {
			return document.SearchResult{}, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return document.SearchResult{}, fmt.Errorf("search documents: %w", err)
	}
	return document.SearchResult{
		Results:   hits,
		Total:     total,
		Page:      opts.Page,
		PageCount: document.PageCount(total, opts.Limit),
	}, nil
}

func scanHit(rows pgx.Rows) (document.SearchHit, error) {
	var (
		rank           float64
		titleSnippet   string
		contentSnippet string
	)
	doc, err := scanDocument(withExtras{row: rows, extras: []any{&rank, &titleSnippet, &contentSnippet}})
	if err != nil {
		return document.SearchHit{}, err
	}
	return document.SearchHit{
		Document: doc,
		Rank:     rank,
		Snippet:  document.CombineSnippet(titleSnippet, contentSnippet, doc),
	}, nil
}

// withExtras appends scan targets after the document columns.
type withExtras struct {
	row    pgx.Row
	extras []any
}

func (r withExtras) Scan(dest ...any) error {
	return r.row.Scan(append(dest, r.extras...)...)
}

// List pages through documents with optional filters and a whitelisted
// sort column. Unknown columns sort by created_at.
func (s *DocumentStore) List(ctx context.Context, opts document.ListOptions) (document.ListResult, error) {
	page, limit := pageBounds(opts.Page, opts.Limit)
	filter := sq.Eq{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Category != "" {
		filter["category"] = opts.Category
	}
	if opts.Source != "" {
		filter["source"] = opts.Source
	}

	total, err := countRows(ctx, s.db, psql.Select("COUNT(*)").From("documents").Where(filter))
	if err != nil {
		return document.ListResult{}, fmt.Errorf("list documents: %w", err)
	}

	column, ok := sortColumns[opts.SortBy]
	if !ok {
		column = "created_at"
	}
	dir := "DESC"
	if opts.Asc {
		dir = "ASC"
	}
	sqlText, args, err := psql.Select(documentColumns).
		From("documents").
		Where(filter).
		OrderBy(fmt.Sprintf("%s %s NULLS LAST", column, dir), "id").
		Limit(uint64(limit)).
		Offset(uint64(document.PageOffset(page, limit))).
		ToSql()
	if err != nil {
		return document.ListResult{}, fmt.Errorf("build list: %w", err)
	}
	rows, err := s.db.Query(ctx, sqlText, args...)
	if err != nil {
		return document.ListResult{}, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := []document.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return document.ListResult{}, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return document.ListResult{}, fmt.Errorf("list documents: %w", err)
	}
	return document.ListResult{
		Items:     items,
		Total:     total,
		Page:      page,
		PageCount: document.PageCount(total, limit),
	}, nil
}

// Categories returns the distinct non-empty categories in order.
func (s *DocumentStore) Categories(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "category")
}

// Sources returns the distinct non-empty source names in order.
func (s *DocumentStore) Sources(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "source")
}

func (s *DocumentStore) distinct(ctx context.Context, column string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT %[1]s FROM documents WHERE %[1]s IS NOT NULL AND %[1]s <> '' ORDER BY %[1]s`, column)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", column, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct %s: %w", column, err)
	}
	return out, nil
}
