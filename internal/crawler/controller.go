package crawler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/document"
	"github.com/JakeFAU/crawl-ingest/internal/events"
	"github.com/JakeFAU/crawl-ingest/internal/metrics"
)

// Controller defaults.
const (
	DefaultMinContentLength = 100
	DefaultLanguage         = "fa"
	rawContentType          = "text/html; charset=utf-8"
)

// ControllerConfig tunes extraction and archiving.
type ControllerConfig struct {
	// MinContentLength is the exclusive lower bound, in characters, for a
	// page to become a document.
	MinContentLength int
	Language         string
	// ArchivePages stores the raw HTML of accepted pages in Blobs.
	ArchivePages  bool
	ArchivePrefix string
}

// Deps are the collaborators a Controller needs. Relations, Jobs, Blobs and
// Events are optional.
type Deps struct {
	Fetcher   Fetcher
	Parser    Parser
	Documents DocumentCreator
	Relations RelationStore
	Jobs      JobStore
	Blobs     BlobStore
	Hasher    Hasher
	Clock     Clock
	Events    events.Emitter
	Logger    *zap.Logger
}

// Controller walks a source's pagination chain, turning each page with
// enough content into a document.
type Controller struct {
	deps Deps
	cfg  ControllerConfig
}

// NewController builds a Controller.
func NewController(deps Deps, cfg ControllerConfig) *Controller {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = DefaultMinContentLength
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clockFunc(func() time.Time { return time.Now().UTC() })
	}
	return &Controller{deps: deps, cfg: cfg}
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

// Crawl fetches req.URL and follows next-page links until MaxDepth pages
// were processed, no next link is found, or a link points back to a page
// already visited. progress receives round(i/maxDepth*100) before fetching
// page i and 100 once the walk ends. Fetch and store failures abort the walk.
func (c *Controller) Crawl(ctx context.Context, req CrawlRequest, progress func(int)) (Result, error) {
	if strings.TrimSpace(req.URL) == "" {
		return Result{}, ErrEmptyURL
	}
	if progress == nil {
		progress = func(int) {}
	}
	maxDepth := max(1, req.MaxDepth)
	logger := c.deps.Logger.With(zap.String("job_id", req.JobID), zap.String("source_id", req.Source.ID))

	var res Result
	visited := make(map[string]struct{}, maxDepth)
	current := req.URL
	for i := 0; i < maxDepth && current != ""; i++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("crawl canceled: %w", err)
		}
		key := visitKey(current)
		if _, seen := visited[key]; seen {
			logger.Info("pagination cycle detected", zap.String("url", current))
			break
		}
		visited[key] = struct{}{}

		pct := int(math.Round(float64(i) / float64(maxDepth) * 100))
		progress(pct)
		c.deps.Events.Emit(events.ScrapingUpdate(c.deps.Clock.Now(), req.JobID, current, pct, string(JobStatusRunning)))

		resp, err := c.deps.Fetcher.Fetch(ctx, FetchRequest{URL: current, SourceHeaders: req.Source.Headers})
		if err != nil {
			return res, fmt.Errorf("fetch page %s: %w", current, err)
		}
		res.BytesProcessed += int64(resp.Bytes)
		metrics.ObservePage(current, resp.Bytes)

		page, err := c.deps.Parser.Parse(resp.Body)
		if err != nil {
			logger.Warn("page parse failed", zap.String("url", current), zap.Error(err))
			res.PagesProcessed++
			break
		}

		created, err := c.extractAndStore(ctx, req, current, page, resp.Body, logger)
		if err != nil {
			return res, err
		}
		if created {
			res.DocumentsCreated++
		}
		res.PagesProcessed++

		current = c.nextLink(req.Source, page, current, logger)
	}

	progress(100)
	c.finalize(ctx, req, res, logger)
	return res, nil
}

func visitKey(raw string) string {
	if normalized, err := NormalizeURL(raw); err == nil {
		return normalized
	}
	return raw
}

// extracted holds the fields pulled from one page.
type extracted struct {
	title    string
	content  string
	date     string
	category string
}

func extract(src Source, page Page) extracted {
	parts := page.SelectAll(contentSelector(src.Selectors))
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	out := extracted{
		title:   page.SelectFirst(titleSelector(src.Selectors)),
		content: strings.Join(kept, "\n\n"),
	}
	if src.Selectors.Date != "" {
		out.date = page.SelectFirst(src.Selectors.Date)
	}
	if src.Selectors.Category != "" {
		out.category = page.SelectFirst(src.Selectors.Category)
	}
	return out
}

func (c *Controller) accept(content string) bool {
	return len([]rune(content)) > c.cfg.MinContentLength
}

func (c *Controller) extractAndStore(
	ctx context.Context,
	req CrawlRequest,
	pageURL string,
	page Page,
	body []byte,
	logger *zap.Logger,
) (bool, error) {
	fields := extract(req.Source, page)
	if !c.accept(fields.content) {
		logger.Debug("page below content threshold", zap.String("url", pageURL), zap.Int("chars", len([]rune(fields.content))))
		return false, nil
	}
	keywords, ok := req.Filters.MatchKeywords(fields.content)
	if !ok {
		logger.Debug("page matched no keywords", zap.String("url", pageURL))
		return false, nil
	}

	now := c.deps.Clock.Now()
	title := fields.title
	if title == "" {
		title = pageURL
	}
	meta := document.Metadata{
		document.KeyURL:       pageURL,
		document.KeySourceID:  req.Source.ID,
		document.KeyScrapedAt: now.Format(time.RFC3339Nano),
		document.KeyBaseURL:   req.Source.BaseURL,
	}
	if fields.date != "" {
		meta[document.KeyExtractedDate] = fields.date
	}
	if uri := c.archive(ctx, req.JobID, body, logger); uri != "" {
		meta[document.KeyRawURI] = uri
	}

	doc, err := c.deps.Documents.Create(ctx, document.NewDocument{
		Title:    title,
		Content:  fields.content,
		Category: fields.category,
		Source:   req.Source.Name,
		Status:   document.StatusPublished,
		Language: c.cfg.Language,
		Keywords: keywords,
		Metadata: meta,
	}, req.UserID)
	if err != nil {
		return false, fmt.Errorf("store document from %s: %w", pageURL, err)
	}
	metrics.ObserveDocumentCreated()

	if c.deps.Relations != nil {
		rel := SourceRelation{
			DocumentID:  doc.ID,
			SourceID:    req.Source.ID,
			JobID:       req.JobID,
			URL:         pageURL,
			ExtractedAt: now,
		}
		if err := c.deps.Relations.UpsertRelation(ctx, rel); err != nil {
			logger.Warn("source relation write failed", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	return true, nil
}

// archive stores the raw page and returns its URI. Failures only log.
func (c *Controller) archive(ctx context.Context, jobID string, body []byte, logger *zap.Logger) string {
	if !c.cfg.ArchivePages || c.deps.Blobs == nil || c.deps.Hasher == nil {
		return ""
	}
	uri, err := c.deps.Blobs.PutObject(ctx, ArchivePath(c.cfg.ArchivePrefix, jobID, c.deps.Hasher.HashBytes(body)), rawContentType, body)
	if err != nil {
		logger.Warn("raw page archive failed", zap.Error(err))
		return ""
	}
	return uri
}

// ArchivePath is <prefix>/<jobID>/<hash>.html, or <jobID>/<hash>.html
// without a prefix.
func ArchivePath(prefix, jobID, hash string) string {
	prefix = strings.Trim(prefix, "/")
	if jobID == "" {
		jobID = "adhoc"
	}
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}

// nextLink returns the absolute next-page URL, or "" to stop.
func (c *Controller) nextLink(src Source, page Page, current string, logger *zap.Logger) string {
	if src.Selectors.NextPage == "" {
		return ""
	}
	href, ok := page.Attr(src.Selectors.NextPage, "href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	next, err := ResolveLink(current, href)
	if err != nil {
		logger.Info("next link unusable", zap.String("href", href), zap.Error(err))
		return ""
	}
	return next
}

// finalize records the summary on the job rows for this target.
func (c *Controller) finalize(ctx context.Context, req CrawlRequest, res Result, logger *zap.Logger) {
	if c.deps.Jobs == nil {
		return
	}
	if err := c.deps.Jobs.CompleteByTarget(ctx, req.URL, req.Source.ID, res); err != nil {
		logger.Warn("persist crawl summary failed", zap.Error(err))
	}
}
