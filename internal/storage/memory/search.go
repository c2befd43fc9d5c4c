package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/JakeFAU/crawl-ingest/internal/document"
)

// Rank weights for title and content hits.
const (
	titleWeight   = 1.0
	contentWeight = 0.4
	// snippetWords is the size of the content window shown around the first hit.
	snippetWords = 24
)

// Search runs a term query over title and content. Every query term must
// appear in the document. Hits are ordered by rank, then newest first.
func (s *DocumentStore) Search(ctx context.Context, query string, opts document.SearchOptions) (document.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return document.SearchResult{}, fmt.Errorf("search documents: %w", err)
	}
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return document.SearchResult{}, fmt.Errorf("search documents: %w", err)
	}
	terms := uniqueTerms(query)
	if len(terms) == 0 {
		return document.SearchResult{Results: []document.SearchHit{}, Page: opts.Page}, nil
	}

	s.mu.RLock()
	hits := make([]document.SearchHit, 0)
	for _, doc := range s.docs {
		if opts.Status != "" && doc.Status != opts.Status {
			continue
		}
		rank, ok := score(doc, terms)
		if !ok {
			continue
		}
		hits = append(hits, document.SearchHit{Document: cloneDoc(doc), Rank: rank})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Rank != b.Rank {
			return a.Rank > b.Rank
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	total := len(hits)
	page := window(hits, opts.Offset(), opts.Limit)
	for i := range page {
		doc := page[i].Document
		page[i].Snippet = document.CombineSnippet(
			highlightTitle(doc.Title, terms, opts),
			highlightContent(doc.Content, terms, opts),
			doc,
		)
	}
	return document.SearchResult{
		Results:   page,
		Total:     total,
		Page:      opts.Page,
		PageCount: document.PageCount(total, opts.Limit),
	}, nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func uniqueTerms(query string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, t := range tokenize(query) {
		terms[t] = struct{}{}
	}
	return terms
}

// score computes (titleWeight*titleHits + contentWeight*contentHits)
// normalized by document length. ok is false unless every term occurs.
func score(doc document.Document, terms map[string]struct{}) (float64, bool) {
	title, content := tokenize(doc.Title), tokenize(doc.Content)
	seen := make(map[string]struct{}, len(terms))
	count := func(tokens []string) int {
		n := 0
		for _, tok := range tokens {
			if _, ok := terms[tok]; ok {
				n++
				seen[tok] = struct{}{}
			}
		}
		return n
	}
	titleHits, contentHits := count(title), count(content)
	if len(seen) != len(terms) {
		return 0, false
	}
	raw := titleWeight*float64(titleHits) + contentWeight*float64(contentHits)
	return raw / (1 + math.Log(1+float64(len(title)+len(content)))), true
}

// span is a word's byte range in the original text.
type span struct{ start, end int }

func wordSpans(s string) []span {
	var out []span
	start := -1
	for i, r := range s {
		word := unicode.IsLetter(r) || unicode.IsDigit(r)
		switch {
		case word && start < 0:
			start = i
		case !word && start >= 0:
			out = append(out, span{start, i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, span{start, len(s)})
	}
	return out
}

func isHit(s string, sp span, terms map[string]struct{}) bool {
	_, ok := terms[strings.ToLower(s[sp.start:sp.end])]
	return ok
}

// mark wraps every hit inside spans[from:to] with the delimiters.
func mark(s string, spans []span, from, to int, terms map[string]struct{}, opts document.SearchOptions) (string, bool) {
	var b strings.Builder
	found := false
	pos := spans[from].start
	for _, sp := range spans[from:to] {
		b.WriteString(s[pos:sp.start])
		if isHit(s, sp, terms) {
			found = true
			b.WriteString(opts.HighlightStart)
			b.WriteString(s[sp.start:sp.end])
			b.WriteString(opts.HighlightEnd)
		} else {
			b.WriteString(s[sp.start:sp.end])
		}
		pos = sp.end
	}
	return b.String(), found
}

// highlightTitle returns the marked-up title, or "" when no term matched.
func highlightTitle(title string, terms map[string]struct{}, opts document.SearchOptions) string {
	spans := wordSpans(title)
	if len(spans) == 0 {
		return ""
	}
	out, found := mark(title, spans, 0, len(spans), terms, opts)
	if !found {
		return ""
	}
	return title[:spans[0].start] + out + title[spans[len(spans)-1].end:]
}

// highlightContent returns a window of words around the first hit with "..."
// where the text was cut, or "" when no term matched.
func highlightContent(content string, terms map[string]struct{}, opts document.SearchOptions) string {
	spans := wordSpans(content)
	first := -1
	for i, sp := range spans {
		if isHit(content, sp, terms) {
			first = i
			break
		}
	}
	if first < 0 {
		return ""
	}
	from := max(0, first-snippetWords/4)
	to := min(len(spans), from+snippetWords)
	out, _ := mark(content, spans, from, to, terms, opts)
	if from > 0 {
		out = "..." + out
	} else {
		out = content[:spans[0].start] + out
	}
	if to < len(spans) {
		out += "..."
	} else {
		out += content[spans[to-1].end:]
	}
	return out
}
