// Package goquery interprets CSS selectors over parsed HTML for the crawl
// controller.
package goquery

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

// Parser builds Pages from raw HTML.
type Parser struct{}

// NewParser returns a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse reads body into a queryable Page.
func (Parser) Parse(body []byte) (crawler.Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{doc: doc}, nil
}

// Page answers selector queries against one document. Selectors that fail
// to compile match nothing.
type Page struct {
	doc *goquery.Document
}

// SelectFirst returns the trimmed text of the first match, or "".
func (p *Page) SelectFirst(selector string) string {
	sel, ok := p.find(selector)
	if !ok {
		return ""
	}
	return strings.TrimSpace(sel.First().Text())
}

// SelectAll returns the trimmed text of every match in document order.
func (p *Page) SelectAll(selector string) []string {
	sel, ok := p.find(selector)
	if !ok {
		return nil
	}
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

// Attr returns attribute attr of the first match.
func (p *Page) Attr(selector, attr string) (string, bool) {
	sel, ok := p.find(selector)
	if !ok {
		return "", false
	}
	return sel.First().Attr(attr)
}

// find guards against selectors goquery would panic on.
func (p *Page) find(selector string) (sel *goquery.Selection, ok bool) {
	if p == nil || p.doc == nil || strings.TrimSpace(selector) == "" {
		return nil, false
	}
	defer func() {
		if recover() != nil {
			sel, ok = nil, false
		}
	}()
	sel = p.doc.Find(selector)
	return sel, sel.Length() > 0
}
