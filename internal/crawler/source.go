package crawler

import (
	"context"
	"errors"
	"fmt"
)

// Generic selectors used when a source is unknown or leaves a field empty.
const (
	GenericSourceID    = "generic"
	GenericSourceName  = "Generic Source"
	DefaultContentSel  = "article, main, .content, #content"
	DefaultTitleSel    = "h1, title"
	DefaultDateSel     = "time, .date, .publish-date"
	DefaultNextPageSel = `a[rel="next"], .pagination a.next, .next a`
	fallbackTitleSel   = "title"
)

// GenericSource derives a source definition from the target URL origin.
func GenericSource(targetURL string) Source {
	return Source{
		ID:      GenericSourceID,
		Name:    GenericSourceName,
		BaseURL: Origin(targetURL),
		Selectors: Selectors{
			Content:  DefaultContentSel,
			Title:    DefaultTitleSel,
			Date:     DefaultDateSel,
			NextPage: DefaultNextPageSel,
		},
		Status: SourceStatusActive,
	}
}

// ResolveSource loads sourceID from store, falling back to GenericSource
// when the id is empty or unknown. An unknown id is kept on the fallback so
// provenance rows and the job summary stay keyed by what the job asked for.
// Other lookup errors are returned.
func ResolveSource(ctx context.Context, store SourceStore, sourceID, targetURL string) (Source, error) {
	if sourceID == "" {
		return GenericSource(targetURL), nil
	}
	fallback := GenericSource(targetURL)
	fallback.ID = sourceID
	if store == nil {
		return fallback, nil
	}
	src, err := store.GetSource(ctx, sourceID)
	if errors.Is(err, ErrSourceNotFound) {
		return fallback, nil
	}
	if err != nil {
		return Source{}, fmt.Errorf("load source %s: %w", sourceID, err)
	}
	return src, nil
}

// SourceIDOrGeneric maps an empty source id to GenericSourceID.
func SourceIDOrGeneric(sourceID string) string {
	if sourceID == "" {
		return GenericSourceID
	}
	return sourceID
}

func contentSelector(s Selectors) string {
	if s.Content != "" {
		return s.Content
	}
	return DefaultContentSel
}

func titleSelector(s Selectors) string {
	if s.Title != "" {
		return s.Title
	}
	return fallbackTitleSel
}
