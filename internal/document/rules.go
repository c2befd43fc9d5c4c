package document

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// Hasher digests document content.
type Hasher interface {
	HashString(content string) string
}

// Build turns a create request into the first document row and its version-1
// snapshot.
func Build(in NewDocument, id, userID string, hasher Hasher, now time.Time) (Document, Version) {
	doc := Document{
		ID:        id,
		Title:     in.Title,
		Content:   in.Content,
		Category:  in.Category,
		Source:    in.Source,
		Score:     in.Score,
		Status:    in.Status,
		Language:  in.Language,
		Keywords:  append([]string{}, in.Keywords...),
		Metadata:  in.Metadata.Clone(),
		Version:   1,
		Hash:      hasher.HashString(in.Content),
		CreatedAt: now,
		CreatedBy: userID,
	}
	if doc.Title == "" {
		doc.Title = DefaultTitle
	}
	if !doc.Status.Valid() {
		doc.Status = StatusDraft
	}
	stampStatus(&doc, "", now)
	return doc, snapshot(doc, InitialVersionSummary, userID, now)
}

// Apply computes the next state of cur under patch. The returned snapshot is
// nil when the content did not change.
func Apply(cur Document, patch Patch, userID string, hasher Hasher, now time.Time) (Document, *Version, error) {
	if patch.ExpectedVersion != 0 && patch.ExpectedVersion != cur.Version {
		return Document{}, nil, fmt.Errorf("expected version %d, found %d: %w",
			patch.ExpectedVersion, cur.Version, ErrVersionConflict)
	}

	next := cur
	next.Keywords = append([]string{}, cur.Keywords...)
	next.Metadata = cur.Metadata.Merge(patch.Metadata)
	if patch.Title != nil && *patch.Title != "" {
		next.Title = *patch.Title
	}
	if patch.Category != nil {
		next.Category = *patch.Category
	}
	if patch.Source != nil {
		next.Source = *patch.Source
	}
	if patch.Score != nil {
		score := *patch.Score
		next.Score = &score
	}
	if patch.Language != nil {
		next.Language = *patch.Language
	}
	if patch.Keywords != nil {
		next.Keywords = append([]string{}, patch.Keywords...)
	}
	if patch.Status != nil && patch.Status.Valid() {
		next.Status = *patch.Status
	}
	stampStatus(&next, cur.Status, now)

	updated := now
	next.UpdatedAt = &updated
	next.UpdatedBy = userID

	if patch.Content == nil || *patch.Content == cur.Content {
		return next, nil, nil
	}
	next.Content = *patch.Content
	next.Hash = hasher.HashString(next.Content)
	next.Version = cur.Version + 1

	summary := patch.Metadata.ChangeSummary()
	if summary == "" {
		summary = DefaultUpdateSummary
	}
	v := snapshot(next, summary, userID, now)
	return next, &v, nil
}

// stampStatus records the first entry into published or archived.
func stampStatus(doc *Document, prev Status, now time.Time) {
	t := now
	switch {
	case doc.Status == StatusPublished && prev != StatusPublished && doc.PublishedAt == nil:
		doc.PublishedAt = &t
	case doc.Status == StatusArchived && prev != StatusArchived && doc.ArchivedAt == nil:
		doc.ArchivedAt = &t
	}
}

func snapshot(doc Document, summary, userID string, now time.Time) Version {
	return Version{
		DocumentID:    doc.ID,
		Version:       doc.Version,
		Title:         doc.Title,
		Content:       doc.Content,
		Metadata:      doc.Metadata.Clone(),
		Hash:          doc.Hash,
		CreatedAt:     now,
		CreatedBy:     userID,
		ChangeSummary: summary,
	}
}

// versionReader is the slice of Store that Revert needs.
type versionReader interface {
	Get(ctx context.Context, id string) (Document, bool, error)
	GetVersion(ctx context.Context, id string, version int) (Version, bool, error)
	Update(ctx context.Context, id string, patch Patch, userID string) (Document, bool, error)
}

// Revert restores the title and content of an earlier version by writing a
// new version on top of the history. found is false when either the document
// or the requested version is missing.
func Revert(ctx context.Context, s versionReader, id string, version int, userID string) (Document, bool, error) {
	target, ok, err := s.GetVersion(ctx, id, version)
	if err != nil {
		return Document{}, false, fmt.Errorf("load version %d: %w", version, err)
	}
	if !ok {
		return Document{}, false, nil
	}
	if _, ok, err = s.Get(ctx, id); err != nil {
		return Document{}, false, fmt.Errorf("load document: %w", err)
	} else if !ok {
		return Document{}, false, nil
	}

	meta := target.Metadata.Clone()
	meta[KeyRevertedFromVersion] = version
	meta[KeyChangeSummary] = fmt.Sprintf("Reverted to version %d", version)
	return s.Update(ctx, id, Patch{
		Title:    &target.Title,
		Content:  &target.Content,
		Metadata: meta,
	}, userID)
}

// snippetFallbackRunes is how much content stands in for a missing content snippet.
const snippetFallbackRunes = 100

// CombineSnippet joins the title and content highlights the way search
// results present them. Missing highlights fall back to the raw title and
// the leading content.
func CombineSnippet(titleSnippet, contentSnippet string, doc Document) string {
	if titleSnippet == "" {
		titleSnippet = doc.Title
	}
	if contentSnippet == "" {
		contentSnippet = truncateRunes(doc.Content, snippetFallbackRunes) + "..."
	}
	return titleSnippet + " - " + contentSnippet
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
