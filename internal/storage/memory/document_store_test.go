package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-ingest/internal/document"
	"github.com/JakeFAU/crawl-ingest/internal/events"
	"github.com/JakeFAU/crawl-ingest/internal/hash/sha256"
)

func TestDocumentStoreCreate(t *testing.T) {
	t.Parallel()

	rec := &events.Recorder{}
	store := newTestDocumentStore(WithEvents(rec))
	ctx := context.Background()

	doc, err := store.Create(ctx, document.NewDocument{
		Title:    "Inflation report",
		Content:  "Prices rose again",
		Status:   document.StatusPublished,
		Metadata: document.Metadata{document.KeyURL: "https://example.com/a"},
	}, "user-1")
	require.NoError(t, err)
	require.Equal(t, "doc-1", doc.ID)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, sha256.New().HashString("Prices rose again"), doc.Hash)
	require.NotNil(t, doc.PublishedAt)

	versions, err := store.ListVersions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, document.InitialVersionSummary, versions[0].ChangeSummary)
	require.Equal(t, doc.Hash, versions[0].Hash)

	created := rec.OfType(events.TypeDocumentCreated)
	require.Len(t, created, 1)
	require.Equal(t, doc.ID, created[0].DocumentID)
}

func TestDocumentStoreUpdateVersioning(t *testing.T) {
	t.Parallel()

	rec := &events.Recorder{}
	store := newTestDocumentStore(WithEvents(rec))
	ctx := context.Background()
	doc, err := store.Create(ctx, document.NewDocument{Title: "t", Content: "v1"}, "u")
	require.NoError(t, err)

	updated, found, err := store.Update(ctx, doc.ID, document.Patch{Category: ptr("economy")}, "u2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, updated.Version)
	require.Equal(t, doc.Hash, updated.Hash)
	require.Equal(t, "economy", updated.Category)
	require.Equal(t, "u2", updated.UpdatedBy)

	updated, found, err = store.Update(ctx, doc.ID, document.Patch{
		Content:  ptr("v2"),
		Metadata: document.Metadata{document.KeyChangeSummary: "typo fix"},
	}, "u2")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, updated.Version)
	require.NotEqual(t, doc.Hash, updated.Hash)

	versions, err := store.ListVersions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, 2, versions[0].Version)
	require.Equal(t, "typo fix", versions[0].ChangeSummary)
	require.Equal(t, "v1", versions[1].Content)

	require.Len(t, rec.OfType(events.TypeDocumentUpdated), 2)

	_, found, err = store.Update(ctx, "missing", document.Patch{Content: ptr("x")}, "u")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDocumentStoreExpectedVersion(t *testing.T) {
	t.Parallel()

	store := newTestDocumentStore()
	ctx := context.Background()
	doc, err := store.Create(ctx, document.NewDocument{Content: "a"}, "u")
	require.NoError(t, err)

	_, found, err := store.Update(ctx, doc.ID, document.Patch{Content: ptr("b"), ExpectedVersion: 3}, "u")
	require.True(t, found)
	require.ErrorIs(t, err, document.ErrVersionConflict)

	got, _, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, "a", got.Content)
}

func TestDocumentStoreVersionMonotonicUnderConcurrency(t *testing.T) {
	t.Parallel()

	store := newTestDocumentStore()
	ctx := context.Background()
	doc, err := store.Create(ctx, document.NewDocument{Content: "start"}, "u")
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.Update(ctx, doc.ID, document.Patch{Content: ptr(fmt.Sprintf("body %d", i))}, "u")
			if err != nil {
				t.Errorf("update %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	final, _, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, writers+1, final.Version)

	versions, err := store.ListVersions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, writers+1)
	for i, v := range versions {
		require.Equal(t, writers+1-i, v.Version)
	}
	require.Equal(t, final.Content, versions[0].Content)
}

func TestDocumentStoreRevertRoundTrip(t *testing.T) {
	t.Parallel()

	store := newTestDocumentStore()
	ctx := context.Background()
	doc, err := store.Create(ctx, document.NewDocument{Title: "one", Content: "first"}, "u")
	require.NoError(t, err)
	_, _, err = store.Update(ctx, doc.ID, document.Patch{Title: ptr("two"), Content: ptr("second")}, "u")
	require.NoError(t, err)
	_, _, err = store.Update(ctx, doc.ID, document.Patch{Title: ptr("three"), Content: ptr("third")}, "u")
	require.NoError(t, err)

	reverted, found, err := store.RevertToVersion(ctx, doc.ID, 1, "editor")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 4, reverted.Version)
	require.Equal(t, "one", reverted.Title)
	require.Equal(t, "first", reverted.Content)
	from, ok := reverted.Metadata.RevertedFromVersion()
	require.True(t, ok)
	require.Equal(t, 1, from)

	versions, err := store.ListVersions(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, versions, 4)
	require.Equal(t, "Reverted to version 1", versions[0].ChangeSummary)
	require.Equal(t, []string{"third", "second", "first"},
		[]string{versions[1].Content, versions[2].Content, versions[3].Content})

	_, found, err = store.RevertToVersion(ctx, doc.ID, 9, "editor")
	require.NoError(t, err)
	require.False(t, found)
	_, found, err = store.RevertToVersion(ctx, "missing", 1, "editor")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDocumentStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	store := newTestDocumentStore()
	ctx := context.Background()
	doc, err := store.Create(ctx, document.NewDocument{
		Content:  "x",
		Keywords: []string{"a"},
		Metadata: document.Metadata{"k": "v"},
	}, "u")
	require.NoError(t, err)
	doc.Keywords[0] = "mutated"
	doc.Metadata["k"] = "mutated"

	got, _, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, got.Keywords)
	require.Equal(t, "v", got.Metadata["k"])
}

func TestDocumentStoreCreateIDError(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore(failingIDs{}, sha256.New())
	_, err := store.Create(context.Background(), document.NewDocument{Content: "x"}, "u")
	require.Error(t, err)
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func TestDocumentStoreListAndFacets(t *testing.T) {
	t.Parallel()

	store := newTestDocumentStore()
	ctx := context.Background()
	seed := []document.NewDocument{
		{Title: "b", Content: "1", Category: "economy", Source: "bank", Status: document.StatusPublished},
		{Title: "a", Content: "2", Category: "politics", Source: "news", Status: document.StatusDraft},
		{Title: "c", Content: "3", Category: "economy", Source: "news", Status: document.StatusPublished},
		{Title: "d", Content: "4"},
	}
	for _, in := range seed {
		_, err := store.Create(ctx, in, "u")
		require.NoError(t, err)
	}

	res, err := store.List(ctx, document.ListOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, res.Total)
	require.Equal(t, "doc-4", res.Items[0].ID, "default order is newest first")

	res, err = store.List(ctx, document.ListOptions{Category: "economy", SortBy: "title", Asc: true})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, "b", res.Items[0].Title)
	require.Equal(t, "c", res.Items[1].Title)

	res, err = store.List(ctx, document.ListOptions{Status: document.StatusPublished, Limit: 1, Page: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Total)
	require.Equal(t, 2, res.PageCount)
	require.Len(t, res.Items, 1)
	require.Equal(t, "doc-1", res.Items[0].ID)

	res, err = store.List(ctx, document.ListOptions{SortBy: "drop table", Page: 9})
	require.NoError(t, err)
	require.Empty(t, res.Items)

	cats, err := store.Categories(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"economy", "politics"}, cats)
	srcs, err := store.Sources(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"bank", "news"}, srcs)
}
