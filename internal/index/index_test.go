package index

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldarchive/ingestor/internal/geo"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(context.Background(), filepath.Join(t.TempDir(), "index.db"),
		slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func addDoc(t *testing.T, ix *Index, doc Document, content string) int64 {
	t.Helper()
	id, err := ix.AddDocument(context.Background(), doc, content)
	require.NoError(t, err)
	return id
}

func TestAddDocumentAndSearch(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	id := addDoc(t, ix, Document{
		TaskID:       7,
		FilePath:     "/staging/survey.txt",
		StableID:     "abc123",
		Theme:        "BC_SOI",
		Title:        "Survey field notes",
		DocType:      "report",
		InferredDate: "1911-06-15",
		TenantID:     "band-688",
	}, "boundary survey along the river near the reserve line")
	addDoc(t, ix, Document{
		FilePath: "/staging/menu.txt",
		Title:    "Lunch menu",
	}, "soup and sandwiches")

	hits, err := ix.Search(ctx, "survey", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
	assert.Equal(t, "Survey field notes", hits[0].Title)
	assert.Contains(t, hits[0].Snippet, "[survey]")

	// Tenant filter excludes other tenants.
	hits, err = ix.Search(ctx, "survey", SearchOptions{TenantID: "someone-else"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = ix.Search(ctx, "survey", SearchOptions{Theme: "SOI", DocType: "report"})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestDocByTask(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	addDoc(t, ix, Document{TaskID: 3, FilePath: "/a", Title: "first"}, "first pass")
	// A replay of the same task appends; the newest row wins.
	addDoc(t, ix, Document{TaskID: 3, FilePath: "/a", Title: "second"}, "second pass")

	d, err := ix.DocByTask(ctx, 3, "")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "second", d.Title)

	d, err = ix.DocByTask(ctx, 99, "")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestSummaryLifecycle(t *testing.T) {
	ix := newTestIndex(t)
	ix.now = func() time.Time { return time.Unix(1000, 0) }
	ctx := context.Background()

	id := addDoc(t, ix, Document{FilePath: "/a", Title: "no summary yet"}, "content")
	addDoc(t, ix, Document{FilePath: "/b", Title: "summarized", Summary: "done"}, "content")

	pending, err := ix.PendingSummaries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)

	require.NoError(t, ix.UpdateSummary(ctx, id, "three factual sentences"))

	pending, err = ix.PendingSummaries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	d, err := ix.Doc(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "three factual sentences", d.Summary)
}

func TestUpdateDocPath(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	id := addDoc(t, ix, Document{FilePath: "/incoming/a.pdf", Title: "a", TenantID: "t1"}, "body text")

	ok, err := ix.UpdateDocPath(ctx, id, "/processed/a.pdf", "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ix.UpdateDocPath(ctx, id, "/elsewhere/a.pdf", "t2")
	require.NoError(t, err)
	assert.False(t, ok, "tenant mismatch is a no-op")

	d, err := ix.Doc(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/processed/a.pdf", d.FilePath)

	hits, err := ix.Search(ctx, "body", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "/processed/a.pdf", hits[0].FilePath)
}

func TestGeoPointsAndSuggestions(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	id := addDoc(t, ix, Document{FilePath: "/a", Title: "a", TenantID: "t1"}, "content")
	coords := []geo.Point{{Lat: 50.67, Lon: -120.33}, {Lat: 50.7, Lon: -120.4}}
	require.NoError(t, ix.AddGeoPoints(ctx, id, 7, "BC_SOI", "a", coords, "t1"))

	points, err := ix.GeoForDoc(ctx, id, "t1")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.InDelta(t, 50.67, points[0].Lat, 1e-9)

	points, err = ix.GeoForDoc(ctx, id, "t2")
	require.NoError(t, err)
	assert.Empty(t, points)

	sugID, err := ix.AddSuggestion(ctx, Suggestion{
		DocID: id, TaskID: 7, Label: "Kamloops", Lat: 50.6745, Lon: -120.3273,
		Score: 1.0, Source: "gazetteer", TenantID: "t1",
	})
	require.NoError(t, err)

	sugs, err := ix.SuggestionsForDoc(ctx, id, "t1")
	require.NoError(t, err)
	require.Len(t, sugs, 1)
	assert.Equal(t, "pending", sugs[0].Status)

	require.NoError(t, ix.AcceptSuggestion(ctx, sugID, "t1"))

	sugs, err = ix.SuggestionsForDoc(ctx, id, "t1")
	require.NoError(t, err)
	assert.Equal(t, "accepted", sugs[0].Status)

	points, err = ix.GeoForDoc(ctx, id, "t1")
	require.NoError(t, err)
	assert.Len(t, points, 3, "accepted suggestion becomes a point")
}

func TestEmbeddingsRoundTripAndRerank(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	a := addDoc(t, ix, Document{FilePath: "/a", Title: "a"}, "treaty boundary survey")
	b := addDoc(t, ix, Document{FilePath: "/b", Title: "b"}, "treaty office letter")

	require.NoError(t, ix.StoreEmbedding(ctx, a, "", []float32{1, 0}))
	require.NoError(t, ix.StoreEmbedding(ctx, b, "", []float32{0, 1}))

	vec, err := ix.Embedding(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)

	hits, err := ix.Search(ctx, "treaty", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	reranked := ix.Rerank(ctx, []float32{0, 1}, hits)
	require.Len(t, reranked, 2)
	assert.Equal(t, b, reranked[0].ID, "closest vector first")

	// Upsert replaces the stored vector.
	require.NoError(t, ix.StoreEmbedding(ctx, a, "", []float32{0.5, 0.5}))
	vec, err = ix.Embedding(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
}
