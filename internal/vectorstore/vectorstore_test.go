package vectorstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

func newTestStore(t *testing.T, dims int) *vectorstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	s, err := vectorstore.Open(vectorstore.Config{Path: path}, dims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 4)

	chunks := []vectorstore.Chunk{
		{ID: "c1", DocumentID: "doc-1", ChunkIndex: 0, Content: "alpha", Embedding: []float32{1, 0, 0, 0}},
		{ID: "c2", DocumentID: "doc-1", ChunkIndex: 1, Content: "beta", Embedding: []float32{0, 1, 0, 0}},
		{ID: "c3", DocumentID: "doc-2", ChunkIndex: 0, Content: "gamma", Embedding: []float32{0, 0, 1, 0}},
	}
	require.NoError(t, s.InsertChunks(ctx, "bot-1", chunks))

	results, err := s.Search(ctx, "bot-1", []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "c1", results[0].ID)
}

func TestDeleteByDocumentID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)

	require.NoError(t, s.InsertChunks(ctx, "bot-1", []vectorstore.Chunk{
		{ID: "c1", DocumentID: "doc-1", Content: "x", Embedding: []float32{1, 0}},
		{ID: "c2", DocumentID: "doc-2", Content: "y", Embedding: []float32{0, 1}},
	}))

	require.NoError(t, s.DeleteByDocumentID(ctx, "bot-1", "doc-1"))

	results, err := s.Search(ctx, "bot-1", []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "c2", results[0].ID)
}

func TestTempCollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)

	name, err := s.CreateTempCollection(ctx, "task-123")
	require.NoError(t, err)
	require.NoError(t, s.InsertIntoTemp(ctx, name, []vectorstore.Chunk{
		{ID: "c1", Content: "scratch", Embedding: []float32{1, 1}},
	}))

	results, err := s.SearchTemp(ctx, name, []float32{1, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, s.DropTempCollection(ctx, name))

	_, err = s.SearchTemp(ctx, name, []float32{1, 1}, 1)
	require.Error(t, err)
}

func TestFlushDropsTempCollections(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)

	_, err := s.CreateTempCollection(ctx, "stale-task")
	require.NoError(t, err)

	require.NoError(t, s.Flush(ctx))

	_, err = s.SearchTemp(ctx, "temp_stale_task", []float32{0, 0}, 1)
	require.Error(t, err)
}
