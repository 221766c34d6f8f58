package retrieval_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/retrieval"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

type fakeEmbedder struct {
	vec []float32
}

func (f fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, nil
}

func newTestStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	s, err := vectorstore.Open(vectorstore.Config{Path: path}, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRetrieve_Stage1Only(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.InsertChunks(ctx, "bot-1", []vectorstore.Chunk{
		{ID: "c1", DocumentID: "doc-1", Content: "our hours are 9-5", Embedding: []float32{1, 0, 0}},
		{ID: "c2", DocumentID: "doc-1", Content: "unrelated", Embedding: []float32{0, 1, 0}},
	}))

	r := retrieval.New(store, fakeEmbedder{vec: []float32{1, 0, 0}}, retrieval.Config{
		TwoStageEnabled: true,
	})

	resp := r.Retrieve(ctx, "bot-1", "what are your hours?")
	require.Equal(t, retrieval.StageOne, resp.Stage)
	require.NotEmpty(t, resp.Results)
	require.Equal(t, "c1", resp.Results[0].ChunkID)
}

func TestRetrieve_CachesResults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.InsertChunks(ctx, "bot-1", []vectorstore.Chunk{
		{ID: "c1", DocumentID: "doc-1", Content: "hours", Embedding: []float32{1, 0, 0}},
	}))

	r := retrieval.New(store, fakeEmbedder{vec: []float32{1, 0, 0}}, retrieval.Config{
		CacheTTL: time.Minute,
	})

	first := r.Retrieve(ctx, "bot-1", "hours?")
	require.NoError(t, store.DeleteByDocumentID(ctx, "bot-1", "doc-1"))
	second := r.Retrieve(ctx, "bot-1", "hours?")
	require.Equal(t, first.Results, second.Results)
}

func TestRetrieve_DegradesOnEmbedFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	r := retrieval.New(store, failingEmbedder{}, retrieval.Config{})
	resp := r.Retrieve(ctx, "bot-1", "anything")
	require.Empty(t, resp.Results)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, context.DeadlineExceeded
}
