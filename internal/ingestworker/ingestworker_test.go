package ingestworker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

type fakeExtractor struct{ text string }

func (f fakeExtractor) Extract(path, fileName string) (string, error) { return f.text, nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "pgx")
	return store.OpenWithDB(sqlxDB), mock
}

func newTestVectorStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	s, err := vectorstore.Open(vectorstore.Config{Path: path}, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChunkText_RespectsBudgetAndOverlap(t *testing.T) {
	content := "Paragraph one has some words in it.\n\nParagraph two has more words here too.\n\nParagraph three finishes the document."
	chunks := chunkText(content, 8, 3)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		require.NotEmpty(t, c)
	}
}

func TestRunFileUpload_DuplicateIsNoOp(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectQuery(`SELECT id FROM documents`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-doc"))

	w := &Worker{Store: s, Vectors: newTestVectorStore(t), Extractor: fakeExtractor{}, Embedder: fakeEmbedder{}}
	stats, err := w.runFileUpload(context.Background(), Task{
		ID: "t1", Type: TaskFileUpload, BotID: "bot-1", DocumentID: "doc-1",
		FilePath: filepath.Join(t.TempDir(), "missing.txt"), FileName: "a.txt", ContentHash: "hash1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, stats.PagesOrFiles)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunDeleteDocument(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`DELETE FROM documents`).WillReturnResult(sqlmock.NewResult(0, 1))

	vs := newTestVectorStore(t)
	require.NoError(t, vs.InsertChunks(context.Background(), "bot-1", []vectorstore.Chunk{
		{ID: "c1", DocumentID: "doc-1", Content: "x", Embedding: []float32{1, 0, 0}},
	}))

	w := &Worker{Store: s, Vectors: vs}
	stats, err := w.runDeleteDocument(context.Background(), Task{BotID: "bot-1", DocumentID: "doc-1"})
	require.NoError(t, err)
	require.Equal(t, 1, stats.PagesOrFiles)
	require.NoError(t, mock.ExpectationsWereMet())

	results, err := vs.Search(context.Background(), "bot-1", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Empty(t, results)
}
