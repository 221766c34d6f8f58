package scoringworker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/llm"
	"github.com/kestrel-run/kestrel/internal/store"
	"github.com/kestrel-run/kestrel/internal/vectorstore"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeBrain struct{ reply string }

func (f fakeBrain) Respond(ctx context.Context, req llm.Request) (string, error) {
	return f.reply, nil
}
func (f fakeBrain) Stream(ctx context.Context, req llm.Request, onChunk func(string) error) error {
	return onChunk(f.reply)
}
func (f fakeBrain) Judge(ctx context.Context, req llm.JudgeRequest) (llm.JudgeResult, error) {
	return llm.JudgeResult{}, nil
}

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return store.OpenWithDB(sqlx.NewDb(db, "pgx")), mock
}

func newTestVectorStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	s, err := vectorstore.Open(vectorstore.Config{Path: path}, 3)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunGrading_PersistsLeadScore(t *testing.T) {
	s, mock := newTestStore(t)
	mock.ExpectExec(`UPDATE visitors SET lead_score`).WillReturnResult(sqlmock.NewResult(0, 1))

	w := &Worker{
		Store:      s,
		Vectors:    newTestVectorStore(t),
		Embedder:   fakeEmbedder{},
		Brain:      fakeBrain{reply: `{"score":0.9,"intent_signals":["pricing"],"engagement_level":"high","key_interests":["plan-a"],"recommended_actions":["follow up"],"reasoning":"strong intent"}`},
		Thresholds: Thresholds{Hot: 0.8, Warm: 0.5},
	}
	visitor := store.Visitor{ID: "visitor-1"}
	result, err := w.runGrading(context.Background(), Task{BotID: "bot-1", SessionID: "sess-1"}, visitor, "grading_sess-1")
	require.NoError(t, err)
	require.Equal(t, 0.9, result.Score)
	require.Equal(t, CategoryHot, result.Category)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThresholds_Categorize(t *testing.T) {
	th := Thresholds{Hot: 0.8, Warm: 0.5}
	require.Equal(t, CategoryHot, th.Categorize(0.9))
	require.Equal(t, CategoryWarm, th.Categorize(0.6))
	require.Equal(t, CategoryCold, th.Categorize(0.1))
}

func TestExtractJSONObject(t *testing.T) {
	require.Equal(t, `{"a":1}`, extractJSONObject("here is json: {\"a\":1} thanks"))
}
