package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-run/kestrel/internal/store"
)

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sdb := sqlx.NewDb(db, "pgx")
	return store.OpenWithDB(sdb), mock
}

func TestCreateBot(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "public_key", "provider_config_id", "display_config", "collection_name",
		"description", "assessment_questions", "status", "deleted_at", "created_at", "updated_at",
	}).AddRow("bot-1", "pk-1", nil, []byte(`{}`), "bot_bot_1", "desc", []byte(`[]`), "created", nil, time.Now(), time.Now())

	mock.ExpectQuery(`INSERT INTO bots`).
		WithArgs("bot-1", "pk-1", "bot_bot_1", "desc", store.BotStatusCreated).
		WillReturnRows(rows)

	b, err := s.CreateBot(ctx, "bot-1", "pk-1", "desc")
	require.NoError(t, err)
	require.Equal(t, "bot-1", b.ID)
	require.Equal(t, store.BotStatusCreated, b.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateBot_NoProviderConfig(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT provider_config_id FROM bots WHERE id = \$1 FOR UPDATE`).
		WithArgs("bot-1").
		WillReturnRows(sqlmock.NewRows([]string{"provider_config_id"}).AddRow(nil))
	mock.ExpectRollback()

	err := s.ActivateBot(ctx, "bot-1")
	require.ErrorIs(t, err, store.ErrNoProviderConfig)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateBot_WithProviderConfig(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT provider_config_id FROM bots WHERE id = \$1 FOR UPDATE`).
		WithArgs("bot-1").
		WillReturnRows(sqlmock.NewRows([]string{"provider_config_id"}).AddRow("pc-1"))
	mock.ExpectExec(`UPDATE bots SET status = \$1`).
		WithArgs(store.BotStatusActive, "bot-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.ActivateBot(ctx, "bot-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDocument_Duplicate(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id FROM documents WHERE bot_id = \$1 AND content_hash = \$2`).
		WithArgs("bot-1", "hash-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-existing"))

	_, err := s.CreateDocument(ctx, "doc-1", "bot-1", store.SourceFileUpload, "", "hash-1", nil)
	require.ErrorIs(t, err, store.ErrDuplicateContent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveBots(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "public_key", "provider_config_id", "display_config", "collection_name",
		"description", "assessment_questions", "status", "deleted_at", "created_at", "updated_at",
	}).
		AddRow("bot-1", "pk-1", "pc-1", []byte(`{}`), "bot_bot_1", "desc", []byte(`[]`), store.BotStatusActive, nil, time.Now(), time.Now()).
		AddRow("bot-2", "pk-2", "pc-2", []byte(`{}`), "bot_bot_2", "desc", []byte(`[]`), store.BotStatusActive, nil, time.Now(), time.Now())

	mock.ExpectQuery(`SELECT \* FROM bots WHERE status = \$1 AND deleted_at IS NULL ORDER BY id`).
		WithArgs(store.BotStatusActive).
		WillReturnRows(rows)

	bots, err := s.ListActiveBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 2)
	require.Equal(t, "bot-1", bots[0].ID)
	require.Equal(t, "bot-2", bots[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateVisitor_ExistingNotNew(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{
		"id", "bot_id", "client_ip", "name", "email", "phone", "address",
		"lead_score", "lead_category", "assessment", "is_new", "created_at", "updated_at",
	}).AddRow("v-1", "bot-1", "1.2.3.4", "", "", "", "", 0.0, "cold", []byte(`{}`), false, time.Now(), time.Now())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM visitors WHERE bot_id = \$1 AND client_ip = \$2`).
		WithArgs("bot-1", "1.2.3.4").
		WillReturnRows(rows)
	mock.ExpectCommit()

	v, err := s.GetOrCreateVisitor(ctx, "ignored-id", "bot-1", "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, "v-1", v.ID)
	require.False(t, v.IsNew)
	require.NoError(t, mock.ExpectationsWereMet())
}
