package bookmark_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marksort/backend/features/bookmark"
	"marksort/backend/internal/worker"
)

func TestPostgresRepo_EnsureUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := bookmark.NewPostgresRepo(db)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id RETURNING tier`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"tier"}).AddRow("pro"))

	tier, err := repo.EnsureUser(context.Background(), "u1")
	assert.NoError(t, err)
	assert.Equal(t, "pro", tier)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Upsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := bookmark.NewPostgresRepo(db)
	b := worker.RawBookmark{ExternalID: "e1", URL: "https://go.dev", Title: "Go"}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO bookmarks (user_id, external_id, url, title, content_hash, status)`)).
		WithArgs("u1", "e1", "https://go.dev", "Go", "hash").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("b1"))

	id, err := repo.Upsert(context.Background(), "u1", b, "hash")
	assert.NoError(t, err)
	assert.Equal(t, "b1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_GuardedTransitions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := bookmark.NewPostgresRepo(db)
	ctx := context.Background()

	t.Run("SetEnriched", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookmarks SET ai_title = NULLIF($2, ''), description = NULLIF($3, ''), status = 'enriched'`)).
			WithArgs("b1", "Title", "Desc").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.SetEnriched(ctx, "b1", "Title", "Desc")
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("MarkEmbedded on idle bookmark", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookmarks SET status = 'embedded', updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'enriched')`)).
			WithArgs("b1").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.MarkEmbedded(ctx, "b1")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("MarkError", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookmarks SET status = 'error', updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'enriched')`)).
			WithArgs("b1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.MarkError(ctx, "b1"))
	})

	t.Run("Revive errored bookmark", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookmarks SET status = 'pending', updated_at = NOW() WHERE id = $1 AND status = 'error'`)).
			WithArgs("b1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.Revive(ctx, "b1")
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Revive leaves other states alone", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookmarks SET status = 'pending', updated_at = NOW() WHERE id = $1 AND status = 'error'`)).
			WithArgs("b2").
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.Revive(ctx, "b2")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ResetToIdle", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE bookmarks SET status = 'idle', updated_at = NOW() WHERE user_id = $1 AND status IN ('pending', 'enriched')`)).
			WithArgs("u1").
			WillReturnResult(sqlmock.NewResult(0, 6))

		n, err := repo.ResetToIdle(ctx, "u1")
		assert.NoError(t, err)
		assert.Equal(t, int64(6), n)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Counts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := bookmark.NewPostgresRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status, COUNT(*) FROM bookmarks WHERE user_id = $1 GROUP BY status`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("embedded", 7).
			AddRow("pending", 2))

	counts, err := repo.CountByStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 7, counts[bookmark.StatusEmbedded])
	assert.Equal(t, 2, counts[bookmark.StatusPending])
	assert.Zero(t, counts[bookmark.StatusError])

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM bookmarks WHERE user_id = $1 AND external_id = ANY($2)`)).
		WithArgs("u1", pq.Array([]string{"a", "b"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	n, err := repo.CountExisting(ctx, "u1", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM bookmarks b WHERE b.user_id = $1 AND b.status = 'embedded'`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err = repo.CountEmbeddedUnassigned(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}
