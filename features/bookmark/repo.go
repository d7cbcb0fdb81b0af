package bookmark

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"marksort/backend/internal/worker"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// EnsureUser creates the user on first contact and returns its tier.
func (r *PostgresRepo) EnsureUser(ctx context.Context, userID string) (string, error) {
	var tier string
	query := `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id RETURNING tier`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&tier)
	return tier, err
}

// Upsert resets a re-submitted bookmark to pending. The description survives
// only if the URL did not change.
func (r *PostgresRepo) Upsert(ctx context.Context, userID string, b worker.RawBookmark, contentHash string) (string, error) {
	var id string
	query := `INSERT INTO bookmarks (user_id, external_id, url, title, content_hash, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (user_id, external_id) DO UPDATE SET
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			description = CASE WHEN bookmarks.content_hash = EXCLUDED.content_hash THEN bookmarks.description END,
			content_hash = EXCLUDED.content_hash,
			status = 'pending',
			updated_at = NOW()
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, userID, b.ExternalID, b.URL, b.Title, contentHash).Scan(&id)
	return id, err
}

func (r *PostgresRepo) SetEnriched(ctx context.Context, id, pageTitle, description string) (bool, error) {
	query := `UPDATE bookmarks SET ai_title = NULLIF($2, ''), description = NULLIF($3, ''), status = 'enriched', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'enriched')`
	return r.exec(ctx, query, id, pageTitle, description)
}

func (r *PostgresRepo) MarkEmbedded(ctx context.Context, id string) (bool, error) {
	query := `UPDATE bookmarks SET status = 'embedded', updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'enriched')`
	return r.exec(ctx, query, id)
}

func (r *PostgresRepo) MarkError(ctx context.Context, id string) error {
	query := `UPDATE bookmarks SET status = 'error', updated_at = NOW() WHERE id = $1 AND status IN ('pending', 'enriched')`
	_, err := r.exec(ctx, query, id)
	return err
}

// Revive puts a bookmark that failed terminally back to pending so a retried
// job can move it forward again.
func (r *PostgresRepo) Revive(ctx context.Context, id string) (bool, error) {
	query := `UPDATE bookmarks SET status = 'pending', updated_at = NOW() WHERE id = $1 AND status = 'error'`
	return r.exec(ctx, query, id)
}

func (r *PostgresRepo) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetToIdle parks every unfinished bookmark of the user.
func (r *PostgresRepo) ResetToIdle(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE bookmarks SET status = 'idle', updated_at = NOW() WHERE user_id = $1 AND status IN ('pending', 'enriched')`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountExisting(ctx context.Context, userID string, externalIDs []string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM bookmarks WHERE user_id = $1 AND external_id = ANY($2)`
	err := r.db.QueryRowContext(ctx, query, userID, pq.Array(externalIDs)).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountByStatus(ctx context.Context, userID string) (map[Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bookmarks WHERE user_id = $1 GROUP BY status`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

func (r *PostgresRepo) CountEmbeddedUnassigned(ctx context.Context, userID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM bookmarks b WHERE b.user_id = $1 AND b.status = 'embedded'
		AND NOT EXISTS (SELECT 1 FROM cluster_assignments a WHERE a.bookmark_id = b.id)`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&n)
	return n, err
}

// CountAll is used by the global stats endpoint.
func (r *PostgresRepo) CountAll(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&n)
	return n, err
}
