package cluster

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// LoadEmbedded returns the user's embedded bookmarks without vectors.
func (r *PostgresRepo) LoadEmbedded(ctx context.Context, userID string) ([]Item, error) {
	query := `SELECT id, url, COALESCE(NULLIF(ai_title, ''), title), COALESCE(description, ''), content_hash
		FROM bookmarks
		WHERE user_id = $1 AND status = 'embedded'
		ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.BookmarkID, &it.URL, &it.Title, &it.Description, &it.ContentHash); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ReplaceForest deletes the user's clusters (assignments cascade) and writes the
// new forest in one transaction. Records must be ordered parents first.
func (r *PostgresRepo) ReplaceForest(ctx context.Context, userID string, clusters []Record, assignments []Assignment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM clusters WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete clusters: %w", err)
	}

	insert := `INSERT INTO clusters (id, user_id, name, parent_id, depth) VALUES ($1, $2, $3, $4, $5)`
	for _, c := range clusters {
		var parent sql.NullString
		if c.ParentID != nil {
			parent = sql.NullString{String: *c.ParentID, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert, c.ID, userID, c.Name, parent, c.Depth); err != nil {
			return fmt.Errorf("insert cluster: %w", err)
		}
	}

	if len(assignments) > 0 {
		clusterIDs := make([]string, len(assignments))
		bookmarkIDs := make([]string, len(assignments))
		for i, a := range assignments {
			clusterIDs[i] = a.ClusterID
			bookmarkIDs[i] = a.BookmarkID
		}
		query := `INSERT INTO cluster_assignments (cluster_id, bookmark_id)
			SELECT * FROM unnest($1::uuid[], $2::uuid[])
			ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, pq.Array(clusterIDs), pq.Array(bookmarkIDs)); err != nil {
			return fmt.Errorf("insert assignments: %w", err)
		}
	}

	return tx.Commit()
}

func (r *PostgresRepo) ListClusters(ctx context.Context, userID string) ([]Record, error) {
	query := `SELECT id, user_id, name, parent_id, depth FROM clusters WHERE user_id = $1 ORDER BY depth, created_at, id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var c Record
		var parent sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &parent, &c.Depth); err != nil {
			return nil, err
		}
		if parent.Valid {
			p := parent.String
			c.ParentID = &p
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListAssignments(ctx context.Context, userID string, limit, offset int) ([]Assignment, error) {
	query := `SELECT a.cluster_id, a.bookmark_id FROM cluster_assignments a
		JOIN clusters c ON c.id = a.cluster_id
		WHERE c.user_id = $1
		ORDER BY a.cluster_id, a.bookmark_id
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ClusterID, &a.BookmarkID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountClusters(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clusters WHERE user_id = $1`, userID).Scan(&n)
	return n, err
}

func (r *PostgresRepo) CountAssignments(ctx context.Context, userID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM cluster_assignments a JOIN clusters c ON c.id = a.cluster_id WHERE c.user_id = $1`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&n)
	return n, err
}

// CountAll is used by the global stats endpoint.
func (r *PostgresRepo) CountAll(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clusters`).Scan(&n)
	return n, err
}
