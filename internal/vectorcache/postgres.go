package vectorcache

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresRepo keeps entries and vectors in the shared_vectors table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Ensure(ctx context.Context, hash, url string) error {
	query := `INSERT INTO shared_vectors (content_hash, url) VALUES ($1, $2) ON CONFLICT (content_hash) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query, hash, url)
	return err
}

func (r *PostgresRepo) MarkEmbedded(ctx context.Context, hash string) error {
	query := `UPDATE shared_vectors SET embedded_at = NOW() WHERE content_hash = $1 AND embedded_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, hash)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, hash string) ([]float32, error) {
	var vec pq.Float64Array
	query := `SELECT vector FROM shared_vectors WHERE content_hash = $1`
	err := r.db.QueryRowContext(ctx, query, hash).Scan(&vec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toFloat32(vec), nil
}

func (r *PostgresRepo) GetMany(ctx context.Context, hashes []string) (map[string][]float32, error) {
	query := `SELECT content_hash, vector FROM shared_vectors WHERE content_hash = ANY($1) AND vector IS NOT NULL`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(hashes))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32, len(hashes))
	for rows.Next() {
		var hash string
		var vec pq.Float64Array
		if err := rows.Scan(&hash, &vec); err != nil {
			return nil, err
		}
		out[hash] = toFloat32(vec)
	}
	return out, rows.Err()
}

// PutIfAbsent only fills a NULL vector, so the first writer wins.
func (r *PostgresRepo) PutIfAbsent(ctx context.Context, hash, url string, vector []float32) (bool, error) {
	query := `INSERT INTO shared_vectors (content_hash, url, vector, embedded_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (content_hash) DO UPDATE SET vector = EXCLUDED.vector, embedded_at = NOW()
		WHERE shared_vectors.vector IS NULL`
	res, err := r.db.ExecContext(ctx, query, hash, url, pq.Float64Array(toFloat64(vector)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) CountEmbedded(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM shared_vectors WHERE embedded_at IS NOT NULL`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func toFloat32(in []float64) []float32 {
	if len(in) == 0 {
		return nil
	}
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
