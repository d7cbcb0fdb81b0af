package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Repository tracks pipeline job state.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Claim(ctx context.Context, id string) (*Job, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkDelayed(ctx context.Context, id string, runAt time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, lastErr string) error
	UpdateProgress(ctx context.Context, id string, processed, total int) error
	CancelByUser(ctx context.Context, userID string) (int64, error)
	FindByUser(ctx context.Context, userID string, stage Stage, states []State) ([]Job, error)
	FindLatest(ctx context.Context, userID string, stages []Stage) (*Job, error)
	ResetStuck(ctx context.Context, olderThan time.Duration) ([]Job, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, stage, user_id, payload, state, attempts, max_attempts, COALESCE(idempotency_key, ''), processed, total, last_error, run_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	j := &Job{}
	var payload []byte
	err := s.Scan(&j.ID, &j.Stage, &j.UserID, &payload, &j.State, &j.Attempts, &j.MaxAttempts,
		&j.IdempotencyKey, &j.Processed, &j.Total, &j.LastError, &j.RunAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = payload
	return j, nil
}

// Create inserts the job. A taken idempotency key yields ErrDuplicate.
func (r *PostgresRepo) Create(ctx context.Context, j *Job) error {
	query := `INSERT INTO pipeline_jobs (stage, user_id, payload, state, max_attempts, idempotency_key, run_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query, j.Stage, j.UserID, []byte(j.Payload), j.State, j.MaxAttempts, j.IdempotencyKey, j.RunAt).
		Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicate
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// Claim moves a waiting or delayed job to active and counts the attempt.
// Jobs in any other state (cancelled, completed, already active) are not claimable.
func (r *PostgresRepo) Claim(ctx context.Context, id string) (*Job, error) {
	query := `UPDATE pipeline_jobs SET state = 'active', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND state IN ('waiting', 'delayed')
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return j, err
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, id string) error {
	query := `UPDATE pipeline_jobs SET state = 'completed', last_error = '', updated_at = NOW() WHERE id = $1 AND state = 'active'`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) MarkDelayed(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	query := `UPDATE pipeline_jobs SET state = 'delayed', run_at = $2, last_error = $3, updated_at = NOW() WHERE id = $1 AND state = 'active'`
	_, err := r.db.ExecContext(ctx, query, id, runAt, lastErr)
	return err
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id string, lastErr string) error {
	query := `UPDATE pipeline_jobs SET state = 'failed', last_error = $2, updated_at = NOW() WHERE id = $1 AND state IN ('waiting', 'active', 'delayed')`
	_, err := r.db.ExecContext(ctx, query, id, lastErr)
	return err
}

func (r *PostgresRepo) UpdateProgress(ctx context.Context, id string, processed, total int) error {
	query := `UPDATE pipeline_jobs SET processed = $2, total = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, processed, total)
	return err
}

// CancelByUser cancels every pending job of the user across all stages.
func (r *PostgresRepo) CancelByUser(ctx context.Context, userID string) (int64, error) {
	query := `UPDATE pipeline_jobs SET state = 'cancelled', updated_at = NOW() WHERE user_id = $1 AND state IN ('waiting', 'active', 'delayed')`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) FindByUser(ctx context.Context, userID string, stage Stage, states []State) ([]Job, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs WHERE user_id = $1 AND stage = $2 AND state = ANY($3) ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID, stage, pq.Array(names))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// FindLatest returns the newest job of the user in any of the stages,
// whatever its state, or nil when there is none.
func (r *PostgresRepo) FindLatest(ctx context.Context, userID string, stages []Stage) (*Job, error) {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs WHERE user_id = $1 AND stage = ANY($2) ORDER BY created_at DESC LIMIT 1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, userID, pq.Array(names)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// ResetStuck returns jobs left active (or never delivered) for longer than olderThan
// to the waiting state so they can be published again.
func (r *PostgresRepo) ResetStuck(ctx context.Context, olderThan time.Duration) ([]Job, error) {
	query := `UPDATE pipeline_jobs SET state = 'waiting', updated_at = NOW()
		WHERE state IN ('waiting', 'active', 'delayed') AND updated_at < NOW() - $1::interval AND run_at < NOW()
		RETURNING ` + jobColumns
	rows, err := r.db.QueryContext(ctx, query, fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
