package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"marksort/backend/internal/middleware"
)

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
	DeferredPublish(topic string, delay time.Duration, body []byte) error
}

type Queue struct {
	repo        Repository
	pub         Publisher
	maxAttempts int
}

func New(repo Repository, pub Publisher, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Queue{repo: repo, pub: pub, maxAttempts: maxAttempts}
}

// Enqueue records the job and publishes its envelope on the stage topic.
// With a non-empty IdempotencyKey a second submission returns ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, stage Stage, userID string, payload any, opts Options) (*Job, error) {
	var body json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		body = p
	case []byte:
		body = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", stage, err)
		}
		body = b
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	j := &Job{
		Stage:          stage,
		UserID:         userID,
		Payload:        body,
		State:          StateWaiting,
		MaxAttempts:    maxAttempts,
		IdempotencyKey: opts.IdempotencyKey,
		RunAt:          time.Now().Add(opts.Delay),
	}
	if opts.Delay > 0 {
		j.State = StateDelayed
	}

	if err := q.repo.Create(ctx, j); err != nil {
		return nil, err
	}

	if err := q.publish(ctx, j, opts.Delay); err != nil {
		if mErr := q.repo.MarkFailed(ctx, j.ID, err.Error()); mErr != nil {
			slog.ErrorContext(ctx, "failed to mark unpublished job", "job_id", j.ID, "error", mErr)
		}
		return nil, fmt.Errorf("publish %s job: %w", stage, err)
	}

	slog.DebugContext(ctx, "job enqueued", "job_id", j.ID, "stage", stage, "user_id", userID, "delay", opts.Delay)
	return j, nil
}

func (q *Queue) publish(ctx context.Context, j *Job, delay time.Duration) error {
	env := envelope{JobID: j.ID, CorrelationID: middleware.GetCorrelationID(ctx)}
	if env.CorrelationID == "unknown" {
		env.CorrelationID = ""
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if delay > 0 {
		return q.pub.DeferredPublish(j.Stage.Topic(), delay, b)
	}
	return q.pub.Publish(j.Stage.Topic(), b)
}

// CancelUser cancels all waiting, delayed and active jobs of the user in every stage.
// Envelopes still in flight are dropped when their job is claimed.
func (q *Queue) CancelUser(ctx context.Context, userID string) (int64, error) {
	n, err := q.repo.CancelByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs: %w", err)
	}
	slog.InfoContext(ctx, "cancelled queued jobs", "user_id", userID, "count", n)
	return n, nil
}

// Active returns the most recent pending job of the user in the stage, or nil.
func (q *Queue) Active(ctx context.Context, userID string, stage Stage) (*Job, error) {
	jobs, err := q.repo.FindByUser(ctx, userID, stage, Pending)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// Latest returns the newest job of the user in any of the stages, finished or not.
func (q *Queue) Latest(ctx context.Context, userID string, stages ...Stage) (*Job, error) {
	return q.repo.FindLatest(ctx, userID, stages)
}

// Progress records how far a running job has got.
func (q *Queue) Progress(ctx context.Context, jobID string, processed, total int) error {
	return q.repo.UpdateProgress(ctx, jobID, processed, total)
}

// RecoverStuck republishes jobs that have not moved for longer than olderThan.
// Used at startup to recover work lost by a crashed worker.
func (q *Queue) RecoverStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := q.repo.ResetStuck(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	for i := range jobs {
		if err := q.publish(ctx, &jobs[i], 0); err != nil {
			slog.ErrorContext(ctx, "failed to republish stuck job", "job_id", jobs[i].ID, "error", err)
		}
	}
	return len(jobs), nil
}
