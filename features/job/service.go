package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marksort/backend/internal/queue"
)

var (
	ErrUnknownStage = errors.New("unknown pipeline stage")
	ErrRetryTimeout = errors.New("timeout waiting for job enqueue")
)

type Enqueuer interface {
	Enqueue(ctx context.Context, stage queue.Stage, userID string, payload any, opts queue.Options) (*queue.Job, error)
}

// Reviver moves a bookmark that was marked as failed back into the pipeline.
// MarkError undoes Revive when the retry could not be enqueued.
type Reviver interface {
	Revive(ctx context.Context, id string) (bool, error)
	MarkError(ctx context.Context, id string) error
}

type Service struct {
	repo    Repository
	queue   Enqueuer
	reviver Reviver
	logger  *slog.Logger
	timeout time.Duration
}

func NewService(repo Repository, q Enqueuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, queue: q, logger: logger, timeout: 5 * time.Second}
}

// WithReviver lets Retry recover per-bookmark stages. Without it the retried
// job would hit a bookmark still in error and finish without effect.
func (s *Service) WithReviver(r Reviver) *Service {
	s.reviver = r
	return s
}

// WithTimeout bounds how long Retry waits for the enqueue.
func (s *Service) WithTimeout(d time.Duration) *Service {
	s.timeout = d
	return s
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Bury records a terminally failed pipeline job.
func (s *Service) Bury(ctx context.Context, j *queue.Job, cause error) error {
	failed := &Job{
		UserID:  j.UserID,
		Handler: string(j.Stage),
		Payload: j.Payload,
		Retries: j.Attempts,
	}
	if cause != nil {
		failed.Error = cause.Error()
	}
	if err := s.repo.Save(ctx, failed); err != nil {
		return fmt.Errorf("failed to save failed job: %w", err)
	}
	s.logger.WarnContext(ctx, "job moved to dead letter", "job_id", j.ID, "failed_job_id", failed.ID, "stage", j.Stage, "user_id", j.UserID)
	return nil
}

// Retry re-enqueues the payload on its original stage and drops the record.
func (s *Service) Retry(ctx context.Context, id string) error {
	failed, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	stage, ok := queue.ParseStage(failed.Handler)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStage, failed.Handler)
	}

	bookmarkID, err := s.revive(ctx, stage, failed)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.queue.Enqueue(ctx, stage, failed.UserID, failed.Payload, queue.Options{})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			s.restore(ctx, bookmarkID)
			return fmt.Errorf("failed to enqueue retry: %w", err)
		}
	case <-time.After(s.timeout):
		s.restore(ctx, bookmarkID)
		return ErrRetryTimeout
	}

	s.logger.InfoContext(ctx, "failed job retried", "failed_job_id", id, "stage", stage, "user_id", failed.UserID)
	return s.repo.Delete(ctx, id)
}

// revive returns the bookmark moved from error back to pending, or "" when the
// stage does not work on a single bookmark.
func (s *Service) revive(ctx context.Context, stage queue.Stage, failed *Job) (string, error) {
	if s.reviver == nil || (stage != queue.StageEnrichment && stage != queue.StageEmbedding) {
		return "", nil
	}

	var ref struct {
		BookmarkID string `json:"bookmark_id"`
	}
	if err := json.Unmarshal(failed.Payload, &ref); err != nil || ref.BookmarkID == "" {
		return "", fmt.Errorf("failed job %s has no bookmark reference", failed.ID)
	}

	ok, err := s.reviver.Revive(ctx, ref.BookmarkID)
	if err != nil {
		return "", fmt.Errorf("failed to revive bookmark: %w", err)
	}
	if !ok {
		s.logger.InfoContext(ctx, "bookmark not in error, retrying as is", "bookmark_id", ref.BookmarkID, "failed_job_id", failed.ID)
		return "", nil
	}
	return ref.BookmarkID, nil
}

func (s *Service) restore(ctx context.Context, bookmarkID string) {
	if bookmarkID == "" {
		return
	}
	if err := s.reviver.MarkError(ctx, bookmarkID); err != nil {
		s.logger.WarnContext(ctx, "failed to restore bookmark error state", "bookmark_id", bookmarkID, "error", err)
	}
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
