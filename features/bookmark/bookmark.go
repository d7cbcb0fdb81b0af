package bookmark

import (
	"context"
	"errors"
	"fmt"

	"marksort/backend/internal/cluster"
	"marksort/backend/internal/queue"
	"marksort/backend/internal/worker"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusEnriched Status = "enriched"
	StatusEmbedded Status = "embedded"
	StatusError    Status = "error"
	StatusIdle     Status = "idle"
)

var (
	ErrQuotaExceeded = errors.New("bookmark quota exceeded")
	ErrInvalidInput  = errors.New("invalid input")
)

// LimitError reports which tier limit a submission would break.
type LimitError struct {
	Tier      string
	Limit     int
	Current   int
	Requested int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s tier allows %d bookmarks, user has %d and submitted %d new",
		e.Tier, e.Limit, e.Current, e.Requested)
}

func (e *LimitError) Unwrap() error { return ErrQuotaExceeded }

type Repository interface {
	worker.BookmarkStore

	EnsureUser(ctx context.Context, userID string) (string, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	CountExisting(ctx context.Context, userID string, externalIDs []string) (int, error)
	CountByStatus(ctx context.Context, userID string) (map[Status]int, error)
	CountEmbeddedUnassigned(ctx context.Context, userID string) (int, error)
	ResetToIdle(ctx context.Context, userID string) (int64, error)
}

// JobQueue is the part of queue.Queue the API side drives.
type JobQueue interface {
	Enqueue(ctx context.Context, stage queue.Stage, userID string, payload any, opts queue.Options) (*queue.Job, error)
	CancelUser(ctx context.Context, userID string) (int64, error)
	Active(ctx context.Context, userID string, stage queue.Stage) (*queue.Job, error)
	Latest(ctx context.Context, userID string, stages ...queue.Stage) (*queue.Job, error)
}

type ClusterReader interface {
	ListClusters(ctx context.Context, userID string) ([]cluster.Record, error)
	ListAssignments(ctx context.Context, userID string, limit, offset int) ([]cluster.Assignment, error)
	CountClusters(ctx context.Context, userID string) (int, error)
	CountAssignments(ctx context.Context, userID string) (int, error)
}

type Canceller interface {
	Cancel(userID string)
	Clear(userID string)
	IsCancelled(userID string) bool
}
