package bookmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"marksort/backend/internal/cluster"
	"marksort/backend/internal/queue"
	"marksort/backend/internal/worker"
)

const defaultTier = "free"

type Service struct {
	repo     Repository
	clusters ClusterReader
	queue    JobQueue
	cancel   Canceller
	limits   map[string]int
}

func NewService(repo Repository, clusters ClusterReader, q JobQueue, c Canceller, limits map[string]int) *Service {
	return &Service{repo: repo, clusters: clusters, queue: q, cancel: c, limits: limits}
}

// SubmitIngest checks the user's quota and queues the batch. Re-submitted
// external ids do not count against the quota.
func (s *Service) SubmitIngest(ctx context.Context, userID string, items []worker.RawBookmark, p cluster.Profile) (*queue.Job, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no bookmarks submitted", ErrInvalidInput)
	}
	profile, err := p.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for i, b := range items {
		if b.ExternalID == "" || b.URL == "" {
			return nil, fmt.Errorf("%w: bookmark %d needs external_id and url", ErrInvalidInput, i)
		}
		if _, ok := seen[b.ExternalID]; ok {
			continue
		}
		seen[b.ExternalID] = struct{}{}
		ids = append(ids, b.ExternalID)
	}

	if err := s.checkQuota(ctx, userID, ids); err != nil {
		return nil, err
	}

	s.cancel.Clear(userID)

	payload := worker.IngestPayload{UserID: userID, Bookmarks: items, Profile: profile}
	j, err := s.queue.Enqueue(ctx, queue.StageIngest, userID, payload, queue.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue ingest: %w", err)
	}
	slog.InfoContext(ctx, "ingest submitted", "user_id", userID, "job_id", j.ID, "count", len(items))
	return j, nil
}

func (s *Service) checkQuota(ctx context.Context, userID string, externalIDs []string) error {
	tier, err := s.repo.EnsureUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	limit, ok := s.limits[tier]
	if !ok {
		limit = s.limits[defaultTier]
	}
	if limit <= 0 {
		return nil
	}

	current, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to count bookmarks: %w", err)
	}
	existing, err := s.repo.CountExisting(ctx, userID, externalIDs)
	if err != nil {
		return fmt.Errorf("failed to count bookmarks: %w", err)
	}

	added := len(externalIDs) - existing
	if current+added > limit {
		return &LimitError{Tier: tier, Limit: limit, Current: current, Requested: added}
	}
	return nil
}

type CancelResult struct {
	JobsCancelled  int64 `json:"jobs_cancelled"`
	BookmarksIdled int64 `json:"bookmarks_idled"`
}

// Cancel flags the user so in-flight work stops at its next checkpoint and parks
// unfinished bookmarks. With clearAll, queued and delayed jobs are dropped too.
func (s *Service) Cancel(ctx context.Context, userID string, clearAll bool) (*CancelResult, error) {
	s.cancel.Cancel(userID)

	var res CancelResult
	if clearAll {
		n, err := s.queue.CancelUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel jobs: %w", err)
		}
		res.JobsCancelled = n
	}

	n, err := s.repo.ResetToIdle(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reset bookmarks: %w", err)
	}
	res.BookmarksIdled = n

	slog.InfoContext(ctx, "user cancelled", "user_id", userID, "clear_all", clearAll,
		"jobs_cancelled", res.JobsCancelled, "bookmarks_idled", res.BookmarksIdled)
	return &res, nil
}

// TriggerClustering queues a run now. An already pending run is returned instead.
func (s *Service) TriggerClustering(ctx context.Context, userID string, p cluster.Profile) (*queue.Job, error) {
	profile, err := p.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	active, err := s.queue.Active(ctx, userID, queue.StageClustering)
	if err != nil {
		return nil, fmt.Errorf("failed to check clustering jobs: %w", err)
	}
	if active != nil {
		return active, nil
	}

	s.cancel.Clear(userID)
	return s.queue.Enqueue(ctx, queue.StageClustering, userID, worker.ClusteringPayload{UserID: userID, Profile: profile}, queue.Options{})
}

type Structure struct {
	Clusters    []cluster.Record     `json:"clusters"`
	Assignments []cluster.Assignment `json:"assignments"`
	Total       int                  `json:"-"`
}

// GetStructure returns the whole forest and one page of assignments.
func (s *Service) GetStructure(ctx context.Context, userID string, limit, offset int) (*Structure, error) {
	clusters, err := s.clusters.ListClusters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	assignments, err := s.clusters.ListAssignments(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	total, err := s.clusters.CountAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}

	if clusters == nil {
		clusters = []cluster.Record{}
	}
	if assignments == nil {
		assignments = []cluster.Assignment{}
	}
	return &Structure{Clusters: clusters, Assignments: assignments, Total: total}, nil
}

func isClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, cluster.ErrInvalidProfile)
}
