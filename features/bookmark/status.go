package bookmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"marksort/backend/internal/cluster"
	"marksort/backend/internal/queue"
	"marksort/backend/internal/worker"
)

type IngestProgress struct {
	JobID     string `json:"job_id"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
}

// PipelineStatus is the per-user view polled by clients.
type PipelineStatus struct {
	Pending            int             `json:"pending"`
	Enriched           int             `json:"enriched"`
	Embedded           int             `json:"embedded"`
	Errored            int             `json:"errored"`
	Idle               int             `json:"idle"`
	Clusters           int             `json:"clusters"`
	Assigned           int             `json:"assigned"`
	Unassigned         int             `json:"unassigned"`
	IsIngesting        bool            `json:"is_ingesting"`
	Ingest             *IngestProgress `json:"ingest,omitempty"`
	IsClusteringActive bool            `json:"is_clustering_active"`
	IsCancelled        bool            `json:"is_cancelled"`
	IsDone             bool            `json:"is_done"`
}

// GetStatus aggregates bookmark counts, the forest and pending jobs. isDone
// requires every bookmark to be settled, a non-empty forest, no queued
// clustering run and no embedded bookmark left out of the forest.
func (s *Service) GetStatus(ctx context.Context, userID string) (*PipelineStatus, error) {
	counts, err := s.repo.CountByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count bookmarks: %w", err)
	}
	clusters, err := s.clusters.CountClusters(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count clusters: %w", err)
	}
	unassigned, err := s.repo.CountEmbeddedUnassigned(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unassigned bookmarks: %w", err)
	}
	ingestJob, err := s.queue.Active(ctx, userID, queue.StageIngest)
	if err != nil {
		return nil, fmt.Errorf("failed to check ingest jobs: %w", err)
	}
	clusterJob, err := s.queue.Active(ctx, userID, queue.StageClustering)
	if err != nil {
		return nil, fmt.Errorf("failed to check clustering jobs: %w", err)
	}

	st := &PipelineStatus{
		Pending:            counts[StatusPending],
		Enriched:           counts[StatusEnriched],
		Embedded:           counts[StatusEmbedded],
		Errored:            counts[StatusError],
		Idle:               counts[StatusIdle],
		Clusters:           clusters,
		Assigned:           max(counts[StatusEmbedded]-unassigned, 0),
		Unassigned:         unassigned,
		IsIngesting:        ingestJob != nil,
		IsClusteringActive: clusterJob != nil,
		IsCancelled:        s.cancel.IsCancelled(userID),
	}
	if ingestJob != nil {
		st.Ingest = &IngestProgress{JobID: ingestJob.ID, Processed: ingestJob.Processed, Total: ingestJob.Total}
	}
	if st.IsCancelled && st.Pending+st.Enriched > 0 {
		s.parkStragglers(ctx, userID, st)
	}

	settled := st.Pending == 0 && st.Enriched == 0 && !st.IsIngesting
	st.IsDone = settled && st.Clusters > 0 && !st.IsClusteringActive && st.Unassigned == 0

	if settled && !st.IsDone && !st.IsClusteringActive && !st.IsCancelled && st.Embedded > 0 &&
		(st.Clusters == 0 || st.Unassigned > 0) {
		if s.retrigger(ctx, userID, st) {
			st.IsClusteringActive = true
		}
	}
	return st, nil
}

// parkStragglers moves rows that slipped past a cancel back to idle. An ingest
// item that was already past its cancellation check can still upsert a pending
// row after Cancel has run, and its enrichment job will never pick it up.
func (s *Service) parkStragglers(ctx context.Context, userID string, st *PipelineStatus) {
	n, err := s.repo.ResetToIdle(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "failed to park bookmarks of cancelled user", "user_id", userID, "error", err)
		return
	}
	slog.InfoContext(ctx, "parked bookmarks of cancelled user", "user_id", userID, "count", n)
	st.Idle += st.Pending + st.Enriched
	st.Pending, st.Enriched = 0, 0
}

// retrigger schedules clustering for a user whose pipeline settled without a
// usable forest. The key is derived from the counts so a stuck state is
// retried once, not on every poll.
func (s *Service) retrigger(ctx context.Context, userID string, st *PipelineStatus) bool {
	key := fmt.Sprintf("recover:%s:%d:%d:%d", userID, st.Embedded, st.Clusters, st.Unassigned)
	payload := worker.ClusteringPayload{UserID: userID, Profile: s.lastProfile(ctx, userID)}

	_, err := s.queue.Enqueue(ctx, queue.StageClustering, userID, payload, queue.Options{IdempotencyKey: key})
	switch {
	case errors.Is(err, queue.ErrDuplicate):
		return false
	case err != nil:
		slog.WarnContext(ctx, "failed to schedule recovery clustering", "user_id", userID, "error", err)
		return false
	}
	slog.InfoContext(ctx, "recovery clustering scheduled", "user_id", userID, "embedded", st.Embedded, "unassigned", st.Unassigned)
	return true
}

// lastProfile reads the profile of the user's newest ingest or clustering job.
// Both payloads carry it under "profile".
func (s *Service) lastProfile(ctx context.Context, userID string) cluster.Profile {
	j, err := s.queue.Latest(ctx, userID, queue.StageClustering, queue.StageIngest)
	if err != nil {
		slog.WarnContext(ctx, "failed to load last profile", "user_id", userID, "error", err)
		return cluster.DefaultProfile()
	}
	if j == nil {
		return cluster.DefaultProfile()
	}

	var ref struct {
		Profile cluster.Profile `json:"profile"`
	}
	if err := json.Unmarshal(j.Payload, &ref); err != nil {
		return cluster.DefaultProfile()
	}
	p, err := ref.Profile.Normalize()
	if err != nil {
		return cluster.DefaultProfile()
	}
	return p
}
