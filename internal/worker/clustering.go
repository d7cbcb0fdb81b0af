package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"marksort/backend/internal/cancel"
	"marksort/backend/internal/cluster"
	"marksort/backend/internal/queue"
)

type ClusteringProcessor struct {
	engine ClusterRunner
	cancel cancel.Checker
}

func NewClusteringProcessor(engine ClusterRunner, checker cancel.Checker) *ClusteringProcessor {
	return &ClusteringProcessor{engine: engine, cancel: checker}
}

func (p *ClusteringProcessor) Handle(ctx context.Context, j *queue.Job) error {
	var payload ClusteringPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("invalid clustering payload: %w", err)
	}
	if p.cancel.IsCancelled(payload.UserID) {
		slog.InfoContext(ctx, "clustering skipped for cancelled user", "user_id", payload.UserID)
		return nil
	}

	res, err := p.engine.Run(ctx, payload.UserID, payload.Profile)
	switch {
	case errors.Is(err, cluster.ErrCancelled):
		slog.InfoContext(ctx, "clustering cancelled", "user_id", payload.UserID, "job_id", j.ID)
		return nil
	case errors.Is(err, cluster.ErrInvalidProfile):
		return err
	case err != nil:
		return queue.Retryable(fmt.Errorf("clustering run failed: %w", err))
	}

	slog.InfoContext(ctx, "clustering complete",
		"user_id", payload.UserID, "items", res.Items, "clusters", res.Clusters, "leaves", res.Leaves, "forced", res.Forced)
	return nil
}
