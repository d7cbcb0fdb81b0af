package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marksort/backend/internal/cancel"
	"marksort/backend/internal/queue"
)

type IngestProcessor struct {
	bookmarks     BookmarkStore
	cache         VectorCache
	queue         Enqueuer
	progress      ProgressReporter
	cancel        cancel.Checker
	progressEvery int
	clusterDelay  time.Duration
}

func NewIngestProcessor(b BookmarkStore, c VectorCache, q Enqueuer, p ProgressReporter, checker cancel.Checker, progressEvery int, clusterDelay time.Duration) *IngestProcessor {
	if progressEvery <= 0 {
		progressEvery = 25
	}
	return &IngestProcessor{
		bookmarks:     b,
		cache:         c,
		queue:         q,
		progress:      p,
		cancel:        checker,
		progressEvery: progressEvery,
		clusterDelay:  clusterDelay,
	}
}

func (p *IngestProcessor) Handle(ctx context.Context, j *queue.Job) error {
	var payload IngestPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("invalid ingest payload: %w", err)
	}

	total := len(payload.Bookmarks)
	var hits, queued int
	for i, b := range payload.Bookmarks {
		if p.cancel.IsCancelled(payload.UserID) {
			slog.InfoContext(ctx, "ingest cancelled", "user_id", payload.UserID, "job_id", j.ID, "processed", i)
			p.report(ctx, j.ID, i, total)
			return nil
		}

		hit, err := p.ingestOne(ctx, j.ID, payload.UserID, b)
		if err != nil {
			return err
		}
		if hit {
			hits++
		} else {
			queued++
		}

		if (i+1)%p.progressEvery == 0 {
			p.report(ctx, j.ID, i+1, total)
		}
	}
	p.report(ctx, j.ID, total, total)

	if p.cancel.IsCancelled(payload.UserID) {
		slog.InfoContext(ctx, "ingest cancelled before clustering", "user_id", payload.UserID, "job_id", j.ID)
		return nil
	}

	clustering := ClusteringPayload{UserID: payload.UserID, Profile: payload.Profile}
	_, err := p.queue.Enqueue(ctx, queue.StageClustering, payload.UserID, clustering, queue.Options{
		Delay:          p.clusterDelay,
		IdempotencyKey: "cluster:" + payload.UserID + ":" + j.ID,
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		return queue.Retryable(fmt.Errorf("failed to schedule clustering: %w", err))
	}

	slog.InfoContext(ctx, "ingest complete",
		"user_id", payload.UserID, "job_id", j.ID, "total", total, "cache_hits", hits, "enrichment_queued", queued)
	return nil
}

// ingestOne reports whether the bookmark was satisfied from the vector cache.
func (p *IngestProcessor) ingestOne(ctx context.Context, jobID, userID string, b RawBookmark) (bool, error) {
	hash, vec, err := p.cache.Ensure(ctx, b.URL)
	if err != nil {
		return false, queue.Retryable(err)
	}

	id, err := p.bookmarks.Upsert(ctx, userID, b, hash)
	if err != nil {
		return false, queue.Retryable(fmt.Errorf("failed to upsert bookmark: %w", err))
	}

	if len(vec) > 0 {
		if _, err := p.bookmarks.MarkEmbedded(ctx, id); err != nil {
			return false, queue.Retryable(fmt.Errorf("failed to mark bookmark embedded: %w", err))
		}
		return true, nil
	}

	enrich := EnrichmentPayload{UserID: userID, BookmarkID: id, URL: b.URL, Title: b.Title}
	_, err = p.queue.Enqueue(ctx, queue.StageEnrichment, userID, enrich, queue.Options{
		IdempotencyKey: "enrich:" + jobID + ":" + id,
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		return false, queue.Retryable(fmt.Errorf("failed to enqueue enrichment: %w", err))
	}
	return false, nil
}

func (p *IngestProcessor) report(ctx context.Context, jobID string, processed, total int) {
	if err := p.progress.Progress(ctx, jobID, processed, total); err != nil {
		slog.WarnContext(ctx, "failed to record ingest progress", "job_id", jobID, "error", err)
	}
}
