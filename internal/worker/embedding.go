package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"marksort/backend/internal/cancel"
	"marksort/backend/internal/queue"
	"marksort/backend/internal/vectorcache"
)

// EmbeddingProcessor never schedules clustering; the ingest stage owns that trigger.
type EmbeddingProcessor struct {
	bookmarks BookmarkStore
	cache     VectorCache
	embedder  Embedder
	cancel    cancel.Checker
	timeout   time.Duration
}

func NewEmbeddingProcessor(b BookmarkStore, c VectorCache, e Embedder, checker cancel.Checker, timeout time.Duration) *EmbeddingProcessor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &EmbeddingProcessor{bookmarks: b, cache: c, embedder: e, cancel: checker, timeout: timeout}
}

func (p *EmbeddingProcessor) Handle(ctx context.Context, j *queue.Job) error {
	var payload EmbeddingPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("invalid embedding payload: %w", err)
	}
	if p.cancel.IsCancelled(payload.UserID) {
		return nil
	}

	hash := vectorcache.ContentHash(payload.URL)
	_, hit, err := p.cache.Lookup(ctx, hash)
	if err != nil {
		return queue.Retryable(fmt.Errorf("failed to read vector cache: %w", err))
	}

	if !hit {
		ectx, cancel := context.WithTimeout(ctx, p.timeout)
		vec, err := p.embedder.Embed(ectx, payload.Text)
		cancel()
		if err != nil {
			slog.ErrorContext(ctx, "embedding failed", "bookmark_id", payload.BookmarkID, "url", payload.URL, "error", err)
			return fmt.Errorf("embed: %w", err)
		}

		if p.cancel.IsCancelled(payload.UserID) {
			return nil
		}

		if err := p.cache.Store(ctx, hash, payload.URL, vec); err != nil {
			return queue.Retryable(err)
		}
	}

	ok, err := p.bookmarks.MarkEmbedded(ctx, payload.BookmarkID)
	if err != nil {
		return queue.Retryable(fmt.Errorf("failed to mark bookmark embedded: %w", err))
	}
	if ok {
		slog.InfoContext(ctx, "bookmark embedded", "bookmark_id", payload.BookmarkID, "cache_hit", hit)
	}
	return nil
}

func (p *EmbeddingProcessor) OnFailure(ctx context.Context, j *queue.Job, cause error) {
	markFailed(ctx, p.bookmarks, j, cause)
}
