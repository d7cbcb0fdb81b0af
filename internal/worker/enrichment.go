package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marksort/backend/internal/adapter/metadata"
	"marksort/backend/internal/cancel"
	"marksort/backend/internal/queue"
)

type EnrichmentProcessor struct {
	bookmarks BookmarkStore
	fetcher   MetadataFetcher
	queue     Enqueuer
	cancel    cancel.Checker
	timeout   time.Duration
}

func NewEnrichmentProcessor(b BookmarkStore, f MetadataFetcher, q Enqueuer, checker cancel.Checker, timeout time.Duration) *EnrichmentProcessor {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &EnrichmentProcessor{bookmarks: b, fetcher: f, queue: q, cancel: checker, timeout: timeout}
}

func (p *EnrichmentProcessor) Handle(ctx context.Context, j *queue.Job) error {
	var payload EnrichmentPayload
	if err := json.Unmarshal(j.Payload, &payload); err != nil {
		return fmt.Errorf("invalid enrichment payload: %w", err)
	}
	if p.cancel.IsCancelled(payload.UserID) {
		return nil
	}

	page := p.fetch(ctx, payload.URL)

	if p.cancel.IsCancelled(payload.UserID) {
		return nil
	}

	ok, err := p.bookmarks.SetEnriched(ctx, payload.BookmarkID, page.Title, page.Description)
	if err != nil {
		return queue.Retryable(fmt.Errorf("failed to save enrichment: %w", err))
	}
	if !ok {
		slog.DebugContext(ctx, "bookmark no longer pending, skipping embedding", "bookmark_id", payload.BookmarkID)
		return nil
	}

	title := payload.Title
	if title == "" {
		title = page.Title
	}
	embed := EmbeddingPayload{
		UserID:     payload.UserID,
		BookmarkID: payload.BookmarkID,
		Text:       EmbeddingText(title, page.Description, payload.URL),
		URL:        payload.URL,
	}
	_, err = p.queue.Enqueue(ctx, queue.StageEmbedding, payload.UserID, embed, queue.Options{
		IdempotencyKey: "embed:" + j.ID,
	})
	if err != nil && !errors.Is(err, queue.ErrDuplicate) {
		return queue.Retryable(fmt.Errorf("failed to enqueue embedding: %w", err))
	}
	return nil
}

// fetch never fails: enrichment is best-effort and an empty page still embeds.
func (p *EnrichmentProcessor) fetch(ctx context.Context, url string) *metadata.Page {
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	page, err := p.fetcher.Fetch(fctx, url)
	if err != nil || page == nil {
		slog.DebugContext(ctx, "metadata fetch failed", "url", url, "error", err)
		return &metadata.Page{}
	}
	return page
}

// OnFailure moves the bookmark to error once retries are exhausted.
func (p *EnrichmentProcessor) OnFailure(ctx context.Context, j *queue.Job, cause error) {
	markFailed(ctx, p.bookmarks, j, cause)
}

// EmbeddingText is the text embedded for a bookmark.
func EmbeddingText(title, description, url string) string {
	parts := make([]string, 0, 3)
	for _, s := range []string{title, description, url} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func markFailed(ctx context.Context, store BookmarkStore, j *queue.Job, cause error) {
	var ref struct {
		BookmarkID string `json:"bookmark_id"`
	}
	if err := json.Unmarshal(j.Payload, &ref); err != nil || ref.BookmarkID == "" {
		return
	}
	if err := store.MarkError(ctx, ref.BookmarkID); err != nil {
		slog.ErrorContext(ctx, "failed to mark bookmark errored", "bookmark_id", ref.BookmarkID, "error", err)
		return
	}
	slog.WarnContext(ctx, "bookmark failed", "bookmark_id", ref.BookmarkID, "stage", j.Stage, "error", cause)
}
