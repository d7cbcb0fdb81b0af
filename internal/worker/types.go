package worker

import (
	"context"

	"marksort/backend/internal/adapter/metadata"
	"marksort/backend/internal/cluster"
	"marksort/backend/internal/queue"
)

// RawBookmark is one item of a submitted batch.
type RawBookmark struct {
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

type IngestPayload struct {
	UserID    string          `json:"user_id"`
	Bookmarks []RawBookmark   `json:"bookmarks"`
	Profile   cluster.Profile `json:"profile"`
}

type EnrichmentPayload struct {
	UserID     string `json:"user_id"`
	BookmarkID string `json:"bookmark_id"`
	URL        string `json:"url"`
	Title      string `json:"title"`
}

type EmbeddingPayload struct {
	UserID     string `json:"user_id"`
	BookmarkID string `json:"bookmark_id"`
	Text       string `json:"text"`
	URL        string `json:"url"`
}

type ClusteringPayload struct {
	UserID  string          `json:"user_id"`
	Profile cluster.Profile `json:"profile"`
}

type Enqueuer interface {
	Enqueue(ctx context.Context, stage queue.Stage, userID string, payload any, opts queue.Options) (*queue.Job, error)
}

type ProgressReporter interface {
	Progress(ctx context.Context, jobID string, processed, total int) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type MetadataFetcher interface {
	Fetch(ctx context.Context, url string) (*metadata.Page, error)
}

// VectorCache is the slice of vectorcache.Cache the stages use.
type VectorCache interface {
	Ensure(ctx context.Context, url string) (string, []float32, error)
	Lookup(ctx context.Context, hash string) ([]float32, bool, error)
	Store(ctx context.Context, hash, url string, vector []float32) error
}

// BookmarkStore performs the guarded status transitions. The bool results
// report whether the row was still in a state that allowed the change.
type BookmarkStore interface {
	Upsert(ctx context.Context, userID string, b RawBookmark, contentHash string) (string, error)
	SetEnriched(ctx context.Context, id, pageTitle, description string) (bool, error)
	MarkEmbedded(ctx context.Context, id string) (bool, error)
	MarkError(ctx context.Context, id string) error
}

type ClusterRunner interface {
	Run(ctx context.Context, userID string, p cluster.Profile) (*cluster.Result, error)
}
