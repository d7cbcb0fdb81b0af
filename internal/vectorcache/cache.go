// Package vectorcache is the cross-user, content-addressed store of bookmark embeddings.
package vectorcache

import (
	"context"
	"fmt"
	"log/slog"
)

// EntryRepo owns the shared_vectors rows that bookmarks reference.
type EntryRepo interface {
	Ensure(ctx context.Context, hash, url string) error
	MarkEmbedded(ctx context.Context, hash string) error
}

// VectorStore holds the vectors themselves. PutIfAbsent reports whether this call
// was the one that stored the vector.
type VectorStore interface {
	Get(ctx context.Context, hash string) ([]float32, error)
	GetMany(ctx context.Context, hashes []string) (map[string][]float32, error)
	PutIfAbsent(ctx context.Context, hash, url string, vector []float32) (bool, error)
}

type Cache struct {
	entries EntryRepo
	vectors VectorStore
}

func New(entries EntryRepo, vectors VectorStore) *Cache {
	return &Cache{entries: entries, vectors: vectors}
}

// Ensure creates the entry for url if absent and returns its hash plus the cached
// vector, which is nil on a miss.
func (c *Cache) Ensure(ctx context.Context, url string) (string, []float32, error) {
	hash := ContentHash(url)
	if err := c.entries.Ensure(ctx, hash, Canonicalize(url)); err != nil {
		return "", nil, fmt.Errorf("failed to ensure cache entry: %w", err)
	}
	vec, err := c.vectors.Get(ctx, hash)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read cached vector: %w", err)
	}
	return hash, vec, nil
}

func (c *Cache) Lookup(ctx context.Context, hash string) ([]float32, bool, error) {
	vec, err := c.vectors.Get(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	return vec, len(vec) > 0, nil
}

func (c *Cache) LookupMany(ctx context.Context, hashes []string) (map[string][]float32, error) {
	if len(hashes) == 0 {
		return map[string][]float32{}, nil
	}
	return c.vectors.GetMany(ctx, hashes)
}

// Store writes vector under hash unless another writer got there first.
// Losing the race is not an error: the stored vector is equivalent.
func (c *Cache) Store(ctx context.Context, hash, url string, vector []float32) error {
	stored, err := c.vectors.PutIfAbsent(ctx, hash, Canonicalize(url), vector)
	if err != nil {
		return fmt.Errorf("failed to store vector: %w", err)
	}
	if !stored {
		slog.DebugContext(ctx, "vector already cached by another writer", "content_hash", hash)
		return nil
	}
	return c.entries.MarkEmbedded(ctx, hash)
}
