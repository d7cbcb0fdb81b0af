package weaviate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// namespace for deterministic object ids derived from content hashes.
var vectorNamespace = uuid.MustParse("6f1d3b1e-2c55-4c7e-9a43-5b8d0f3f9a10")

// Store is a vectorcache.VectorStore backed by Weaviate. One object per content hash,
// addressed by a name-based UUID so concurrent writers collide on the same id.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func ObjectID(hash string) string {
	return uuid.NewSHA1(vectorNamespace, []byte(hash)).String()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, &schemaAdapter{client: s.client})
}

func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	return s.client.Data().Checker().
		WithClassName(ClassSharedVector).
		WithID(id).
		Do(ctx)
}

func (s *Store) Get(ctx context.Context, hash string) ([]float32, error) {
	id := ObjectID(hash)
	ok, err := s.exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	objs, err := s.client.Data().ObjectsGetter().
		WithClassName(ClassSharedVector).
		WithID(id).
		WithVector().
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 || objs[0] == nil {
		return nil, nil
	}
	return []float32(objs[0].Vector), nil
}

func (s *Store) GetMany(ctx context.Context, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	for _, h := range hashes {
		vec, err := s.Get(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("get vector %s: %w", h, err)
		}
		if len(vec) > 0 {
			out[h] = vec
		}
	}
	return out, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, hash, url string, vector []float32) (bool, error) {
	id := ObjectID(hash)
	ok, err := s.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}

	_, err = s.client.Data().Creator().
		WithClassName(ClassSharedVector).
		WithID(id).
		WithProperties(map[string]interface{}{
			"contentHash": hash,
			"url":         url,
		}).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		// A concurrent writer may have created the object between check and create.
		if again, checkErr := s.exists(ctx, id); checkErr == nil && again {
			slog.DebugContext(ctx, "lost vector write race", "content_hash", hash)
			return false, nil
		}
		return false, err
	}
	return true, nil
}
