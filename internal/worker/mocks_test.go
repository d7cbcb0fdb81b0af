package worker_test

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"marksort/backend/internal/adapter/metadata"
	"marksort/backend/internal/cluster"
	"marksort/backend/internal/queue"
	"marksort/backend/internal/worker"
)

// Mocks

type MockBookmarks struct{ mock.Mock }

func (m *MockBookmarks) Upsert(ctx context.Context, userID string, b worker.RawBookmark, hash string) (string, error) {
	args := m.Called(ctx, userID, b, hash)
	return args.String(0), args.Error(1)
}

func (m *MockBookmarks) SetEnriched(ctx context.Context, id, title, description string) (bool, error) {
	args := m.Called(ctx, id, title, description)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookmarks) MarkEmbedded(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockBookmarks) MarkError(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockCache struct{ mock.Mock }

func (m *MockCache) Ensure(ctx context.Context, url string) (string, []float32, error) {
	args := m.Called(ctx, url)
	vec, _ := args.Get(1).([]float32)
	return args.String(0), vec, args.Error(2)
}

func (m *MockCache) Lookup(ctx context.Context, hash string) ([]float32, bool, error) {
	args := m.Called(ctx, hash)
	vec, _ := args.Get(0).([]float32)
	return vec, args.Bool(1), args.Error(2)
}

func (m *MockCache) Store(ctx context.Context, hash, url string, vector []float32) error {
	return m.Called(ctx, hash, url, vector).Error(0)
}

type MockEnqueuer struct{ mock.Mock }

func (m *MockEnqueuer) Enqueue(ctx context.Context, stage queue.Stage, userID string, payload any, opts queue.Options) (*queue.Job, error) {
	args := m.Called(ctx, stage, userID, payload, opts)
	j, _ := args.Get(0).(*queue.Job)
	return j, args.Error(1)
}

type MockProgress struct{ mock.Mock }

func (m *MockProgress) Progress(ctx context.Context, jobID string, processed, total int) error {
	return m.Called(ctx, jobID, processed, total).Error(0)
}

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockFetcher struct{ mock.Mock }

func (m *MockFetcher) Fetch(ctx context.Context, url string) (*metadata.Page, error) {
	args := m.Called(ctx, url)
	p, _ := args.Get(0).(*metadata.Page)
	return p, args.Error(1)
}

type MockRunner struct{ mock.Mock }

func (m *MockRunner) Run(ctx context.Context, userID string, p cluster.Profile) (*cluster.Result, error) {
	args := m.Called(ctx, userID, p)
	r, _ := args.Get(0).(*cluster.Result)
	return r, args.Error(1)
}

func jobWith(t interface{ Fatalf(string, ...any) }, id string, stage queue.Stage, payload any) *queue.Job {
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queue.Job{ID: id, Stage: stage, Payload: raw, State: queue.StateActive, Attempts: 1}
}
