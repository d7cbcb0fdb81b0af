package bookmark_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"marksort/backend/features/bookmark"
	"marksort/backend/internal/cluster"
	"marksort/backend/internal/queue"
	"marksort/backend/internal/worker"
)

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Upsert(ctx context.Context, userID string, b worker.RawBookmark, hash string) (string, error) {
	args := m.Called(ctx, userID, b, hash)
	return args.String(0), args.Error(1)
}

func (m *MockRepo) SetEnriched(ctx context.Context, id, title, description string) (bool, error) {
	args := m.Called(ctx, id, title, description)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) MarkEmbedded(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepo) MarkError(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepo) EnsureUser(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) CountExisting(ctx context.Context, userID string, ids []string) (int, error) {
	args := m.Called(ctx, userID, ids)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) CountByStatus(ctx context.Context, userID string) (map[bookmark.Status]int, error) {
	args := m.Called(ctx, userID)
	counts, _ := args.Get(0).(map[bookmark.Status]int)
	return counts, args.Error(1)
}

func (m *MockRepo) CountEmbeddedUnassigned(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepo) ResetToIdle(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockQueue struct{ mock.Mock }

func (m *MockQueue) Enqueue(ctx context.Context, stage queue.Stage, userID string, payload any, opts queue.Options) (*queue.Job, error) {
	args := m.Called(ctx, stage, userID, payload, opts)
	j, _ := args.Get(0).(*queue.Job)
	return j, args.Error(1)
}

func (m *MockQueue) CancelUser(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueue) Active(ctx context.Context, userID string, stage queue.Stage) (*queue.Job, error) {
	args := m.Called(ctx, userID, stage)
	j, _ := args.Get(0).(*queue.Job)
	return j, args.Error(1)
}

func (m *MockQueue) Latest(ctx context.Context, userID string, stages ...queue.Stage) (*queue.Job, error) {
	args := m.Called(ctx, userID, stages)
	j, _ := args.Get(0).(*queue.Job)
	return j, args.Error(1)
}

type MockClusters struct{ mock.Mock }

func (m *MockClusters) ListClusters(ctx context.Context, userID string) ([]cluster.Record, error) {
	args := m.Called(ctx, userID)
	recs, _ := args.Get(0).([]cluster.Record)
	return recs, args.Error(1)
}

func (m *MockClusters) ListAssignments(ctx context.Context, userID string, limit, offset int) ([]cluster.Assignment, error) {
	args := m.Called(ctx, userID, limit, offset)
	as, _ := args.Get(0).([]cluster.Assignment)
	return as, args.Error(1)
}

func (m *MockClusters) CountClusters(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockClusters) CountAssignments(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
