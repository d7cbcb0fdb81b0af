package queue

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) Create(ctx context.Context, j *Job) error {
	args := m.Called(ctx, j)
	if args.Error(0) == nil && j.ID == "" {
		j.ID = "job-1"
	}
	return args.Error(0)
}

func (m *MockRepo) Get(ctx context.Context, id string) (*Job, error) {
	args := m.Called(ctx, id)
	if j, ok := args.Get(0).(*Job); ok {
		return j, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepo) Claim(ctx context.Context, id string) (*Job, error) {
	args := m.Called(ctx, id)
	if j, ok := args.Get(0).(*Job); ok {
		return j, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepo) MarkCompleted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepo) MarkDelayed(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	return m.Called(ctx, id, runAt, lastErr).Error(0)
}

func (m *MockRepo) MarkFailed(ctx context.Context, id string, lastErr string) error {
	return m.Called(ctx, id, lastErr).Error(0)
}

func (m *MockRepo) UpdateProgress(ctx context.Context, id string, processed, total int) error {
	return m.Called(ctx, id, processed, total).Error(0)
}

func (m *MockRepo) CancelByUser(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepo) FindByUser(ctx context.Context, userID string, stage Stage, states []State) ([]Job, error) {
	args := m.Called(ctx, userID, stage, states)
	if jobs, ok := args.Get(0).([]Job); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepo) FindLatest(ctx context.Context, userID string, stages []Stage) (*Job, error) {
	args := m.Called(ctx, userID, stages)
	j, _ := args.Get(0).(*Job)
	return j, args.Error(1)
}

func (m *MockRepo) ResetStuck(ctx context.Context, olderThan time.Duration) ([]Job, error) {
	args := m.Called(ctx, olderThan)
	if jobs, ok := args.Get(0).([]Job); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

func (m *MockPublisher) DeferredPublish(topic string, delay time.Duration, body []byte) error {
	return m.Called(topic, delay, body).Error(0)
}

type MockDeadLetter struct {
	mock.Mock
}

func (m *MockDeadLetter) Bury(ctx context.Context, j *Job, err error) error {
	return m.Called(ctx, j, err).Error(0)
}

// hookHandler records failure hook calls.
type hookHandler struct {
	err    error
	failed []string
}

func (h *hookHandler) Handle(ctx context.Context, j *Job) error { return h.err }

func (h *hookHandler) OnFailure(ctx context.Context, j *Job, err error) {
	h.failed = append(h.failed, j.ID)
}
