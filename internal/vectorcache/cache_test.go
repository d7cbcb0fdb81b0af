package vectorcache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"marksort/backend/internal/vectorcache"
)

type MockEntries struct{ mock.Mock }

func (m *MockEntries) Ensure(ctx context.Context, hash, url string) error {
	return m.Called(ctx, hash, url).Error(0)
}

func (m *MockEntries) MarkEmbedded(ctx context.Context, hash string) error {
	return m.Called(ctx, hash).Error(0)
}

type MockVectors struct{ mock.Mock }

func (m *MockVectors) Get(ctx context.Context, hash string) ([]float32, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockVectors) GetMany(ctx context.Context, hashes []string) (map[string][]float32, error) {
	args := m.Called(ctx, hashes)
	return args.Get(0).(map[string][]float32), args.Error(1)
}

func (m *MockVectors) PutIfAbsent(ctx context.Context, hash, url string, vector []float32) (bool, error) {
	args := m.Called(ctx, hash, url, vector)
	return args.Bool(0), args.Error(1)
}

func TestCache_Ensure(t *testing.T) {
	ctx := context.Background()
	url := "https://example.com/a/"
	hash := vectorcache.ContentHash(url)

	t.Run("Miss", func(t *testing.T) {
		e, v := new(MockEntries), new(MockVectors)
		e.On("Ensure", ctx, hash, "https://example.com/a").Return(nil)
		v.On("Get", ctx, hash).Return(nil, nil)

		gotHash, vec, err := vectorcache.New(e, v).Ensure(ctx, url)
		assert.NoError(t, err)
		assert.Equal(t, hash, gotHash)
		assert.Nil(t, vec)
	})

	t.Run("Hit", func(t *testing.T) {
		e, v := new(MockEntries), new(MockVectors)
		e.On("Ensure", ctx, hash, "https://example.com/a").Return(nil)
		v.On("Get", ctx, hash).Return([]float32{1, 0}, nil)

		_, vec, err := vectorcache.New(e, v).Ensure(ctx, url)
		assert.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, vec)
	})

	t.Run("Entry Error", func(t *testing.T) {
		e, v := new(MockEntries), new(MockVectors)
		e.On("Ensure", ctx, hash, mock.Anything).Return(errors.New("db down"))

		_, _, err := vectorcache.New(e, v).Ensure(ctx, url)
		assert.Error(t, err)
		v.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})
}

func TestCache_Store_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	vec := []float32{0.5, 0.5}

	t.Run("First Writer Marks Entry", func(t *testing.T) {
		e, v := new(MockEntries), new(MockVectors)
		v.On("PutIfAbsent", ctx, "h1", "https://example.com", vec).Return(true, nil)
		e.On("MarkEmbedded", ctx, "h1").Return(nil)

		err := vectorcache.New(e, v).Store(ctx, "h1", "https://example.com/", vec)
		assert.NoError(t, err)
		e.AssertExpectations(t)
	})

	t.Run("Second Writer Is A No-op", func(t *testing.T) {
		e, v := new(MockEntries), new(MockVectors)
		v.On("PutIfAbsent", ctx, "h1", "https://example.com", vec).Return(false, nil)

		err := vectorcache.New(e, v).Store(ctx, "h1", "https://example.com", vec)
		assert.NoError(t, err)
		e.AssertNotCalled(t, "MarkEmbedded", mock.Anything, mock.Anything)
	})
}

func TestCache_LookupMany_Empty(t *testing.T) {
	e, v := new(MockEntries), new(MockVectors)
	out, err := vectorcache.New(e, v).LookupMany(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
	v.AssertNotCalled(t, "GetMany", mock.Anything, mock.Anything)
}
