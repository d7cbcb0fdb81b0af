package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marksort/backend/internal/app"
	"marksort/backend/internal/config"
)

type mockSchemaStore struct {
	callCount int
	failUntil int
	err       error
}

func (m *mockSchemaStore) EnsureSchema(ctx context.Context) error {
	m.callCount++
	if m.err != nil {
		return m.err
	}
	if m.callCount <= m.failUntil {
		return errors.New("schema error")
	}
	return nil
}

func TestEnsureSchemaWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		store     *mockSchemaStore
		attempts  int
		wantErr   bool
		wantCalls int
	}{
		{name: "success", store: &mockSchemaStore{}, attempts: 1, wantCalls: 1},
		{name: "retries", store: &mockSchemaStore{failUntil: 2}, attempts: 5, wantCalls: 3},
		{name: "permanent error", store: &mockSchemaStore{err: errors.New("permanent error")}, attempts: 3, wantErr: true, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := app.EnsureSchemaWithRetry(context.Background(), tt.store, tt.attempts, time.Millisecond)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, tt.store.callCount)
		})
	}
}

func TestPingWithRetry(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing()

	err = app.PingWithRetry(context.Background(), db, 3, time.Millisecond)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWithRetry_GivesUp(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err = app.PingWithRetry(context.Background(), db, 2, time.Millisecond)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBootstrap_ConfigurationError(t *testing.T) {
	cfg := &config.Config{
		DBHost: "invalid-host",
	}
	deps, err := app.Bootstrap(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, deps)
}
