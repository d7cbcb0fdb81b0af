package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marksort/backend/internal/config"
	"marksort/backend/internal/queue"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []published
}

type published struct {
	topic string
	delay time.Duration
	body  []byte
}

func (p *recordingPublisher) Publish(topic string, body []byte) error {
	return p.DeferredPublish(topic, 0, body)
}

func (p *recordingPublisher) DeferredPublish(topic string, delay time.Duration, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{topic: topic, delay: delay, body: body})
	return nil
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := &config.Config{ServerPort: 8081, JobMaxAttempts: 3}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Settings seeding fails against the empty mock and is only logged.
	app, err := New(cfg, db, nil, &recordingPublisher{}, logger, nil)
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Handler)
	assert.NotNil(t, app.Bookmarks)
	assert.NotNil(t, app.Queue)
	for _, stage := range queue.Stages {
		assert.NotNil(t, app.Workers[stage], stage)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestNew_CORSPreflight(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	app, err := New(&config.Config{}, db, nil, &recordingPublisher{}, slog.Default(), nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{name: "ingest", method: http.MethodPost, path: "/users/u1/ingest"},
		{name: "cancel", method: http.MethodPost, path: "/users/u1/cancel"},
		{name: "jobs", method: http.MethodGet, path: "/jobs/failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, tt.path, nil)
			w := httptest.NewRecorder()
			app.Handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), tt.method)
		})
	}
}

func TestNew_RoutesReachHandlers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	app, err := New(&config.Config{}, db, nil, &recordingPublisher{}, slog.Default(), nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, user_id, handler, payload, error, retries, created_at FROM failed_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "handler", "payload", "error", "retries", "created_at"}))

	req := httptest.NewRequest(http.MethodGet, "/jobs/failed", nil)
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
}
