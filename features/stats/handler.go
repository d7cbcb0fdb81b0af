package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"marksort/backend/internal/middleware"
)

// Counter is satisfied by every repository that backs a global stat.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// CounterFunc adapts a count method such as CountAll to Counter.
type CounterFunc func(ctx context.Context) (int, error)

func (f CounterFunc) Count(ctx context.Context) (int, error) { return f(ctx) }

type Handler struct {
	bookmarks Counter
	vectors   Counter
	clusters  Counter
	jobs      Counter
}

func NewHandler(bookmarks, vectors, clusters, jobs Counter) *Handler {
	return &Handler{bookmarks: bookmarks, vectors: vectors, clusters: clusters, jobs: jobs}
}

type StatsResponse struct {
	Bookmarks     int `json:"bookmarks"`
	SharedVectors int `json:"shared_vectors"`
	Clusters      int `json:"clusters"`
	FailedJobs    int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	var resp StatsResponse
	counts := []struct {
		name string
		src  Counter
		dst  *int
	}{
		{"bookmarks", h.bookmarks, &resp.Bookmarks},
		{"shared vectors", h.vectors, &resp.SharedVectors},
		{"clusters", h.clusters, &resp.Clusters},
		{"jobs", h.jobs, &resp.FailedJobs},
	}
	for _, c := range counts {
		n, err := c.src.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count "+c.name, "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count "+c.name, http.StatusInternalServerError)
			return
		}
		*c.dst = n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
