package bookmark

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"marksort/backend/internal/cluster"
	"marksort/backend/internal/middleware"
	"marksort/backend/internal/worker"
)

const (
	defaultPageSize = 500
	maxPageSize     = 5000
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bookmarks []worker.RawBookmark `json:"bookmarks"`
		Profile   cluster.Profile      `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	j, err := h.service.SubmitIngest(r.Context(), r.PathValue("userId"), req.Bookmarks, req.Profile)
	if err != nil {
		var limitErr *LimitError
		switch {
		case errors.As(err, &limitErr):
			h.writeError(r.Context(), w, "QUOTA_EXCEEDED", limitErr.Error(), http.StatusTooManyRequests)
		case isClientError(err):
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		default:
			h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(r.Context(), w, http.StatusAccepted, map[string]interface{}{
		"data": map[string]interface{}{"accepted": len(req.Bookmarks), "job_id": j.ID},
	})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetStatus(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": st})
}

func (h *Handler) Structure(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 || limit > maxPageSize {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "limit must be between 1 and 5000", http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "offset must be non-negative", http.StatusBadRequest)
		return
	}

	st, err := h.service.GetStructure(r.Context(), r.PathValue("userId"), limit, offset)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"data": st,
		"meta": map[string]int{"total_assignments": st.Total, "limit": limit, "offset": offset},
	})
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClearAll bool `json:"clear_all_queued_work"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
	}

	res, err := h.service.Cancel(r.Context(), r.PathValue("userId"), req.ClearAll)
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"data": res})
}

func (h *Handler) Cluster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile cluster.Profile `json:"profile"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
	}

	j, err := h.service.TriggerClustering(r.Context(), r.PathValue("userId"), req.Profile)
	if err != nil {
		if isClientError(err) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(r.Context(), w, http.StatusAccepted, map[string]interface{}{"data": j})
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
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
