package ib

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crm-backend/internal/commission"
	"crm-backend/internal/httputil"
	"crm-backend/internal/types"
)

// Operator is the admin surface of Service.
type Operator interface {
	TriggerManualSync(ctx context.Context, start, end time.Time) (CycleResult, error)
	Status() Status
	ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]commission.Commission, error)
	SetCommissionStatus(ctx context.Context, ids []string, to types.CommissionStatus) (StatusChangeResult, error)
}

type Handler struct {
	svc Operator
}

func NewHandler(svc Operator) *Handler {
	return &Handler{svc: svc}
}

type manualSyncRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type statusRequest struct {
	IDs    []string `json:"ids"`
	Status string   `json:"status"`
}

type pendingResponse struct {
	Items []commission.Commission `json:"items"`
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req manualSyncRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	start, err := parseTime(req.StartTime)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid start_time"})
		return
	}
	end, err := parseTime(req.EndTime)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid end_time"})
		return
	}
	res, err := h.svc.TriggerManualSync(r.Context(), start, end)
	if err != nil {
		switch {
		case errors.Is(err, ErrSyncInProgress):
			httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: err.Error()})
		case errors.Is(err, ErrInvalidWindow):
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		default:
			httputil.WriteJSON(w, http.StatusBadGateway, httputil.ErrorResponse{Error: err.Error()})
		}
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.svc.Status())
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var olderThan time.Duration
	if raw := strings.TrimSpace(q.Get("older_than")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid older_than"})
			return
		}
		olderThan = d
	}
	limit := 200
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}
	items, err := h.svc.ListPending(r.Context(), olderThan, limit)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if items == nil {
		items = []commission.Commission{}
	}
	httputil.WriteJSON(w, http.StatusOK, pendingResponse{Items: items})
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if len(req.IDs) == 0 {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "ids are required"})
		return
	}
	to := types.CommissionStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	res, err := h.svc.SetCommissionStatus(r.Context(), req.IDs, to)
	if err != nil {
		if errors.Is(err, commission.ErrInvalidStatus) {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
			return
		}
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation("2006-01-02 15:04:05", raw, time.UTC)
}
