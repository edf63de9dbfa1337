package rates

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"crm-backend/internal/httputil"
)

type Admin interface {
	ListRates(ctx context.Context, groupName string) ([]Rate, error)
	UpsertRate(ctx context.Context, in UpsertInput) (Rate, error)
	DeleteRate(ctx context.Context, groupName string, level int) error
}

type Handler struct {
	store Admin
}

func NewHandler(store Admin) *Handler {
	return &Handler{store: store}
}

type upsertRequest struct {
	GroupName                string `json:"group_name"`
	Level                    int    `json:"level"`
	BonusPerLot              string `json:"bonus_per_lot"`
	PropagationWindowSeconds *int64 `json:"propagation_window_seconds"`
}

type listResponse struct {
	Items []Rate `json:"items"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.ListRates(r.Context(), strings.TrimSpace(r.URL.Query().Get("group")))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Items: items})
}

func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	bonus, err := decimal.NewFromString(strings.TrimSpace(req.BonusPerLot))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid bonus_per_lot"})
		return
	}
	in := UpsertInput{GroupName: req.GroupName, Level: req.Level, BonusPerLot: bonus}
	if req.PropagationWindowSeconds != nil {
		d := time.Duration(*req.PropagationWindowSeconds) * time.Second
		in.PropagationWindow = &d
	}
	if _, err := in.Validate(); err != nil {
		writeError(w, err)
		return
	}
	rate, err := h.store.UpsertRate(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rate)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	level, err := strconv.Atoi(chi.URLParam(r, "level"))
	if err != nil || level < MinLevel || level > MaxLevel {
		writeError(w, ErrInvalidLevel)
		return
	}
	if err := h.store.DeleteRate(r.Context(), strings.TrimSpace(chi.URLParam(r, "group")), level); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrInvalidLevel), errors.Is(err, ErrInvalidBonus), errors.Is(err, ErrInvalidGroup):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	default:
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
	}
}
