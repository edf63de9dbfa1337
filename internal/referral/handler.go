package referral

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"crm-backend/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type enrollRequest struct {
	UserID       string `json:"user_id"`
	ReferralCode string `json:"referral_code"`
}

type nodeResponse struct {
	Node      Node       `json:"node"`
	Upline    []uplineIB `json:"upline,omitempty"`
	WalkStop  StopReason `json:"walk_stop,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`
}

type uplineIB struct {
	Level  int    `json:"level"`
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	node, err := h.svc.Enroll(r.Context(), req.UserID, req.ReferralCode)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, nodeResponse{Node: node})
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	node, err := h.svc.Activate(r.Context(), strings.TrimSpace(chi.URLParam(r, "userID")))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nodeResponse{Node: node})
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	node, err := h.svc.Deactivate(r.Context(), strings.TrimSpace(chi.URLParam(r, "userID")))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nodeResponse{Node: node})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	node, walk, err := h.svc.Get(r.Context(), strings.TrimSpace(chi.URLParam(r, "userID")))
	if err != nil {
		writeError(w, err)
		return
	}
	resp := nodeResponse{Node: node, WalkStop: walk.Stop, Truncated: walk.Truncated()}
	for i, anc := range walk.Chain {
		resp.Upline = append(resp.Upline, uplineIB{Level: i + 1, ID: anc.ID, UserID: anc.UserID})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteJSON(w, http.StatusNotFound, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrAlreadyEnrolled):
		httputil.WriteJSON(w, http.StatusConflict, httputil.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrInactive), errors.Is(err, ErrUserIDRequired):
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
	default:
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: err.Error()})
	}
}
