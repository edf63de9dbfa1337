package ib

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/commission"
	"crm-backend/internal/types"
)

type stubOperator struct {
	syncErr     error
	gotStart    time.Time
	gotEnd      time.Time
	gotOlder    time.Duration
	gotStatus   types.CommissionStatus
	statusErr   error
	pending     []commission.Commission
	lastRequest []string
}

func (s *stubOperator) TriggerManualSync(ctx context.Context, start, end time.Time) (CycleResult, error) {
	s.gotStart, s.gotEnd = start, end
	if s.syncErr != nil {
		return CycleResult{}, s.syncErr
	}
	return CycleResult{BatchID: "b1", Mode: types.SyncModeManual}, nil
}

func (s *stubOperator) Status() Status {
	return Status{IsProcessing: true, Mode: types.SyncModeRegular}
}

func (s *stubOperator) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]commission.Commission, error) {
	s.gotOlder = olderThan
	return s.pending, nil
}

func (s *stubOperator) SetCommissionStatus(ctx context.Context, ids []string, to types.CommissionStatus) (StatusChangeResult, error) {
	s.gotStatus = to
	s.lastRequest = ids
	if s.statusErr != nil {
		return StatusChangeResult{}, s.statusErr
	}
	return StatusChangeResult{Requested: len(ids), Changed: len(ids)}, nil
}

func serve(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestTriggerSyncHandler(t *testing.T) {
	op := &stubOperator{}
	h := NewHandler(op)

	rec := serve(h.TriggerSync, http.MethodPost, "/sync", `{"start_time":"2024-05-01T00:00:00Z","end_time":"2024-05-02 00:00:00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, op.gotStart.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, op.gotEnd.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)))
	assert.Contains(t, rec.Body.String(), `"batch_id":"b1"`)

	op.syncErr = ErrSyncInProgress
	rec = serve(h.TriggerSync, http.MethodPost, "/sync", `{"start_time":"2024-05-01T00:00:00Z","end_time":"2024-05-02T00:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	op.syncErr = ErrInvalidWindow
	rec = serve(h.TriggerSync, http.MethodPost, "/sync", `{"start_time":"2024-05-03T00:00:00Z","end_time":"2024-05-02T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h.TriggerSync, http.MethodPost, "/sync", `{"start_time":"yesterday","end_time":"2024-05-02T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncStatusHandler(t *testing.T) {
	rec := serve(NewHandler(&stubOperator{}).SyncStatus, http.MethodGet, "/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, true, st["is_processing"])
	assert.Equal(t, "regular", st["mode"])
	assert.Contains(t, st, "last_sync_time")
}

func TestListPendingHandler(t *testing.T) {
	op := &stubOperator{}
	h := NewHandler(op)

	rec := serve(h.ListPending, http.MethodGet, "/commissions/pending?older_than=1h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Hour, op.gotOlder)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())

	rec = serve(h.ListPending, http.MethodGet, "/commissions/pending?older_than=soon", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(h.ListPending, http.MethodGet, "/commissions/pending?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetStatusHandler(t *testing.T) {
	op := &stubOperator{}
	h := NewHandler(op)

	rec := serve(h.SetStatus, http.MethodPost, "/commissions/status", `{"ids":["c1","c2"],"status":" Confirmed "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.CommissionStatusConfirmed, op.gotStatus)
	assert.Equal(t, []string{"c1", "c2"}, op.lastRequest)

	rec = serve(h.SetStatus, http.MethodPost, "/commissions/status", `{"ids":[],"status":"confirmed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	op.statusErr = commission.ErrInvalidStatus
	rec = serve(h.SetStatus, http.MethodPost, "/commissions/status", `{"ids":["c1"],"status":"refunded"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
