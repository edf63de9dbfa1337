package rates

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertInputValidate(t *testing.T) {
	neg := -time.Second
	tests := []struct {
		name string
		in   UpsertInput
		err  error
	}{
		{"ok", UpsertInput{GroupName: " std ", Level: 1, BonusPerLot: decimal.NewFromInt(5)}, nil},
		{"zero bonus", UpsertInput{GroupName: "std", Level: 10, BonusPerLot: decimal.Zero}, nil},
		{"blank group", UpsertInput{GroupName: "  ", Level: 1}, ErrInvalidGroup},
		{"level zero", UpsertInput{GroupName: "std", Level: 0}, ErrInvalidLevel},
		{"level eleven", UpsertInput{GroupName: "std", Level: 11}, ErrInvalidLevel},
		{"negative bonus", UpsertInput{GroupName: "std", Level: 2, BonusPerLot: decimal.NewFromInt(-1)}, ErrInvalidBonus},
		{"non positive window dropped", UpsertInput{GroupName: "std", Level: 2, PropagationWindow: &neg}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.in.Validate()
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.in.GroupName), out.GroupName)
			assert.Nil(t, out.PropagationWindow)
		})
	}
}

type fakeAdmin struct {
	rates   map[string]Rate
	deleted []string
}

func key(group string, level int) string {
	return group + "/" + strconv.Itoa(level)
}

func (f *fakeAdmin) ListRates(ctx context.Context, groupName string) ([]Rate, error) {
	var out []Rate
	for _, r := range f.rates {
		if groupName == "" || r.GroupName == groupName {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAdmin) UpsertRate(ctx context.Context, in UpsertInput) (Rate, error) {
	in, err := in.Validate()
	if err != nil {
		return Rate{}, err
	}
	r := Rate{GroupID: "g-" + in.GroupName, GroupName: in.GroupName, Level: in.Level, BonusPerLot: in.BonusPerLot, PropagationWindow: in.PropagationWindow}
	f.rates[key(in.GroupName, in.Level)] = r
	return r, nil
}

func (f *fakeAdmin) DeleteRate(ctx context.Context, groupName string, level int) error {
	if _, ok := f.rates[key(groupName, level)]; !ok {
		return ErrNotFound
	}
	delete(f.rates, key(groupName, level))
	f.deleted = append(f.deleted, key(groupName, level))
	return nil
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/rates", h.List)
	r.Put("/rates", h.Upsert)
	r.Delete("/rates/{group}/{level}", h.Delete)
	return r
}

func TestHandlerUpsertAndDelete(t *testing.T) {
	store := &fakeAdmin{rates: map[string]Rate{}}
	router := newRouter(NewHandler(store))

	body := `{"group_name":"standard","level":1,"bonus_per_lot":"5.00","propagation_window_seconds":3600}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/rates", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var got Rate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "standard", got.GroupName)
	assert.True(t, got.BonusPerLot.Equal(decimal.NewFromInt(5)))
	require.NotNil(t, got.PropagationWindow)
	assert.Equal(t, time.Hour, *got.PropagationWindow)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rates?group=standard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"level":1`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rates/standard/1", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/rates/standard/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	router := newRouter(NewHandler(&fakeAdmin{rates: map[string]Rate{}}))
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"bad decimal", http.MethodPut, "/rates", `{"group_name":"std","level":1,"bonus_per_lot":"five"}`},
		{"level out of range", http.MethodPut, "/rates", `{"group_name":"std","level":12,"bonus_per_lot":"1"}`},
		{"negative bonus", http.MethodPut, "/rates", `{"group_name":"std","level":1,"bonus_per_lot":"-1"}`},
		{"unknown field", http.MethodPut, "/rates", `{"group":"std"}`},
		{"delete bad level", http.MethodDelete, "/rates/std/x", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
