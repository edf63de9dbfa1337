package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crm-backend/internal/admin"
	"crm-backend/internal/health"
	"crm-backend/internal/ib"
	"crm-backend/internal/rates"
	"crm-backend/internal/referral"
)

const secret = "router-secret"

func testRouter() http.Handler {
	return NewRouter(RouterDeps{
		AdminHandler:    admin.NewHandler(nil, secret),
		IBHandler:       ib.NewHandler(nil),
		RatesHandler:    rates.NewHandler(nil),
		ReferralHandler: referral.NewHandler(nil),
		HealthHandler:   health.NewHandler(nil, nil, time.Now(), 0),
		EventsWSHandler: http.NotFoundHandler(),
		JWTSecret:       secret,
		Logger:          zap.NewNop(),
	})
}

func bearer(t *testing.T, rights ...string) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role":   admin.RoleAdmin,
		"rights": rights,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + s
}

func TestRouterGuardsAdminRoutes(t *testing.T) {
	router := testRouter()
	tests := []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"no token", http.MethodPost, "/v1/admin/ib/sync", "", http.StatusUnauthorized},
		{"wrong right for sync", http.MethodPost, "/v1/admin/ib/sync", bearer(t, admin.RightRates), http.StatusForbidden},
		{"wrong right for rates", http.MethodDelete, "/v1/admin/ib/rates/std/1", bearer(t, admin.RightSync), http.StatusForbidden},
		{"wrong right for referrals", http.MethodGet, "/v1/admin/ib/referrals/u1", bearer(t, admin.RightCommissions), http.StatusForbidden},
		{"unknown route", http.MethodGet, "/v1/admin/ib/nope", bearer(t, admin.RightSync), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouterHealthAndHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestIPRateLimiter(t *testing.T) {
	lim := NewIPRateLimiter(1, 2)
	h := lim.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
