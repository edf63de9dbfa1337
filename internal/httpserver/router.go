package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"crm-backend/internal/admin"
	"crm-backend/internal/health"
	"crm-backend/internal/ib"
	"crm-backend/internal/rates"
	"crm-backend/internal/referral"
)

type RouterDeps struct {
	AdminHandler    *admin.Handler
	IBHandler       *ib.Handler
	RatesHandler    *rates.Handler
	ReferralHandler *referral.Handler
	HealthHandler   *health.Handler
	EventsWSHandler http.Handler
	MetricsHandler  http.Handler
	JWTSecret       string
	Limiter         *IPRateLimiter
	Logger          *zap.Logger
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Recoverer(d.Logger))
	r.Use(RequestLogger(d.Logger))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(SecurityHeaders)
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Ready)
	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	if d.MetricsHandler != nil {
		r.Handle("/metrics", d.MetricsHandler)
	}

	r.Route("/v1/admin", func(r chi.Router) {
		r.Post("/login", d.AdminHandler.Login)
		r.Get("/ib/ws", d.EventsWSHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(admin.AdminAuthMiddleware(d.JWTSecret))
			r.Get("/me", d.AdminHandler.Me)

			r.Route("/ib", func(r chi.Router) {
				r.With(admin.RequireRight(admin.RightSync)).Post("/sync", d.IBHandler.TriggerSync)
				r.With(admin.RequireRight(admin.RightSync)).Get("/sync/status", d.IBHandler.SyncStatus)

				r.With(admin.RequireRight(admin.RightCommissions)).Get("/commissions/pending", d.IBHandler.ListPending)
				r.With(admin.RequireRight(admin.RightCommissions)).Post("/commissions/status", d.IBHandler.SetStatus)

				r.With(admin.RequireRight(admin.RightRates)).Get("/rates", d.RatesHandler.List)
				r.With(admin.RequireRight(admin.RightRates)).Put("/rates", d.RatesHandler.Upsert)
				r.With(admin.RequireRight(admin.RightRates)).Delete("/rates/{group}/{level}", d.RatesHandler.Delete)

				r.With(admin.RequireRight(admin.RightReferrals)).Post("/referrals", d.ReferralHandler.Enroll)
				r.With(admin.RequireRight(admin.RightReferrals)).Get("/referrals/{userID}", d.ReferralHandler.Get)
				r.With(admin.RequireRight(admin.RightReferrals)).Post("/referrals/{userID}/activate", d.ReferralHandler.Activate)
				r.With(admin.RequireRight(admin.RightReferrals)).Post("/referrals/{userID}/deactivate", d.ReferralHandler.Deactivate)
			})
		})
	})
	return r
}
