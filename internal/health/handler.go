package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"crm-backend/internal/httputil"
	"crm-backend/internal/ib"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type SyncReporter interface {
	Status() ib.Status
}

type Handler struct {
	db        Pinger
	sync      SyncReporter
	startedAt time.Time
	// staleAfter marks readiness degraded when the last successful sync is older.
	staleAfter time.Duration
	now        func() time.Time
}

func NewHandler(db Pinger, sync SyncReporter, startedAt time.Time, staleAfter time.Duration) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{db: db, sync: sync, startedAt: start, staleAfter: staleAfter, now: time.Now}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

type readinessResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	UptimeSec int64           `json:"uptime_sec"`
	Database  readinessDBStat `json:"database"`
	Sync      syncStat        `json:"sync"`
}

type readinessDBStat struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type syncStat struct {
	IsProcessing bool       `json:"is_processing"`
	LastSyncTime *time.Time `json:"last_sync_time"`
	LastError    string     `json:"last_error,omitempty"`
	Stale        bool       `json:"stale"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) collectDB(ctx context.Context) readinessDBStat {
	if h.db == nil {
		return readinessDBStat{Error: "pool is not configured"}
	}
	pingStart := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	err := h.db.Ping(pingCtx)
	cancel()
	out := readinessDBStat{Reachable: err == nil, PingMs: time.Since(pingStart).Milliseconds()}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (h *Handler) collectSync(now time.Time) syncStat {
	if h.sync == nil {
		return syncStat{}
	}
	st := h.sync.Status()
	out := syncStat{IsProcessing: st.IsProcessing, LastSyncTime: st.LastSyncTime, LastError: st.LastError}
	if h.staleAfter > 0 && st.LastSyncTime != nil && now.Sub(*st.LastSyncTime) > h.staleAfter {
		out.Stale = true
	}
	return out
}

// Live does not touch the database.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	uptime := h.uptime(now)
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
	})
}

// Ready returns 503 when the database is unreachable and reports sync
// staleness without failing on it.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	db := h.collectDB(r.Context())
	sync := h.collectSync(now)
	status := "ok"
	httpStatus := http.StatusOK
	switch {
	case !db.Reachable:
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	case sync.Stale:
		status = "stale"
	}
	httputil.WriteJSON(w, httpStatus, readinessResponse{
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(h.uptime(now).Seconds()),
		Database:  db,
		Sync:      sync,
	})
}

// RegisterPoolMetrics exposes pgxpool connection stats as gauges.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	gauges := map[string]func(*pgxpool.Stat) float64{
		"total_conns":    func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) },
		"idle_conns":     func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) },
		"acquired_conns": func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) },
		"max_conns":      func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) },
	}
	for name, read := range gauges {
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "crm",
			Subsystem: "db_pool",
			Name:      name,
			Help:      "pgxpool " + name,
		}, func() float64 { return read(pool.Stat()) })
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
