package ib

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SyncCycles          *prometheus.CounterVec
	TradesIngested      prometheus.Counter
	CommissionsCreated  prometheus.Counter
	SettlementFailures  prometheus.Counter
	FetchFailures       prometheus.Counter
	OldestPendingAgeSec prometheus.Gauge
}

// NewMetrics builds the IB collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		SyncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ib",
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by mode and outcome",
		}, []string{"mode", "outcome"}),
		TradesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ib",
			Name:      "trades_ingested_total",
			Help:      "Closed trades newly inserted into the ledger",
		}),
		CommissionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ib",
			Name:      "commissions_created_total",
			Help:      "Commission rows created",
		}),
		SettlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ib",
			Name:      "settlement_failures_total",
			Help:      "Beneficiary settlements that left commissions pending",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ib",
			Name:      "mt5_fetch_failures_total",
			Help:      "Failed closed-trade fetches, one per manager index",
		}),
		OldestPendingAgeSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ib",
			Name:      "pending_commission_oldest_age_seconds",
			Help:      "Age of the oldest pending commission, 0 when none",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.SyncCycles, m.TradesIngested, m.CommissionsCreated,
		m.SettlementFailures, m.FetchFailures, m.OldestPendingAgeSec,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) cycle(mode, outcome string) {
	if m != nil {
		m.SyncCycles.WithLabelValues(mode, outcome).Inc()
	}
}

func (m *Metrics) ingested(n int) {
	if m != nil && n > 0 {
		m.TradesIngested.Add(float64(n))
	}
}

func (m *Metrics) created(n int) {
	if m != nil && n > 0 {
		m.CommissionsCreated.Add(float64(n))
	}
}

func (m *Metrics) settlementFailed() {
	if m != nil {
		m.SettlementFailures.Inc()
	}
}

func (m *Metrics) fetchFailed() {
	if m != nil {
		m.FetchFailures.Inc()
	}
}

func (m *Metrics) pendingAge(seconds float64) {
	if m != nil {
		m.OldestPendingAgeSec.Set(seconds)
	}
}
