package ib

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crm-backend/internal/accounts"
	"crm-backend/internal/broker"
	"crm-backend/internal/trades"
)

const DefaultFetchTimeout = 30 * time.Second

type IngestResult struct {
	Fetched        int      `json:"fetched"`
	Known          int      `json:"known"`
	Inserted       int      `json:"inserted"`
	Duplicates     int      `json:"duplicates"`
	Skipped        int      `json:"skipped"`
	Failed         int      `json:"failed"`
	FailedManagers []string `json:"failed_managers,omitempty"`
}

// Poller pulls closed trades from the platform into the trade ledger.
type Poller struct {
	accounts AccountDirectory
	platform broker.Platform
	ledger   TradeLedger
	timeout  time.Duration
	metrics  *Metrics
	logger   *zap.Logger
}

func NewPoller(accts AccountDirectory, platform broker.Platform, ledger TradeLedger, timeout time.Duration, metrics *Metrics, logger *zap.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		accounts: accts,
		platform: platform,
		ledger:   ledger,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "ib_poller")),
	}
}

type managerFetch struct {
	index  string
	trades []broker.ClosedTrade
	err    error
}

// Ingest fetches w from every manager index concurrently and inserts the
// trades of known accounts. A failing manager contributes zero trades. Only
// an unreadable account directory fails the call.
func (p *Poller) Ingest(ctx context.Context, w Window) (IngestResult, error) {
	var res IngestResult
	accs, err := p.accounts.ListTradingAccounts(ctx)
	if err != nil {
		return res, fmt.Errorf("list trading accounts: %w", err)
	}
	known := make(map[string]struct{}, len(accs))
	for _, a := range accs {
		known[a.MT5Account] = struct{}{}
	}
	indexes := accounts.ManagerIndexes(accs)
	if len(indexes) == 0 {
		return res, nil
	}

	fetches := make([]managerFetch, len(indexes))
	var g errgroup.Group
	for i, idx := range indexes {
		i, idx := i, idx
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			list, err := p.platform.GetCloseTradeAllUsers(fctx, idx, w.Start, w.End)
			fetches[i] = managerFetch{index: idx, trades: list, err: err}
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{}, 256)
	for _, f := range fetches {
		if f.err != nil {
			res.FailedManagers = append(res.FailedManagers, f.index)
			p.metrics.fetchFailed()
			p.logger.Warn("manager fetch failed",
				zap.String("manager_index", f.index),
				zap.Time("start", w.Start),
				zap.Time("end", w.End),
				zap.Error(f.err))
			continue
		}
		res.Fetched += len(f.trades)
		for _, bt := range f.trades {
			if bt.PositionID == "" {
				res.Skipped++
				continue
			}
			if _, ok := known[bt.Account]; !ok {
				continue
			}
			res.Known++
			if _, dup := seen[bt.PositionID]; dup {
				res.Duplicates++
				continue
			}
			seen[bt.PositionID] = struct{}{}
			inserted, err := p.ledger.InsertIfAbsent(ctx, trades.FromPlatform(bt))
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return res, err
				}
				res.Failed++
				p.logger.Error("insert closed trade",
					zap.String("position_id", bt.PositionID),
					zap.String("mt5_account", bt.Account),
					zap.Error(err))
				continue
			}
			if inserted {
				res.Inserted++
			} else {
				res.Duplicates++
			}
		}
	}
	p.metrics.ingested(res.Inserted)
	return res, nil
}
