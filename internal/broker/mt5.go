package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MT5Client talks to the MT5 manager REST bridge.
type MT5Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewMT5Client(baseURL, apiKey string, requestsPerSecond float64, logger *zap.Logger) *MT5Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-API-Key", apiKey)
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &MT5Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 2),
		logger:  logger.With(zap.String("component", "mt5")),
	}
}

// GetCloseTradeAllUsers returns trades closed in [start, end] for every user
// under one manager. A 2xx body that is not a trade list yields zero trades.
func (c *MT5Client) GetCloseTradeAllUsers(ctx context.Context, managerIndex string, start, end time.Time) ([]ClosedTrade, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"manager_index": managerIndex,
			"start_time":    start.UTC().Format(PlatformTimeLayout),
			"end_time":      end.UTC().Format(PlatformTimeLayout),
		}).
		Get("/GetCloseTradeAllUsers")
	if err != nil {
		return nil, fmt.Errorf("mt5 GetCloseTradeAllUsers manager %s: %w", managerIndex, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("mt5 GetCloseTradeAllUsers manager %s: status %d", managerIndex, resp.StatusCode())
	}
	trades, report, ok := ParseClosedTrades(resp.Body())
	if !ok {
		c.logger.Warn("unexpected close-trade payload, treating as empty",
			zap.String("manager_index", managerIndex),
			zap.Int("bytes", len(resp.Body())))
		return nil, nil
	}
	if report.Skipped > 0 {
		c.logger.Warn("skipped trade records without position, account or volume",
			zap.String("manager_index", managerIndex),
			zap.Int("skipped", report.Skipped))
	}
	for _, d := range report.Degraded {
		c.logger.Warn("trade record kept with unreadable fields zeroed",
			zap.String("manager_index", managerIndex),
			zap.String("position_id", d.PositionID),
			zap.Strings("fields", d.Fields))
	}
	return trades, nil
}
