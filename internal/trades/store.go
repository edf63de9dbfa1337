package trades

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("trade not found")

const tradeColumns = `position_id, ticket, mt5_account, symbol, open_time, close_time,
		       open_price, close_price, profit, volume, commission, swap,
		       comment, reason, entry, processed, processed_at, attempts, last_error, created_at`

const (
	insertTradeSQL = `
		INSERT INTO closed_trades (
			position_id, ticket, mt5_account, symbol, open_time, close_time,
			open_price, close_price, profit, volume, commission, swap,
			comment, reason, entry, processed, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, FALSE, NOW())
		ON CONFLICT (position_id) DO NOTHING`

	// Trades that keep failing sort behind fresh ones.
	listUnprocessedSQL = `
		SELECT ` + tradeColumns + `
		FROM closed_trades
		WHERE processed = FALSE
		ORDER BY attempts ASC, created_at ASC, position_id ASC
		LIMIT $1`

	getTradeSQL = `
		SELECT ` + tradeColumns + `
		FROM closed_trades
		WHERE position_id = $1`

	markProcessedSQL = `
		UPDATE closed_trades
		SET processed = TRUE, processed_at = $2
		WHERE position_id = $1 AND processed = FALSE`

	recordFailureSQL = `
		UPDATE closed_trades
		SET attempts = attempts + 1, last_error = $2
		WHERE position_id = $1 AND processed = FALSE
		RETURNING attempts`

	deleteUnprocessedSQL = `
		DELETE FROM closed_trades t
		WHERE t.processed = FALSE
		  AND t.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM commissions c WHERE c.position_id = t.position_id)`
)

const maxErrorLen = 500

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertIfAbsent stores t unless a row with the same position id exists.
// inserted is false on conflict, which is not an error.
func (s *Store) InsertIfAbsent(ctx context.Context, t ClosedTrade) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertTradeSQL,
		t.PositionID, t.Ticket, t.Account, t.Symbol, nullTime(t.OpenTime), nullTime(t.CloseTime),
		t.OpenPrice, t.ClosePrice, t.Profit, t.Volume, t.Commission, t.Swap,
		t.Comment, t.Reason, t.Entry)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListUnprocessed(ctx context.Context, limit int) ([]ClosedTrade, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, listUnprocessedSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ClosedTrade, 0, 64)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, positionID string) (ClosedTrade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx, getTradeSQL, positionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ClosedTrade{}, ErrNotFound
	}
	return t, err
}

// MarkProcessed flips the processed flag. changed is false when the trade was
// already processed (or does not exist); the flag is never reset.
func (s *Store) MarkProcessed(ctx context.Context, positionID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, markProcessedSQL, positionID, at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordFailure counts a failed attribution attempt and returns the new
// count. It returns 0 when the trade is gone or already processed.
func (s *Store) RecordFailure(ctx context.Context, positionID, reason string) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx, recordFailureSQL, positionID, truncateReason(reason)).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return attempts, err
}

// DeleteUnprocessedBefore is the retention job: it only ever removes
// unprocessed rows, and never rows referenced by a commission.
func (s *Store) DeleteUnprocessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, deleteUnprocessedSQL, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTrade(row pgx.Row) (ClosedTrade, error) {
	var t ClosedTrade
	var openTime, closeTime *time.Time
	err := row.Scan(
		&t.PositionID, &t.Ticket, &t.Account, &t.Symbol, &openTime, &closeTime,
		&t.OpenPrice, &t.ClosePrice, &t.Profit, &t.Volume, &t.Commission, &t.Swap,
		&t.Comment, &t.Reason, &t.Entry, &t.Processed, &t.ProcessedAt, &t.Attempts, &t.LastError, &t.CreatedAt,
	)
	if err != nil {
		return ClosedTrade{}, err
	}
	if openTime != nil {
		t.OpenTime = openTime.UTC()
	}
	if closeTime != nil {
		t.CloseTime = closeTime.UTC()
	}
	return t, nil
}

func truncateReason(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
