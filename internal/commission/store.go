package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crm-backend/internal/types"
)

const columns = `id, position_id, beneficiary_id, client_user_id, level, bonus_per_lot, volume,
	commission_amount, status, batch_id, created_at, settled_at`

const (
	insertSQL = `
		INSERT INTO commissions (
			id, position_id, beneficiary_id, client_user_id, level, bonus_per_lot,
			volume, commission_amount, status, batch_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, NOW())
		ON CONFLICT (position_id, beneficiary_id, level) DO NOTHING`

	pendingByBatchSQL = `
		SELECT ` + columns + `
		FROM commissions
		WHERE batch_id = $1 AND status = 'pending'
		ORDER BY beneficiary_id ASC, created_at ASC`

	listPendingSQL = `
		SELECT ` + columns + `
		FROM commissions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	getByIDsSQL = `SELECT ` + columns + ` FROM commissions WHERE id = ANY($1) ORDER BY id`

	pendingBatchesSQL = `
		SELECT batch_id
		FROM commissions
		WHERE status = 'pending' AND created_at < $1
		GROUP BY batch_id
		ORDER BY MIN(created_at) ASC`

	oldestPendingSQL = `SELECT MIN(created_at) FROM commissions WHERE status = 'pending'`

	// Only rows still pending flip; RETURNING yields exactly what gets credited.
	confirmPendingSQL = `
		UPDATE commissions
		SET status = 'confirmed', settled_at = NOW()
		WHERE id = ANY($1) AND beneficiary_id = $2 AND status = 'pending'
		RETURNING commission_amount`

	creditBalanceSQL = `
		UPDATE referral_configurations
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1`

	transitionSQL = `
		UPDATE commissions
		SET status = $3, settled_at = COALESCE(settled_at, NOW())
		WHERE id = ANY($1) AND status = $2`
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateIfAbsent inserts c unless its (position, beneficiary, level) slot is
// taken. created is false on conflict, which is not an error.
func (s *Store) CreateIfAbsent(ctx context.Context, c Commission) (bool, error) {
	tag, err := s.pool.Exec(ctx, insertSQL, c.ID, c.PositionID, c.BeneficiaryID, c.ClientUserID, c.Level, c.BonusPerLot,
		c.Volume, c.Amount, c.BatchID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) PendingByBatch(ctx context.Context, batchID string) ([]Commission, error) {
	return s.list(ctx, pendingByBatchSQL, batchID)
}

// ListPending returns pending rows created before now-olderThan, oldest first.
func (s *Store) ListPending(ctx context.Context, olderThan time.Duration, limit int) ([]Commission, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	return s.list(ctx, listPendingSQL, time.Now().UTC().Add(-olderThan), limit)
}

func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]Commission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.list(ctx, getByIDsSQL, ids)
}

// PendingBatches lists batches that still hold pending rows older than olderThan.
func (s *Store) PendingBatches(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.pool.Query(ctx, pendingBatchesSQL, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// OldestPendingAge is zero when nothing is pending.
func (s *Store) OldestPendingAge(ctx context.Context) (time.Duration, error) {
	var oldest *time.Time
	if err := s.pool.QueryRow(ctx, oldestPendingSQL).Scan(&oldest); err != nil {
		return 0, err
	}
	if oldest == nil {
		return 0, nil
	}
	return time.Since(*oldest), nil
}

// SettleBeneficiary confirms the listed pending rows of one beneficiary and
// credits exactly the flipped total, in one transaction. Rows already settled
// by a concurrent pass are not flipped and not credited again.
func (s *Store) SettleBeneficiary(ctx context.Context, beneficiaryID string, ids []string) (decimal.Decimal, int, error) {
	if len(ids) == 0 {
		return decimal.Zero, 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, 0, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, confirmPendingSQL, ids, beneficiaryID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	flipped := 0
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			rows.Close()
			return decimal.Zero, 0, err
		}
		total = total.Add(amount)
		flipped++
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return decimal.Zero, 0, err
	}
	if flipped == 0 {
		return decimal.Zero, 0, nil
	}

	tag, err := tx.Exec(ctx, creditBalanceSQL, beneficiaryID, total)
	if err != nil {
		return decimal.Zero, 0, err
	}
	if tag.RowsAffected() == 0 {
		return decimal.Zero, 0, fmt.Errorf("%w: %s", ErrBeneficiaryGone, beneficiaryID)
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, 0, err
	}
	return total, flipped, nil
}

// Transition moves rows in status from to status to without touching any
// balance. Crediting transitions go through SettleBeneficiary.
func (s *Store) Transition(ctx context.Context, ids []string, from, to types.CommissionStatus) (int64, error) {
	if !CanTransition(from, to) || Credits(to) {
		return 0, ErrInvalidTransition
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, transitionSQL, ids, string(from), string(to))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Commission, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Commission, 0, 32)
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCommission(row pgx.Row) (Commission, error) {
	var c Commission
	var status string
	err := row.Scan(&c.ID, &c.PositionID, &c.BeneficiaryID, &c.ClientUserID, &c.Level, &c.BonusPerLot,
		&c.Volume, &c.Amount, &status, &c.BatchID, &c.CreatedAt, &c.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commission{}, ErrNotFound
		}
		return Commission{}, err
	}
	c.Status = types.CommissionStatus(status)
	return c, nil
}
