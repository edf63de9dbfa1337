package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ResolveGroup maps a trading account's group name to the group id.
func (s *Store) ResolveGroup(ctx context.Context, groupName string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM account_groups WHERE name = $1`, groupName).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

func (s *Store) GetRate(ctx context.Context, groupID string, level int) (decimal.Decimal, error) {
	var bonus decimal.Decimal
	err := s.pool.QueryRow(ctx, `
		SELECT bonus_per_lot FROM commission_rates WHERE group_id = $1 AND level = $2
	`, groupID, level).Scan(&bonus)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	return bonus, err
}

func (s *Store) ListRates(ctx context.Context, groupName string) ([]Rate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.name, r.level, r.bonus_per_lot, r.propagation_window_seconds, r.updated_at
		FROM commission_rates r
		JOIN account_groups g ON g.id = r.group_id
		WHERE ($1 = '' OR g.name = $1)
		ORDER BY g.name ASC, r.level ASC
	`, groupName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Rate, 0, 16)
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRate creates the group on first use and replaces any existing rate
// for the same (group, level). Commissions already written keep their snapshot.
func (s *Store) UpsertRate(ctx context.Context, in UpsertInput) (Rate, error) {
	in, err := in.Validate()
	if err != nil {
		return Rate{}, err
	}
	var windowSeconds *int64
	if in.PropagationWindow != nil {
		v := int64(in.PropagationWindow.Seconds())
		windowSeconds = &v
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Rate{}, err
	}
	defer tx.Rollback(ctx)

	var groupID string
	if err := tx.QueryRow(ctx, `
		INSERT INTO account_groups (id, name, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, uuid.NewString(), in.GroupName).Scan(&groupID); err != nil {
		return Rate{}, fmt.Errorf("upsert group %q: %w", in.GroupName, err)
	}

	row := tx.QueryRow(ctx, `
		WITH r AS (
			INSERT INTO commission_rates (group_id, level, bonus_per_lot, propagation_window_seconds, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (group_id, level) DO UPDATE
			SET bonus_per_lot = EXCLUDED.bonus_per_lot,
			    propagation_window_seconds = EXCLUDED.propagation_window_seconds,
			    updated_at = NOW()
			RETURNING group_id, level, bonus_per_lot, propagation_window_seconds, updated_at
		)
		SELECT r.group_id, $5::text, r.level, r.bonus_per_lot, r.propagation_window_seconds, r.updated_at FROM r
	`, groupID, in.Level, in.BonusPerLot, windowSeconds, in.GroupName)
	out, err := scanRate(row)
	if err != nil {
		return Rate{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Rate{}, err
	}
	return out, nil
}

func (s *Store) DeleteRate(ctx context.Context, groupName string, level int) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM commission_rates r
		USING account_groups g
		WHERE g.id = r.group_id AND g.name = $1 AND r.level = $2
	`, groupName, level)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRate(row pgx.Row) (Rate, error) {
	var r Rate
	var windowSeconds *int64
	if err := row.Scan(&r.GroupID, &r.GroupName, &r.Level, &r.BonusPerLot, &windowSeconds, &r.UpdatedAt); err != nil {
		return Rate{}, err
	}
	if windowSeconds != nil {
		d := time.Duration(*windowSeconds) * time.Second
		r.PropagationWindow = &d
	}
	return r, nil
}
