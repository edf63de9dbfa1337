package referral

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crm-backend/internal/db"
	"crm-backend/internal/types"
)

const nodeColumns = `id, user_id, COALESCE(referral_code, ''), status, level, COALESCE(parent_id, ''), balance, created_at, updated_at`

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetByID(ctx context.Context, id string) (Node, error) {
	return s.getOne(ctx, `SELECT `+nodeColumns+` FROM referral_configurations WHERE id = $1`, id)
}

func (s *Store) GetByUserID(ctx context.Context, userID string) (Node, error) {
	return s.getOne(ctx, `SELECT `+nodeColumns+` FROM referral_configurations WHERE user_id = $1`, strings.TrimSpace(userID))
}

func (s *Store) GetByCode(ctx context.Context, code string) (Node, error) {
	return s.getOne(ctx, `SELECT `+nodeColumns+` FROM referral_configurations WHERE referral_code = $1`, code)
}

func (s *Store) Create(ctx context.Context, n Node) (Node, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO referral_configurations (id, user_id, referral_code, status, level, parent_id, balance, created_at, updated_at)
		VALUES ($1, $2, nullif($3, ''), $4, $5, nullif($6, ''), 0, NOW(), NOW())
		RETURNING `+nodeColumns,
		n.ID, n.UserID, n.ReferralCode, string(n.Status), n.Level, n.ParentID)
	out, err := scanNode(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Node{}, ErrAlreadyEnrolled
		}
		return Node{}, err
	}
	return out, nil
}

func (s *Store) UpdateActivation(ctx context.Context, id, code string, status types.ReferralStatus) (Node, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE referral_configurations
		SET referral_code = COALESCE(referral_code, nullif($2, '')),
		    status = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+nodeColumns,
		id, code, string(status))
	out, err := scanNode(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	return out, err
}

// IncrementBalance is a single atomic add; it never reads the balance first.
func (s *Store) IncrementBalance(ctx context.Context, id string, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE referral_configurations
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
	`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (Node, error) {
	n, err := scanNode(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Node{}, ErrNotFound
	}
	return n, err
}

func scanNode(row pgx.Row) (Node, error) {
	var n Node
	var status string
	if err := row.Scan(&n.ID, &n.UserID, &n.ReferralCode, &status, &n.Level, &n.ParentID, &n.Balance, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return Node{}, err
	}
	n.Status = types.ReferralStatus(status)
	return n, nil
}
