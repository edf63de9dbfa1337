package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("trading account not found")

// TradingAccount links a platform account number to its owner, commission
// group and the manager index the platform serves it from.
type TradingAccount struct {
	MT5Account   string `json:"mt5_account"`
	UserID       string `json:"user_id"`
	GroupName    string `json:"group_name"`
	ManagerIndex string `json:"manager_index"`
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func (s *Service) ListTradingAccounts(ctx context.Context) ([]TradingAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mt5_account, user_id, group_name, manager_index
		FROM trading_accounts
		ORDER BY mt5_account
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TradingAccount
	for rows.Next() {
		var a TradingAccount
		if err := rows.Scan(&a.MT5Account, &a.UserID, &a.GroupName, &a.ManagerIndex); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Service) GetTradingAccount(ctx context.Context, mt5Account string) (TradingAccount, error) {
	var a TradingAccount
	err := s.pool.QueryRow(ctx, `
		SELECT mt5_account, user_id, group_name, manager_index
		FROM trading_accounts
		WHERE mt5_account = $1
	`, strings.TrimSpace(mt5Account)).Scan(&a.MT5Account, &a.UserID, &a.GroupName, &a.ManagerIndex)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TradingAccount{}, ErrNotFound
		}
		return TradingAccount{}, err
	}
	return a, nil
}

// ManagerIndexes returns the distinct manager indexes present in accs, in first-seen order.
func ManagerIndexes(accs []TradingAccount) []string {
	seen := make(map[string]struct{}, 4)
	out := make([]string, 0, 4)
	for _, a := range accs {
		idx := strings.TrimSpace(a.ManagerIndex)
		if idx == "" {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}
