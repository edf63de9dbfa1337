package admin

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("admin user not found")

type User struct {
	ID           int
	Username     string
	PasswordHash string
	Role         string
	Rights       map[string]bool
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetByUsername(ctx context.Context, username string) (User, error) {
	var u User
	var rightsRaw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, rights
		FROM admin_users
		WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &rightsRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	u.Rights = map[string]bool{}
	if len(rightsRaw) > 0 {
		if err := json.Unmarshal(rightsRaw, &u.Rights); err != nil {
			return User{}, err
		}
	}
	return u, nil
}
