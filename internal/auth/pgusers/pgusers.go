// Package pgusers provides a PostgreSQL implementation of auth.Store.
package pgusers

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maternahealth/materna/internal/auth"
)

//go:embed schema.sql
var schema string

// Store persists accounts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Create inserts a new account, assigning its ID.
func (s *Store) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, username, username_key, password_hash, clinic_name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, strings.ToLower(u.Username), u.PasswordHash, u.ClinicName, u.Role, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return auth.ErrExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByUsername returns the account for a username.
func (s *Store) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	var u auth.User
	var clinic *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, clinic_name, role, created_at
		FROM users WHERE username_key = $1`,
		strings.ToLower(strings.TrimSpace(username)),
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &clinic, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	if clinic != nil {
		u.ClinicName = *clinic
	}
	return &u, nil
}
