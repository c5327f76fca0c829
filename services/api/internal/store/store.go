// Package store is the pgx-backed persistence for the reference API:
// API credentials, user accounts, and the authentication audit log.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evolutius/apix/pkg/authn"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// MustConnect opens the pool from DATABASE_URL and panics on
// misconfiguration; the process cannot serve without its store.
func MustConnect() *pgxpool.Pool {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		panic("DATABASE_URL is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		panic(err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		panic(err)
	}
	return pool
}

func HashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SecretForKey implements authn.CredentialSource. Revoked keys resolve
// the same as unknown ones.
func (s *Store) SecretForKey(ctx context.Context, apiKeyID string) (string, bool, error) {
	var secret string
	err := s.DB.QueryRow(ctx, `
SELECT shared_secret FROM api_credentials
WHERE key_id=$1 AND revoked_at IS NULL
`, apiKeyID).Scan(&secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return secret, true, nil
}

type User struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) CreateUser(ctx context.Context, u User, passwordHash string) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO users(user_id,username,password_hash) VALUES($1,$2,$3)
`, u.UserID, u.Username, passwordHash)
	return err
}

// UserByCredentials resolves a login attempt. A wrong password and an
// unknown username are indistinguishable to the caller.
func (s *Store) UserByCredentials(ctx context.Context, username, passwordHash string) (User, bool, error) {
	var u User
	err := s.DB.QueryRow(ctx, `
SELECT user_id,username,created_at FROM users
WHERE username=$1 AND password_hash=$2
`, username, passwordHash).Scan(&u.UserID, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

// AuthRejected implements authn.AuditLogger. Failures here are
// swallowed: audit logging never fails the request path.
func (s *Store) AuthRejected(ctx context.Context, apiKeyID, path string, reason authn.Reason) {
	_, _ = s.DB.Exec(ctx, `
INSERT INTO auth_failures(key_id,path,reason) VALUES($1,$2,$3)
`, apiKeyID, path, string(reason))
}
