package authgatepg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/authgate/internal/authgate"
)

// PostgresUserStore persists users and their OAuth token pairs in PostgreSQL.
type PostgresUserStore struct {
	pool *pgxpool.Pool
}

// NewPostgresUserStore constructs a Postgres store.
func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

// Find loads a user row by id.
func (store *PostgresUserStore) Find(ctx context.Context, userID int64) (*authgate.User, error) {
	var user authgate.User
	row := store.pool.QueryRow(ctx, `
SELECT id, access_token, refresh_token
FROM users
WHERE id = $1
`, userID)
	if scanErr := row.Scan(&user.ID, &user.AccessToken, &user.RefreshToken); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pg_store.find: %w", authgate.ErrUserNotFound)
		}
		return nil, fmt.Errorf("pg_store.find: %w", scanErr)
	}
	return &user, nil
}

// FindOrCreate returns the existing row or inserts the provided defaults.
func (store *PostgresUserStore) FindOrCreate(ctx context.Context, user authgate.User) (*authgate.User, bool, error) {
	existing, findErr := store.Find(ctx, user.ID)
	if findErr == nil {
		return existing, false, nil
	}
	if !errors.Is(findErr, authgate.ErrUserNotFound) {
		return nil, false, findErr
	}
	_, execErr := store.pool.Exec(ctx, `
INSERT INTO users (id, access_token, refresh_token)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
`, user.ID, user.AccessToken, user.RefreshToken)
	if execErr != nil {
		return nil, false, fmt.Errorf("pg_store.create: %w", execErr)
	}
	persisted, rereadErr := store.Find(ctx, user.ID)
	if rereadErr != nil {
		return nil, false, rereadErr
	}
	return persisted, true, nil
}

// UpdateTokens replaces the stored token pair for a user.
func (store *PostgresUserStore) UpdateTokens(ctx context.Context, userID int64, accessToken string, refreshToken string) error {
	tag, execErr := store.pool.Exec(ctx, `
UPDATE users
SET access_token = $1, refresh_token = $2
WHERE id = $3
`, accessToken, refreshToken, userID)
	if execErr != nil {
		return fmt.Errorf("pg_store.update: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pg_store.update: %w", authgate.ErrUserNotFound)
	}
	return nil
}
