package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/see4tech/oauth-service/internal/domain"
)

// Compile-time interface assertions.
var (
	_ TokenRepository  = (*PostgresTokenRepo)(nil)
	_ APIKeyRepository = (*PostgresAPIKeyRepo)(nil)
)

// PostgresTokenRepo implements TokenRepository on a pgx pool.
type PostgresTokenRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{pool: pool}
}

// Mutate serializes writers on the row via SELECT ... FOR UPDATE. The two
// legs of a dual flow commonly land seconds apart from different call
// sites; the row lock keeps one leg's write from clobbering the other's.
func (r *PostgresTokenRepo) Mutate(ctx context.Context, userID string, p domain.Platform, fn func(current []byte) ([]byte, error)) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin token mutate: %w", err)
	}
	defer tx.Rollback(ctx)

	var current []byte
	err = tx.QueryRow(ctx,
		`SELECT ciphertext FROM social_tokens WHERE user_id = $1 AND platform = $2 FOR UPDATE`,
		userID, string(p),
	).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock token row: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO social_tokens (user_id, platform, ciphertext, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, platform)
		 DO UPDATE SET ciphertext = EXCLUDED.ciphertext, updated_at = now()`,
		userID, string(p), next,
	); err != nil {
		return fmt.Errorf("upsert token row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit token mutate: %w", err)
	}
	return nil
}

func (r *PostgresTokenRepo) Get(ctx context.Context, userID string, p domain.Platform) ([]byte, time.Time, error) {
	var (
		ciphertext []byte
		updatedAt  time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT ciphertext, updated_at FROM social_tokens WHERE user_id = $1 AND platform = $2`,
		userID, string(p),
	).Scan(&ciphertext, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, domain.ErrTokenNotFound
		}
		return nil, time.Time{}, fmt.Errorf("get token row: %w", err)
	}
	return ciphertext, updatedAt, nil
}

func (r *PostgresTokenRepo) Delete(ctx context.Context, userID string, p domain.Platform) error {
	if _, err := r.pool.Exec(ctx,
		`DELETE FROM social_tokens WHERE user_id = $1 AND platform = $2`,
		userID, string(p),
	); err != nil {
		return fmt.Errorf("delete token row: %w", err)
	}
	return nil
}

// PostgresAPIKeyRepo implements APIKeyRepository.
type PostgresAPIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAPIKeyRepo(pool *pgxpool.Pool) *PostgresAPIKeyRepo {
	return &PostgresAPIKeyRepo{pool: pool}
}

func (r *PostgresAPIKeyRepo) Upsert(ctx context.Context, userID string, p domain.Platform, keyHash string) error {
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO user_api_keys (user_id, platform, key_hash, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (user_id, platform)
		 DO UPDATE SET key_hash = EXCLUDED.key_hash, created_at = now()`,
		userID, string(p), keyHash,
	); err != nil {
		return fmt.Errorf("upsert api key: %w", err)
	}
	return nil
}

func (r *PostgresAPIKeyRepo) GetHash(ctx context.Context, userID string, p domain.Platform) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx,
		`SELECT key_hash FROM user_api_keys WHERE user_id = $1 AND platform = $2`,
		userID, string(p),
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrAPIKeyNotFound
		}
		return "", fmt.Errorf("get api key hash: %w", err)
	}
	return hash, nil
}
