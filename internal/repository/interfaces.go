package repository

import (
	"context"
	"time"

	"github.com/see4tech/oauth-service/internal/domain"
)

// TokenRepository persists one encrypted TokenRecord blob per
// (user, platform). The repository never sees plaintext credentials.
type TokenRepository interface {
	// Mutate runs fn inside a per-key serialized read-modify-write. fn
	// receives the current ciphertext (nil when absent) and returns the
	// replacement; returning nil ciphertext leaves the row untouched.
	// Concurrent Mutate calls for the same key never interleave.
	Mutate(ctx context.Context, userID string, p domain.Platform, fn func(current []byte) ([]byte, error)) error
	Get(ctx context.Context, userID string, p domain.Platform) ([]byte, time.Time, error)
	Delete(ctx context.Context, userID string, p domain.Platform) error
}

// APIKeyRepository stores argon2id hashes of per-user API keys.
type APIKeyRepository interface {
	Upsert(ctx context.Context, userID string, p domain.Platform, keyHash string) error
	GetHash(ctx context.Context, userID string, p domain.Platform) (string, error)
}
