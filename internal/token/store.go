package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/see4tech/oauth-service/internal/domain"
	"github.com/see4tech/oauth-service/internal/repository"
	"github.com/see4tech/oauth-service/internal/secret"
)

// Store owns TokenRecord persistence. Every write encrypts, every read
// decrypts; callers never touch ciphertext and the repository never sees
// plaintext. Updating one half of a record leaves the other half intact.
type Store struct {
	repo   repository.TokenRepository
	box    *secret.Box
	logger *zap.Logger
	now    func() time.Time
}

// NewStore wires the token store.
func NewStore(repo repository.TokenRepository, box *secret.Box, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.L()
	}
	return &Store{repo: repo, box: box, logger: logger, now: time.Now}
}

// UpsertOAuth2 merges the OAuth2 half into the record, creating it if absent.
func (s *Store) UpsertOAuth2(ctx context.Context, userID string, p domain.Platform, creds domain.OAuth2Credentials) error {
	return s.Mutate(ctx, userID, p, func(rec *domain.TokenRecord) (*domain.TokenRecord, error) {
		rec.OAuth2 = &creds
		return rec, nil
	})
}

// UpsertOAuth1 merges the OAuth1.0a half into the record.
func (s *Store) UpsertOAuth1(ctx context.Context, userID string, p domain.Platform, creds domain.OAuth1Credentials) error {
	return s.Mutate(ctx, userID, p, func(rec *domain.TokenRecord) (*domain.TokenRecord, error) {
		rec.OAuth1 = &creds
		return rec, nil
	})
}

// Mutate runs fn over the decrypted record under the repository's per-key
// write lock. fn sees a zero-value record when none exists yet; returning
// (nil, nil) leaves the stored record untouched.
func (s *Store) Mutate(ctx context.Context, userID string, p domain.Platform, fn func(rec *domain.TokenRecord) (*domain.TokenRecord, error)) error {
	return s.repo.Mutate(ctx, userID, p, func(current []byte) ([]byte, error) {
		rec, err := s.decode(current, userID, p)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			rec = &domain.TokenRecord{UserID: userID, Platform: p}
		}
		next, err := fn(rec)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		next.UserID = userID
		next.Platform = p
		next.UpdatedAt = s.now().UTC()
		return s.encode(next)
	})
}

// Get returns the decrypted record, or ErrTokenNotFound.
func (s *Store) Get(ctx context.Context, userID string, p domain.Platform) (*domain.TokenRecord, error) {
	ciphertext, updatedAt, err := s.repo.Get(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	rec, err := s.decode(ciphertext, userID, p)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrTokenNotFound
	}
	rec.UpdatedAt = updatedAt
	return rec, nil
}

// IsConnected reports whether every flow kind the platform requires is
// present and, for the OAuth2 half, not irrecoverably expired.
func (s *Store) IsConnected(ctx context.Context, userID string, p domain.Platform, cfg domain.PlatformConfig) (bool, error) {
	rec, err := s.Get(ctx, userID, p)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, kind := range cfg.RequiredFlows() {
		if !rec.Has(kind) {
			return false, nil
		}
	}
	if rec.OAuth2 != nil && !oauth2Usable(*rec.OAuth2, cfg, s.now()) {
		return false, nil
	}
	return true, nil
}

// Delete removes the record. Deleting an absent record is not an error.
func (s *Store) Delete(ctx context.Context, userID string, p domain.Platform) error {
	return s.repo.Delete(ctx, userID, p)
}

// oauth2Usable reports whether the OAuth2 half is live or still refreshable.
func oauth2Usable(creds domain.OAuth2Credentials, cfg domain.PlatformConfig, now time.Time) bool {
	if creds.ExpiresAt.IsZero() || now.Before(creds.ExpiresAt) {
		return true
	}
	if !cfg.SupportsRefresh {
		return false
	}
	if cfg.RefreshWithAccessToken {
		return creds.AccessToken != ""
	}
	return creds.RefreshToken != ""
}

func (s *Store) decode(ciphertext []byte, userID string, p domain.Platform) (*domain.TokenRecord, error) {
	if len(ciphertext) == 0 {
		return nil, nil
	}
	plaintext, err := s.box.Open(string(ciphertext))
	if err != nil {
		s.logger.Error("stored token record does not decrypt",
			zap.String("user_id", userID),
			zap.String("platform", string(p)),
			zap.Error(err))
		return nil, err
	}
	var rec domain.TokenRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("decode token record: %w", err)
	}
	return &rec, nil
}

func (s *Store) encode(rec *domain.TokenRecord) ([]byte, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode token record: %w", err)
	}
	sealed, err := s.box.Seal(plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal token record: %w", err)
	}
	return []byte(sealed), nil
}
