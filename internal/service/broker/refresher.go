package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/see4tech/oauth-service/internal/domain"
)

// refresher deduplicates concurrent refresh attempts for the same
// (user, platform) pair. In-process racers share one provider call via
// singleflight; cross-process racers are serialized by the token store's
// per-key write lock, with the loser keeping the winner's fresher token.
type refresher struct {
	o      *Orchestrator
	buffer time.Duration
	group  singleflight.Group
}

func newRefresher(o *Orchestrator, buffer time.Duration) *refresher {
	if buffer <= 0 {
		buffer = 5 * time.Minute
	}
	return &refresher{o: o, buffer: buffer}
}

func (r *refresher) ensureFresh(ctx context.Context, userID string, p domain.Platform) (string, error) {
	key := userID + "|" + string(p)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.refreshIfNeeded(ctx, userID, p)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *refresher) refreshIfNeeded(ctx context.Context, userID string, p domain.Platform) (string, error) {
	rec, err := r.o.tokens.Get(ctx, userID, p)
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return "", fmt.Errorf("no stored credential: %w", domain.ErrReauthRequired)
		}
		return "", err
	}
	if rec.OAuth2 == nil || rec.OAuth2.AccessToken == "" {
		return "", fmt.Errorf("no oauth2 credential: %w", domain.ErrReauthRequired)
	}

	now := r.o.now()
	if !rec.OAuth2.ExpiresWithin(r.buffer, now) {
		return rec.OAuth2.AccessToken, nil
	}

	adapter, err := r.o.platforms.Get(p)
	if err != nil {
		return "", err
	}
	cfg := adapter.Config()
	if !cfg.SupportsRefresh {
		return "", fmt.Errorf("platform %s: %w", p, domain.ErrRefreshUnsupported)
	}
	if !cfg.RefreshWithAccessToken && rec.OAuth2.RefreshToken == "" {
		return "", fmt.Errorf("platform %s: no refresh token: %w", p, domain.ErrReauthRequired)
	}

	// The provider call runs outside the store's per-key lock so unrelated
	// network latency is never serialized behind it.
	callCtx, cancel := context.WithTimeout(ctx, r.o.providerTimeout)
	defer cancel()
	grant, err := adapter.Refresh(callCtx, *rec.OAuth2)
	if err != nil {
		return "", err
	}

	fresh := *grant.OAuth2
	if err := r.o.tokens.Mutate(ctx, userID, p, func(stored *domain.TokenRecord) (*domain.TokenRecord, error) {
		// Another writer may have refreshed while our provider call was in
		// flight; keep whichever credential expires later.
		if stored.OAuth2 != nil && stored.OAuth2.ExpiresAt.After(fresh.ExpiresAt) {
			fresh = *stored.OAuth2
			return nil, nil
		}
		stored.OAuth2 = &fresh
		return stored, nil
	}); err != nil {
		return "", err
	}

	r.o.logger.Info("access token refreshed",
		zap.String("platform", string(p)),
		zap.String("user_id", userID),
		zap.Time("expires_at", fresh.ExpiresAt))

	return fresh.AccessToken, nil
}
