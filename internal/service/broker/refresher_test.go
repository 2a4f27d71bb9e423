package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/see4tech/oauth-service/internal/domain"
)

func seedOAuth2(t *testing.T, h *harness, userID string, p domain.Platform, access, refresh string, expiresIn time.Duration) {
	t.Helper()
	creds := domain.OAuth2Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		IssuedAt:     time.Now().UTC(),
	}
	if expiresIn != 0 {
		creds.ExpiresAt = time.Now().UTC().Add(expiresIn)
	}
	require.NoError(t, h.tokens.UpsertOAuth2(context.Background(), userID, p, creds))
}

func TestEnsureFresh_InsideBufferRefreshes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Expires in 4 minutes, buffer is 5: must refresh.
	seedOAuth2(t, h, "7", domain.PlatformLinkedIn, "old-at", "rt", 4*time.Minute)
	h.linkedin.refreshGrant = &domain.TokenGrant{
		FlowKind: domain.FlowOAuth2,
		OAuth2: &domain.OAuth2Credentials{
			AccessToken:  "new-at",
			RefreshToken: "rt",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}

	access, err := h.orchestrator.EnsureFresh(ctx, "7", domain.PlatformLinkedIn)
	require.NoError(t, err)
	require.Equal(t, "new-at", access)
	require.Equal(t, 1, h.linkedin.refreshCalls)

	// The refreshed credential is persisted.
	rec, err := h.tokens.Get(ctx, "7", domain.PlatformLinkedIn)
	require.NoError(t, err)
	require.Equal(t, "new-at", rec.OAuth2.AccessToken)
}

func TestEnsureFresh_OutsideBufferReturnsAsIs(t *testing.T) {
	h := newHarness(t)

	// Expires in 10 minutes, buffer is 5: no provider call.
	seedOAuth2(t, h, "7", domain.PlatformLinkedIn, "live-at", "rt", 10*time.Minute)

	access, err := h.orchestrator.EnsureFresh(context.Background(), "7", domain.PlatformLinkedIn)
	require.NoError(t, err)
	require.Equal(t, "live-at", access)
	require.Equal(t, 0, h.linkedin.refreshCalls)
}

func TestEnsureFresh_NonExpiringToken(t *testing.T) {
	h := newHarness(t)

	// No recorded expiry means the token never goes stale.
	seedOAuth2(t, h, "7", domain.PlatformLinkedIn, "forever-at", "", 0)

	access, err := h.orchestrator.EnsureFresh(context.Background(), "7", domain.PlatformLinkedIn)
	require.NoError(t, err)
	require.Equal(t, "forever-at", access)
	require.Equal(t, 0, h.linkedin.refreshCalls)
}

func TestEnsureFresh_NoStoredCredential(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator.EnsureFresh(context.Background(), "nobody", domain.PlatformLinkedIn)
	require.ErrorIs(t, err, domain.ErrReauthRequired)
}

func TestEnsureFresh_MissingRefreshToken(t *testing.T) {
	h := newHarness(t)

	seedOAuth2(t, h, "7", domain.PlatformLinkedIn, "old-at", "", time.Minute)

	_, err := h.orchestrator.EnsureFresh(context.Background(), "7", domain.PlatformLinkedIn)
	require.ErrorIs(t, err, domain.ErrReauthRequired)
	require.Equal(t, 0, h.linkedin.refreshCalls)
}

func TestEnsureFresh_RefreshUnsupported(t *testing.T) {
	h := newHarness(t)
	h.linkedin.cfg.SupportsRefresh = false

	seedOAuth2(t, h, "7", domain.PlatformLinkedIn, "old-at", "rt", time.Minute)

	_, err := h.orchestrator.EnsureFresh(context.Background(), "7", domain.PlatformLinkedIn)
	require.ErrorIs(t, err, domain.ErrRefreshUnsupported)
}

func TestEnsureFresh_ConcurrentCallsShareOneRefresh(t *testing.T) {
	h := newHarness(t)

	seedOAuth2(t, h, "7", domain.PlatformLinkedIn, "old-at", "rt", time.Minute)
	h.linkedin.refreshDelay = 50 * time.Millisecond
	h.linkedin.refreshGrant = &domain.TokenGrant{
		FlowKind: domain.FlowOAuth2,
		OAuth2: &domain.OAuth2Credentials{
			AccessToken:  "new-at",
			RefreshToken: "rt",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			access, err := h.orchestrator.EnsureFresh(context.Background(), "7", domain.PlatformLinkedIn)
			require.NoError(t, err)
			results[i] = access
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, h.linkedin.refreshCalls)
	for _, access := range results {
		require.Equal(t, "new-at", access)
	}
}

func TestEnsureFresh_KeepsLaterExpiringCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	seedOAuth2(t, h, "7", domain.PlatformLinkedIn, "old-at", "rt", time.Minute)

	// While our provider call is in flight a competing writer lands a
	// credential that outlives the one we get back; ours must lose.
	h.linkedin.refreshGrant = &domain.TokenGrant{
		FlowKind: domain.FlowOAuth2,
		OAuth2: &domain.OAuth2Credentials{
			AccessToken:  "loser-at",
			RefreshToken: "rt",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
	h.linkedin.onRefresh = func() {
		seedOAuth2(t, h, "7", domain.PlatformLinkedIn, "winner-at", "rt", 3*time.Hour)
	}

	access, err := h.orchestrator.EnsureFresh(ctx, "7", domain.PlatformLinkedIn)
	require.NoError(t, err)
	require.Equal(t, "winner-at", access)

	rec, err := h.tokens.Get(ctx, "7", domain.PlatformLinkedIn)
	require.NoError(t, err)
	require.Equal(t, "winner-at", rec.OAuth2.AccessToken)
}
