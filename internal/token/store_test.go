package token

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/see4tech/oauth-service/internal/domain"
	"github.com/see4tech/oauth-service/internal/secret"
)

// memoryTokenRepo mirrors the Postgres repo's per-key write serialization.
type memoryTokenRepo struct {
	mu      sync.Mutex
	rows    map[string][]byte
	updated map[string]time.Time
}

func newMemoryTokenRepo() *memoryTokenRepo {
	return &memoryTokenRepo{rows: map[string][]byte{}, updated: map[string]time.Time{}}
}

func repoKey(userID string, p domain.Platform) string {
	return userID + "|" + string(p)
}

func (m *memoryTokenRepo) Mutate(ctx context.Context, userID string, p domain.Platform, fn func(current []byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := repoKey(userID, p)
	next, err := fn(m.rows[key])
	if err != nil {
		return err
	}
	if next != nil {
		m.rows[key] = next
		m.updated[key] = time.Now().UTC()
	}
	return nil
}

func (m *memoryTokenRepo) Get(ctx context.Context, userID string, p domain.Platform) ([]byte, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := repoKey(userID, p)
	row, ok := m.rows[key]
	if !ok {
		return nil, time.Time{}, domain.ErrTokenNotFound
	}
	return row, m.updated[key], nil
}

func (m *memoryTokenRepo) Delete(ctx context.Context, userID string, p domain.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := repoKey(userID, p)
	delete(m.rows, key)
	delete(m.updated, key)
	return nil
}

func newTestStore(t *testing.T) (*Store, *memoryTokenRepo) {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := secret.NewBox(key)
	require.NoError(t, err)
	repo := newMemoryTokenRepo()
	return NewStore(repo, box, zap.NewNop()), repo
}

func oauth2Creds(access string, expiresIn time.Duration) domain.OAuth2Credentials {
	creds := domain.OAuth2Credentials{
		AccessToken: access,
		TokenType:   "Bearer",
		IssuedAt:    time.Now().UTC(),
	}
	if expiresIn != 0 {
		creds.ExpiresAt = time.Now().UTC().Add(expiresIn)
	}
	return creds
}

func TestStore_UpsertAndGet(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	creds := oauth2Creds("at-123", 2*time.Hour)
	creds.RefreshToken = "rt-123"
	require.NoError(t, store.UpsertOAuth2(ctx, "42", domain.PlatformTwitter, creds))

	rec, err := store.Get(ctx, "42", domain.PlatformTwitter)
	require.NoError(t, err)
	require.Equal(t, "at-123", rec.OAuth2.AccessToken)
	require.Equal(t, "rt-123", rec.OAuth2.RefreshToken)
	require.Nil(t, rec.OAuth1)

	// The stored row never contains the plaintext token.
	raw, _, err := repo.Get(ctx, "42", domain.PlatformTwitter)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "at-123")
}

func TestStore_MergePreservesOtherHalf(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertOAuth2(ctx, "42", domain.PlatformTwitter, oauth2Creds("at-2", 2*time.Hour)))
	require.NoError(t, store.UpsertOAuth1(ctx, "42", domain.PlatformTwitter, domain.OAuth1Credentials{
		AccessToken:       "at-1",
		AccessTokenSecret: "ats-1",
	}))

	rec, err := store.Get(ctx, "42", domain.PlatformTwitter)
	require.NoError(t, err)
	require.Equal(t, "at-2", rec.OAuth2.AccessToken)
	require.Equal(t, "at-1", rec.OAuth1.AccessToken)

	// Re-upserting the same OAuth2 payload leaves the OAuth1 half untouched.
	require.NoError(t, store.UpsertOAuth2(ctx, "42", domain.PlatformTwitter, oauth2Creds("at-2", 2*time.Hour)))
	rec, err = store.Get(ctx, "42", domain.PlatformTwitter)
	require.NoError(t, err)
	require.Equal(t, "ats-1", rec.OAuth1.AccessTokenSecret)
}

func TestStore_GetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nobody", domain.PlatformLinkedIn)
	require.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestStore_WrongKeyFailsClosed(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertOAuth2(ctx, "42", domain.PlatformLinkedIn, oauth2Creds("at", time.Hour)))

	other, err := secret.NewBox(make([]byte, 32))
	require.NoError(t, err)
	reread := NewStore(repo, other, zap.NewNop())

	_, err = reread.Get(ctx, "42", domain.PlatformLinkedIn)
	require.ErrorIs(t, err, domain.ErrCiphertextInvalid)
}

func TestStore_IsConnected(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	dual := domain.PlatformConfig{
		Platform:         domain.PlatformTwitter,
		RequiresDualFlow: true,
		SupportsRefresh:  true,
	}

	connected, err := store.IsConnected(ctx, "42", domain.PlatformTwitter, dual)
	require.NoError(t, err)
	require.False(t, connected)

	creds := oauth2Creds("at-2", 2*time.Hour)
	creds.RefreshToken = "rt"
	require.NoError(t, store.UpsertOAuth2(ctx, "42", domain.PlatformTwitter, creds))

	// One leg down, one to go: still not connected.
	connected, err = store.IsConnected(ctx, "42", domain.PlatformTwitter, dual)
	require.NoError(t, err)
	require.False(t, connected)

	require.NoError(t, store.UpsertOAuth1(ctx, "42", domain.PlatformTwitter, domain.OAuth1Credentials{
		AccessToken:       "at-1",
		AccessTokenSecret: "ats-1",
	}))

	connected, err = store.IsConnected(ctx, "42", domain.PlatformTwitter, dual)
	require.NoError(t, err)
	require.True(t, connected)
}

func TestStore_IsConnectedIrrecoverablyExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	cfg := domain.PlatformConfig{Platform: domain.PlatformLinkedIn, SupportsRefresh: true}

	// Expired an hour ago with no refresh token: nothing can revive it.
	require.NoError(t, store.UpsertOAuth2(ctx, "42", domain.PlatformLinkedIn, oauth2Creds("stale", -time.Hour)))

	connected, err := store.IsConnected(ctx, "42", domain.PlatformLinkedIn, cfg)
	require.NoError(t, err)
	require.False(t, connected)

	// With a refresh token the connection is still considered live.
	creds := oauth2Creds("stale", -time.Hour)
	creds.RefreshToken = "rt"
	require.NoError(t, store.UpsertOAuth2(ctx, "42", domain.PlatformLinkedIn, creds))

	connected, err = store.IsConnected(ctx, "42", domain.PlatformLinkedIn, cfg)
	require.NoError(t, err)
	require.True(t, connected)
}

func TestStore_Delete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertOAuth2(ctx, "42", domain.PlatformFacebook, oauth2Creds("at", time.Hour)))
	require.NoError(t, store.Delete(ctx, "42", domain.PlatformFacebook))

	_, err := store.Get(ctx, "42", domain.PlatformFacebook)
	require.ErrorIs(t, err, domain.ErrTokenNotFound)

	// Idempotent.
	require.NoError(t, store.Delete(ctx, "42", domain.PlatformFacebook))
}
