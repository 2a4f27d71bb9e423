package secret

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/see4tech/oauth-service/internal/domain"
)

func TestLoadOrCreateKey_FirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "token.key")

	box, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	require.NotNil(t, box)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadOrCreateKey_SecondRunLoadsSameKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.key")

	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	sealed, err := first.Seal([]byte("credential"))
	require.NoError(t, err)

	second, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	plaintext, err := second.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, []byte("credential"), plaintext)
}

func TestLoadOrCreateKey_CorruptKeyIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.key")
	require.NoError(t, os.WriteFile(path, []byte("not-a-key"), 0o600))

	_, err := LoadOrCreateKey(path)
	require.ErrorIs(t, err, domain.ErrEncryptionKeyUnavailable)

	// The corrupt file must survive; regenerating would orphan stored tokens.
	raw, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	require.Equal(t, "not-a-key", string(raw))
}

func TestBox_RoundTrip(t *testing.T) {
	box := newTestBox(t)

	sealed, err := box.Seal([]byte(`{"access_token":"secret"}`))
	require.NoError(t, err)
	require.NotContains(t, sealed, "secret")

	plaintext, err := box.Open(sealed)
	require.NoError(t, err)
	require.JSONEq(t, `{"access_token":"secret"}`, string(plaintext))
}

func TestBox_OpenWithDifferentKeyFailsClosed(t *testing.T) {
	box := newTestBox(t)
	other := newTestBox(t)

	sealed, err := box.Seal([]byte("payload"))
	require.NoError(t, err)

	plaintext, err := other.Open(sealed)
	require.ErrorIs(t, err, domain.ErrCiphertextInvalid)
	require.Nil(t, plaintext)
}

func TestBox_OpenGarbageFailsClosed(t *testing.T) {
	box := newTestBox(t)

	for _, bad := range []string{"", "!!!", "dG9vLXNob3J0"} {
		_, err := box.Open(bad)
		require.ErrorIs(t, err, domain.ErrCiphertextInvalid)
	}
}

func newTestBox(t *testing.T) *Box {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := NewBox(key)
	require.NoError(t, err)
	return box
}
