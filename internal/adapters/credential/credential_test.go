package credential

import (
	"context"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Encrypt([]byte("refresh-token"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "refresh-token")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "refresh-token", string(plain))

	other := newTestCipher(t)
	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewCipherRejectsShortKeys(t *testing.T) {
	_, err := NewCipher("c2hvcnQ=")
	assert.Error(t, err)
	_, err = NewCipher("not base64!")
	assert.Error(t, err)
}

func TestKeyringStore(t *testing.T) {
	ctx := context.Background()
	ring := keyring.NewArrayKeyring(nil)
	store := NewKeyringStore(ring, newTestCipher(t), zap.NewNop())

	_, err := store.Load(ctx, "gmail:me@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)

	expiry := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, "gmail:me@example.com", &core.Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       expiry,
	}))

	item, err := ring.Get("gmail:me@example.com")
	require.NoError(t, err)
	assert.NotContains(t, string(item.Data), "refresh")

	creds, err := store.Load(ctx, "gmail:me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "access", creds.AccessToken)
	assert.Equal(t, "refresh", creds.RefreshToken)
	assert.True(t, expiry.Equal(creds.Expiry))

	require.NoError(t, store.Delete(ctx, "gmail:me@example.com"))
	require.NoError(t, store.Delete(ctx, "gmail:me@example.com"))
	_, err = store.Load(ctx, "gmail:me@example.com")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
