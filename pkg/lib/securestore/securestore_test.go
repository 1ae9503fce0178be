package securestore

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.json")

	store, err := OpenFile(path, "correct horse", discard())
	require.NoError(t, err)
	require.True(t, store.SetSecureString("client_token", "tok-123"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "tok-123"), "value must not be stored in clear text")

	reopened, err := OpenFile(path, "correct horse", discard())
	require.NoError(t, err)
	v, ok := reopened.GetSecureString("client_token")
	require.True(t, ok)
	assert.Equal(t, "tok-123", v)

	reopened.DeleteSecureString("client_token")
	_, ok = reopened.GetSecureString("client_token")
	assert.False(t, ok)
}

func TestFileWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.json")

	store, err := OpenFile(path, "one", discard())
	require.NoError(t, err)
	require.True(t, store.SetSecureString("k", "v"))

	other, err := OpenFile(path, "two", discard())
	require.NoError(t, err)
	_, ok := other.GetSecureString("k")
	assert.False(t, ok)
}

func TestOpenFileRequiresPassphrase(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "s.json"), "", discard())
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	_, ok := m.GetSecureString("k")
	assert.False(t, ok)
	assert.True(t, m.SetSecureString("k", "v"))
	v, ok := m.GetSecureString("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
	m.DeleteSecureString("k")
	_, ok = m.GetSecureString("k")
	assert.False(t, ok)
}
