package sqlitekv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"statuspod/storage"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pod.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := open(t)

	_, ok, err := s.Get(storage.NSAuth, "refresh_tok")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(storage.NSAuth, "refresh_tok", "abc"))
	v, ok, err := s.Get(storage.NSAuth, "refresh_tok")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "abc", v)

	// overwrite
	require.NoError(t, s.Put(storage.NSAuth, "refresh_tok", "def"))
	v, _, _ = s.Get(storage.NSAuth, "refresh_tok")
	require.Equal(t, "def", v)
}

func TestEraseIsNamespaceScoped(t *testing.T) {
	s := open(t)

	require.NoError(t, s.Put(storage.NSCredentials, "ssid", "office"))
	require.NoError(t, s.Put(storage.NSSettings, "interval", "120"))

	require.NoError(t, s.Erase(storage.NSCredentials))

	_, ok, _ := s.Get(storage.NSCredentials, "ssid")
	require.False(t, ok)
	v, ok, _ := s.Get(storage.NSSettings, "interval")
	require.True(t, ok)
	require.Equal(t, "120", v)
}

func TestReopenSurvives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pod.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(storage.NSAuth, "refresh_tok", "persist-me"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	v, ok, err := s2.Get(storage.NSAuth, "refresh_tok")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persist-me", v)
}
