package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SetGetClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s := NewStoreAt(path)

	_, ok := s.Get()
	assert.False(t, ok)

	creds := Credentials{AccessToken: "A1", RefreshToken: "R1"}
	require.NoError(t, s.Set(creds))

	got, ok := s.Get()
	require.True(t, ok)
	assert.Equal(t, creds, got)

	// File mode should keep the tokens private.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, s.Clear())
	_, ok = s.Get()
	assert.False(t, ok)
}

func TestStore_RejectsPartialPair(t *testing.T) {
	s := NewStoreAt(filepath.Join(t.TempDir(), "credentials.json"))

	assert.ErrorIs(t, s.Set(Credentials{AccessToken: "A1"}), ErrPartialCredentials)
	assert.ErrorIs(t, s.Set(Credentials{RefreshToken: "R1"}), ErrPartialCredentials)

	_, ok := s.Get()
	assert.False(t, ok)
}

func TestStore_SurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	s := NewStoreAt(path)
	require.NoError(t, s.Set(Credentials{AccessToken: "A1", RefreshToken: "R1"}))

	reloaded := NewStoreAt(path)
	got, ok := reloaded.Get()
	require.True(t, ok)
	assert.Equal(t, "A1", got.AccessToken)
	assert.Equal(t, "R1", got.RefreshToken)
}

func TestStore_ClearIdempotent(t *testing.T) {
	s := NewStoreAt(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, s.Set(Credentials{AccessToken: "A1", RefreshToken: "R1"}))

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())

	_, ok := s.Get()
	assert.False(t, ok)
}

func TestStore_IgnoresPartialPairOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"access_token":"A1"}`), 0600))

	s := NewStoreAt(path)
	_, ok := s.Get()
	assert.False(t, ok)
}
