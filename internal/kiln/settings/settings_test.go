package settings

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeflow/kilnd/internal/security"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(db, security.NewTokenCipher("test-passphrase"))
	require.NoError(t, err)
	return s
}

func TestLoadDefaultsWhenUnset(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestClampMaxSafeTemp(t *testing.T) {
	assert.Equal(t, 100.0, ClampMaxSafeTemp(50))
	assert.Equal(t, 1400.0, ClampMaxSafeTemp(5000))
	assert.Equal(t, 900.0, ClampMaxSafeTemp(900))
}

func TestSaveClampsMaxSafeTemp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(KilnSettings{Unit: Celsius, MaxSafeTempC: 9999}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1400.0, got.MaxSafeTempC)
}

func TestAPITokenNeverExposedOnLoad(t *testing.T) {
	s := newTestStore(t)
	cfg := Default()
	cfg.SetAPIToken("super-secret-token")
	require.NoError(t, s.Save(cfg))

	loaded, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.apiTokenPlain, "API token must never be populated on load")
}

func TestAuthorizeBearerRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cfg := Default()
	cfg.SetAPIToken("correct-token")
	require.NoError(t, s.Save(cfg))

	ok, err := s.AuthorizeBearer("correct-token")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AuthorizeBearer("wrong-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthorizeBearerNoTokenConfigured(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Default()))

	ok, err := s.AuthorizeBearer("anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadElementHoursDefaultsToZero(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadElementHours()
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestSaveElementHoursRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveElementHours(12345.5))

	got, err := s.LoadElementHours()
	require.NoError(t, err)
	assert.Equal(t, 12345.5, got)
}

func TestSaveElementHoursDoesNotClobberOtherSettings(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(KilnSettings{Unit: Fahrenheit, MaxSafeTempC: 900}))
	require.NoError(t, s.SaveElementHours(42))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Fahrenheit, got.Unit)
	assert.Equal(t, 900.0, got.MaxSafeTempC)

	hours, err := s.LoadElementHours()
	require.NoError(t, err)
	assert.Equal(t, 42.0, hours)
}

func TestSaveWithoutNewTokenPreservesExisting(t *testing.T) {
	s := newTestStore(t)
	cfg := Default()
	cfg.SetAPIToken("keep-me")
	require.NoError(t, s.Save(cfg))

	// Save again without touching the token.
	require.NoError(t, s.Save(Default()))

	ok, err := s.AuthorizeBearer("keep-me")
	require.NoError(t, err)
	assert.True(t, ok, "saving settings without SetAPIToken must not clobber the stored token")
}
