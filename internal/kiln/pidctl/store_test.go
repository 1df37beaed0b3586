package pidctl

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGainStore(t *testing.T) *GainStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := NewGainStore(db)
	require.NoError(t, err)
	return s
}

func TestGainStoreDefaultsWhenAbsent(t *testing.T) {
	s := newTestGainStore(t)
	g, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultGains(), g)
}

func TestGainStoreSaveLoadRoundTrip(t *testing.T) {
	s := newTestGainStore(t)
	want := Gains{Kp: 0.1528, Ki: 0.003055, Kd: 1.910}
	require.NoError(t, s.Save(want))

	got, err := s.Load()
	require.NoError(t, err)
	assert.InDelta(t, want.Kp, got.Kp, 1e-4)
	assert.InDelta(t, want.Ki, got.Ki, 1e-4)
	assert.InDelta(t, want.Kd, got.Kd, 1e-4)
}
