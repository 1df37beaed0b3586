package controller

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/edgeflow/kilnd/internal/hal"
	"github.com/edgeflow/kilnd/internal/kiln/clock"
	"github.com/edgeflow/kilnd/internal/kiln/history"
	"github.com/edgeflow/kilnd/internal/kiln/pidctl"
	"github.com/edgeflow/kilnd/internal/kiln/profile"
	"github.com/edgeflow/kilnd/internal/kiln/settings"
	"github.com/edgeflow/kilnd/internal/kiln/thermocouple"
	"github.com/edgeflow/kilnd/internal/metrics"
	"github.com/edgeflow/kilnd/internal/security"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gainStore, err := pidctl.NewGainStore(db)
	require.NoError(t, err)

	profileStore, err := profile.NewStore(db)
	require.NoError(t, err)

	settingsStore, err := settings.NewStore(db, security.NewTokenCipher("test-passphrase"))
	require.NoError(t, err)

	historyDir := t.TempDir()
	historyStore, err := history.NewStore(historyDir)
	require.NoError(t, err)

	c, err := New(Config{
		GPIO:            &hal.MockGPIO{},
		SPI:             &hal.MockSPI{},
		Clock:           clock.NewFake(time.Unix(0, 0)),
		SSRPin:          18,
		ThermocoupleCfg: thermocouple.Config{},
		History:         historyStore,
		Profiles:        profileStore,
		GainStore:       gainStore,
		Settings:        settingsStore,
		Metrics:         metrics.NewMetrics(),
	})
	require.NoError(t, err)
	return c
}

func TestNewControllerWiresAllCapabilities(t *testing.T) {
	c := newTestController(t)
	assert.NotNil(t, c.Bus())
	assert.NotNil(t, c.Engine())
	assert.NotNil(t, c.Safety())
	assert.NotNil(t, c.Sensor())
	assert.NotNil(t, c.Profiles())
	assert.NotNil(t, c.Settings())
	assert.NotNil(t, c.History())
}

func TestRunStopsAllTasksOnContextCancel(t *testing.T) {
	c := newTestController(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let every task get at least one tick in before cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestEngineReachableThroughController(t *testing.T) {
	c := newTestController(t)
	p := c.Engine().GetProgress()
	assert.Equal(t, "Idle", string(p.Status))
}
