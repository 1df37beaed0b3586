// Package controller wires the Sensor, Actuator, Clock, and Persistence
// capabilities together into the long-lived tasks of spec.md §5 and
// supervises their lifecycle as a single cancelable unit, mirroring the
// errgroup.WithContext fan-out in the glint collector's main() (one group,
// cancelled together on the first task error or on shutdown) rather than
// the teacher's node-registry wiring, which has no equivalent runtime
// supervision loop (spec.md §9).
package controller

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edgeflow/kilnd/internal/hal"
	"github.com/edgeflow/kilnd/internal/kiln/clock"
	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
	"github.com/edgeflow/kilnd/internal/kiln/firing"
	"github.com/edgeflow/kilnd/internal/kiln/history"
	"github.com/edgeflow/kilnd/internal/kiln/pidctl"
	"github.com/edgeflow/kilnd/internal/kiln/profile"
	"github.com/edgeflow/kilnd/internal/kiln/safety"
	"github.com/edgeflow/kilnd/internal/kiln/settings"
	"github.com/edgeflow/kilnd/internal/kiln/thermocouple"
	"github.com/edgeflow/kilnd/internal/logger"
	"github.com/edgeflow/kilnd/internal/metrics"
)

// Config wires every capability and persistence store the controller needs.
// The Firing Engine reaches the Safety Supervisor only through the narrow
// firing.Actuator interface (set duty, read the emergency latch and its
// error code); the supervisor never calls the engine, and both publish
// their discrete events on the shared event bus (spec.md §9).
type Config struct {
	GPIO  hal.GPIOProvider
	SPI   hal.SPIProvider
	Clock clock.Clock

	SSRPin          int
	ThermocoupleCfg thermocouple.Config

	History   *history.Store
	Profiles  *profile.Store
	GainStore *pidctl.GainStore
	Settings  *settings.Store

	Metrics *metrics.Metrics
}

// Controller owns the Sensor, Safety Supervisor, and Firing Engine and
// runs them, plus the live-gauge metrics sampler, as independent tasks
// under one errgroup.
type Controller struct {
	sensor   *thermocouple.Sensor
	safety   *safety.Supervisor
	engine   *firing.Engine
	bus      *eventbus.Bus
	settings *settings.Store
	profiles *profile.Store
	history  *history.Store
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// New assembles a Controller. It does not start any task; call Run for
// that.
func New(cfg Config) (*Controller, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	bus := eventbus.New()

	sensor := thermocouple.New(cfg.SPI, cfg.Clock, cfg.ThermocoupleCfg)

	maxSafeTemp := func() float64 {
		s, err := cfg.Settings.Load()
		if err != nil {
			return safety.MaxAllowedTempC
		}
		return s.MaxSafeTempC
	}

	sup := safety.New(cfg.GPIO, sensor, cfg.Clock, bus, safety.Config{
		SSRPin:          cfg.SSRPin,
		MaxSafeTempFunc: maxSafeTemp,
	})

	tcOffset := func() float64 {
		s, err := cfg.Settings.Load()
		if err != nil {
			return 0
		}
		return s.TCOffsetC
	}

	engine, err := firing.New(firing.Config{
		Sensor:      sensor,
		Actuator:    sup,
		Clock:       cfg.Clock,
		History:     cfg.History,
		ElementHrs:  elementHoursAdapter{store: cfg.Settings},
		Gains:       cfg.GainStore,
		Bus:         bus,
		MaxSafeTemp: maxSafeTemp,
		TCOffsetC:   tcOffset,
	})
	if err != nil {
		return nil, fmt.Errorf("create firing engine: %w", err)
	}

	return &Controller{
		sensor:   sensor,
		safety:   sup,
		engine:   engine,
		bus:      bus,
		settings: cfg.Settings,
		profiles: cfg.Profiles,
		history:  cfg.History,
		metrics:  cfg.Metrics,
		log:      logger.WithTask("controller"),
	}, nil
}

// Bus returns the shared event bus, for the api/telemetry layers to
// subscribe to.
func (c *Controller) Bus() *eventbus.Bus { return c.bus }

// Engine returns the Firing Engine, for the api layer to enqueue commands
// against and poll progress from.
func (c *Controller) Engine() *firing.Engine { return c.engine }

// Safety returns the Safety Supervisor, for health checks and diagnostics.
func (c *Controller) Safety() *safety.Supervisor { return c.safety }

// Sensor returns the thermocouple sampler, for health checks and
// diagnostics.
func (c *Controller) Sensor() *thermocouple.Sensor { return c.sensor }

// Profiles returns the profile store, for the api layer to list/save/load
// firing profiles by id.
func (c *Controller) Profiles() *profile.Store { return c.profiles }

// Settings returns the settings store, for the api layer to read/write
// KilnSettings.
func (c *Controller) Settings() *settings.Store { return c.settings }

// History returns the firing history store, for the api layer to list
// past firings and for internal/engine.Scheduler's trace-pruning job.
func (c *Controller) History() *history.Store { return c.history }

// Run starts the Sensor sampler (250ms), Safety Supervisor (500ms), Firing
// Engine (1s), and live-gauge metrics sampler tasks and blocks until one of
// them fails or ctx is canceled, at which point the others are canceled in
// turn (spec.md §5's task table; priority ordering is enforced by each
// task's own tick cadence, not by goroutine scheduling order).
func (c *Controller) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.log.Info("sensor sampler starting")
		err := c.sensor.Run(gctx)
		c.log.Info("sensor sampler stopped", zap.Error(err))
		return err
	})

	g.Go(func() error {
		c.log.Info("safety supervisor starting")
		err := c.safety.Run(gctx)
		c.log.Info("safety supervisor stopped", zap.Error(err))
		return err
	})

	g.Go(func() error {
		c.log.Info("firing engine starting")
		err := c.engine.Run(gctx)
		c.log.Info("firing engine stopped", zap.Error(err))
		return err
	})

	if c.metrics != nil {
		g.Go(func() error {
			return c.runMetricsSampler(gctx)
		})
	}

	return g.Wait()
}

// elementHoursAdapter adapts settings.Store's scalar-row API to the
// narrower firing.ElementHoursPersistence capability. The element-hours
// counter rides alongside KilnSettings as one more scalar column rather
// than its own table, matching the "single namespace of scalar values"
// shape the settings store already implements (spec.md §4.4, §6).
type elementHoursAdapter struct {
	store *settings.Store
}

func (e elementHoursAdapter) Load() (float64, error) {
	return e.store.LoadElementHours()
}

func (e elementHoursAdapter) Save(seconds float64) error {
	return e.store.SaveElementHours(seconds)
}
