package thermocouple

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/hal"
	"github.com/edgeflow/kilnd/internal/kiln/clock"
	"github.com/edgeflow/kilnd/internal/logger"
)

// SampleInterval is the fixed MAX31855 polling cadence (spec.md §4.1).
const SampleInterval = 250 * time.Millisecond

// Config configures the SPI link to the MAX31855.
type Config struct {
	SPIBus    int
	SPIDevice int
	SpeedHz   int
}

// Sensor samples the thermocouple at a fixed cadence and exposes the
// latest reading through a single-writer/many-reader cell. Readers never
// block the sampler: GetLatest takes a brief read lock to copy the struct
// and nothing else.
type Sensor struct {
	spi    hal.SPIProvider
	clock  clock.Clock
	cfg    Config
	log    *zap.Logger

	mu      sync.RWMutex
	latest  Reading
	opened  bool
}

// New creates a Sensor bound to the given SPI provider.
func New(spi hal.SPIProvider, clk clock.Clock, cfg Config) *Sensor {
	if cfg.SpeedHz == 0 {
		cfg.SpeedHz = 5_000_000
	}
	return &Sensor{
		spi:   spi,
		clock: clk,
		cfg:   cfg,
		log:   logger.WithTask("sensor"),
	}
}

// GetLatest returns a copy of the most recent reading. Safe to call from
// any goroutine; never blocks on the sampler.
func (s *Sensor) GetLatest() Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Run polls the thermocouple every SampleInterval until ctx is canceled.
// On an SPI bus error the previously cached reading is retained untouched
// (spec.md §4.1, §7): bus errors are logged and never propagated as a
// control-loop failure — downstream code instead observes staleness via
// the reading's timestamp.
func (s *Sensor) Run(ctx context.Context) error {
	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *Sensor) sampleOnce() {
	if err := s.ensureOpen(); err != nil {
		s.log.Error("failed to open SPI device", zap.Error(err))
		return
	}

	raw, err := s.readFrame()
	if err != nil {
		s.log.Warn("thermocouple bus error, retaining cached reading", zap.Error(err))
		return
	}

	reading := Decode(raw)
	reading.TimestampMicros = s.clock.MonotonicMicros()

	s.mu.Lock()
	s.latest = reading
	s.mu.Unlock()

	if reading.Faulted() {
		s.log.Warn("thermocouple fault", zap.Uint8("fault_bits", reading.Fault))
	}
}

func (s *Sensor) ensureOpen() error {
	if s.opened {
		return nil
	}
	if err := s.spi.Open(s.cfg.SPIBus, s.cfg.SPIDevice); err != nil {
		return fmt.Errorf("open SPI bus %d device %d: %w", s.cfg.SPIBus, s.cfg.SPIDevice, err)
	}
	if err := s.spi.SetMode(0); err != nil {
		return fmt.Errorf("set SPI mode 0: %w", err)
	}
	if err := s.spi.SetSpeed(s.cfg.SpeedHz); err != nil {
		return fmt.Errorf("set SPI speed %d: %w", s.cfg.SpeedHz, err)
	}
	s.opened = true
	return nil
}

func (s *Sensor) readFrame() (uint32, error) {
	out, err := s.spi.Transfer(make([]byte, 4))
	if err != nil {
		return 0, err
	}
	if len(out) < 4 {
		return 0, fmt.Errorf("short SPI read: %d bytes", len(out))
	}
	return uint32(out[0])<<24 | uint32(out[1])<<16 | uint32(out[2])<<8 | uint32(out[3]), nil
}
