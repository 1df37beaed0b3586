// Package engine runs periodic maintenance jobs alongside the real-time
// control loop: element-hours flush and orphaned trace-file pruning.
// Grounded on EdgxCloud-EdgeFlow's internal/engine.Scheduler, which wraps
// robfig/cron/v3 to fire scheduled flows; here the "flows" are fixed
// housekeeping jobs instead of user-defined ones, so there is no
// AddCronTrigger/RemoveTrigger registry — just two jobs added once at
// construction.
package engine

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/kiln/history"
	"github.com/edgeflow/kilnd/internal/logger"
)

// ElementHoursEngine is the subset of firing.Engine the scheduler depends
// on.
type ElementHoursEngine interface {
	FlushElementHours() error
}

// traceMinAge bounds how old an unreferenced trace file must be before
// Scheduler prunes it, so it never races an in-progress firing's own
// NewTrace/Append cycle.
const traceMinAge = 1 * time.Hour

// Scheduler runs fixed maintenance jobs on a cron schedule: an
// element-hours flush every 5 minutes (a safety net alongside the Firing
// Engine's own interval-gated flush, checked each tick while a segment
// runs) and an orphaned
// trace-file sweep every hour.
type Scheduler struct {
	cron    *cron.Cron
	engine  ElementHoursEngine
	history *history.Store
	log     *zap.Logger
}

// New builds and schedules a Scheduler. Call Start to begin running jobs.
func New(engine ElementHoursEngine, historyStore *history.Store) *Scheduler {
	s := &Scheduler{
		cron:    cron.New(),
		engine:  engine,
		history: historyStore,
		log:     logger.WithTask("scheduler"),
	}

	if _, err := s.cron.AddFunc("@every 5m", s.flushElementHours); err != nil {
		s.log.Error("failed to schedule element-hours flush", zap.Error(err))
	}
	if _, err := s.cron.AddFunc("@every 1h", s.pruneOrphanedTraces); err != nil {
		s.log.Error("failed to schedule trace pruning", zap.Error(err))
	}

	return s
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for any in-flight job to finish, then stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) flushElementHours() {
	if err := s.engine.FlushElementHours(); err != nil {
		s.log.Error("scheduled element-hours flush failed", zap.Error(err))
	}
}

func (s *Scheduler) pruneOrphanedTraces() {
	removed, err := s.history.PruneOrphanedTraces(traceMinAge, time.Now())
	if err != nil {
		s.log.Error("scheduled trace pruning failed", zap.Error(err))
		return
	}
	if removed > 0 {
		s.log.Info("pruned orphaned trace files", zap.Int("count", removed))
	}
}
