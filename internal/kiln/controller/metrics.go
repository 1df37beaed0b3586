package controller

import (
	"context"
	"time"

	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
)

// liveGaugeInterval is how often the controller refreshes the current
// temp/setpoint/duty/element-hours gauges exposed via /metrics and
// publishes a KindProgressUpdated snapshot on the bus. It does not need to
// match any task cadence in spec.md §5: these are dashboard/Prometheus
// gauges, not control-loop state.
const liveGaugeInterval = 1 * time.Second

// runMetricsSampler polls the Firing Engine and Safety Supervisor at a
// fixed cadence, republishes their state as Prometheus gauges
// (internal/metrics), and publishes a KindProgressUpdated event so the api
// layer's websocket bridge and internal/telemetry's mirrors have a single
// poll-driven source of progress instead of each polling the engine
// independently.
func (c *Controller) runMetricsSampler(ctx context.Context) error {
	ticker := time.NewTicker(liveGaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			progress := c.engine.GetProgress()
			duty := c.safety.Duty() * 100
			elementHours := c.engine.GetElementHoursSeconds()

			c.metrics.SetLiveGauges(progress.MeasuredC, progress.SetpointC, duty, elementHours)

			c.bus.Publish(eventbus.KindProgressUpdated, eventbus.ProgressUpdated{
				Status:    string(progress.Status),
				Segment:   progress.SegmentIndex,
				SetpointC: progress.SetpointC,
				MeasuredC: progress.MeasuredC,
				ElapsedS:  progress.FiringElapsedS,
			})
		}
	}
}
