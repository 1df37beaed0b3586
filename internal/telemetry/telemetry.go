// Package telemetry mirrors firing-engine and safety-supervisor events to
// external systems: an MQTT broker, a configurable webhook, an optional
// InfluxDB bucket, and an optional Redis pub/sub channel. Every sink is
// best-effort — a failure here is logged and never propagates back into
// the control loop (spec.md §7: "persistence failures ... logged, never
// fatal; live control continues"). REDESIGN FLAGS (spec.md §9) calls out
// that alarm/webhook/vent side effects must be first-class outputs of the
// Firing Engine's state transitions published through the event bus, not
// bolted onto an observer path; this package is that output, subscribing
// to internal/kiln/eventbus.Bus instead of being called directly by the
// engine.
package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
	"github.com/edgeflow/kilnd/internal/logger"
)

// dispatchTimeout bounds how long a single sink may take to handle one
// event before it's abandoned; sinks must never stall the bus consumer
// loop for longer than this.
const dispatchTimeout = 5 * time.Second

// Sink is one outbound mirror of engine/supervisor events.
type Sink interface {
	Name() string
	Dispatch(ctx context.Context, ev eventbus.Event) error
}

// Hub subscribes to the shared event bus once and fans every event out to
// every registered Sink concurrently, matching internal/kiln/eventbus's
// own "a slow subscriber never blocks the publisher" contract: a slow
// sink blocks only its own dispatch, never the others.
type Hub struct {
	bus   *eventbus.Bus
	sinks []Sink
	log   *zap.Logger
}

// NewHub creates a Hub with the given sinks. A nil or empty sinks list is
// valid: Run then does nothing but drain the subscription.
func NewHub(bus *eventbus.Bus, sinks ...Sink) *Hub {
	return &Hub{bus: bus, sinks: sinks, log: logger.WithTask("telemetry")}
}

// Run subscribes to every event kind and dispatches until ctx is canceled.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.bus.Subscribe(64)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			h.dispatch(ctx, ev)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, ev eventbus.Event) {
	for _, sink := range h.sinks {
		sink := sink
		go func() {
			dctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
			defer cancel()
			if err := sink.Dispatch(dctx, ev); err != nil {
				h.log.Warn("telemetry sink dispatch failed",
					zap.String("sink", sink.Name()),
					zap.String("kind", string(ev.Kind)),
					zap.Error(err))
			}
		}()
	}
}
