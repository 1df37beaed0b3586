// Package eventbus carries the Firing Engine's and Safety Supervisor's
// discrete events (spec.md §9): the engine publishes status-transition side
// effects, the supervisor publishes emergency/fault events. Desired duty and
// the emergency latch itself are not carried here: the engine sets duty and
// polls the latch through the narrow firing.Actuator interface, and the
// supervisor never calls the engine. The channel/register
// shape mirrors internal/websocket/hub.go's client registry, generalized to
// typed domain events instead of JSON WS frames.
package eventbus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/edgeflow/kilnd/internal/logger"
)

// Kind identifies an event's payload shape.
type Kind string

const (
	// KindEmergencyStop is published by the Safety Supervisor when it
	// latches. Payload is EmergencyStop.
	KindEmergencyStop Kind = "emergency_stop"
	// KindTempFault is published by the Safety Supervisor on a sensor
	// fault/stale condition, ahead of (or alongside) an emergency latch.
	// Payload is TempFault.
	KindTempFault Kind = "temp_fault"
	// KindFiringComplete is published by the Firing Engine when a firing
	// finishes (Complete, Aborted, or Error). Payload is FiringComplete.
	KindFiringComplete Kind = "firing_complete"
	// KindProgressUpdated is published once a second by the controller's
	// metrics sampler from the Firing Engine's progress snapshot. Payload is
	// ProgressUpdated.
	KindProgressUpdated Kind = "progress_updated"
)

// EmergencyStop is the payload for KindEmergencyStop.
type EmergencyStop struct {
	Reason string // FiringErrorCode string value
}

// TempFault is the payload for KindTempFault.
type TempFault struct {
	StaleFor float64 // seconds since last fault-free sample
}

// FiringComplete is the payload for KindFiringComplete.
type FiringComplete struct {
	FiringID string
	Outcome  string // Complete, Aborted, Error
	PeakTemp float64
}

// ProgressUpdated is the payload for KindProgressUpdated.
type ProgressUpdated struct {
	Status      string
	Segment     int
	SetpointC   float64
	MeasuredC   float64
	ElapsedS    float64
}

// Event is a single published message.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// Bus is an in-process typed pub/sub. Publish never blocks: subscribers with
// a full inbox miss the event (with a warn log) rather than stall the publisher,
// matching the "Supervisor never waits on any other task" rule in spec.md §5.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	log         *zap.Logger
}

type subscription struct {
	kinds map[Kind]bool // nil means "all kinds"
	ch    chan Event
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[int]*subscription),
		log:         logger.WithTask("eventbus"),
	}
}

// Subscription is a handle returned by Subscribe, used to read events and to
// unsubscribe.
type Subscription struct {
	id  int
	bus *Bus
	ch  chan Event
}

// Events returns the channel of events matching this subscription's filter.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subscribers[s.id]; ok {
		delete(s.bus.subscribers, s.id)
		close(s.ch)
	}
}

// Subscribe registers a new subscriber. If kinds is empty, all event kinds
// are delivered. The inbox is bounded; a slow subscriber drops events rather
// than blocking publishers.
func (b *Bus) Subscribe(inboxSize int, kinds ...Kind) *Subscription {
	if inboxSize <= 0 {
		inboxSize = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var filter map[Kind]bool
	if len(kinds) > 0 {
		filter = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	id := b.nextID
	b.nextID++
	sub := &subscription{kinds: filter, ch: make(chan Event, inboxSize)}
	b.subscribers[id] = sub
	return &Subscription{id: id, bus: b, ch: sub.ch}
}

// Publish fans the event out to every matching subscriber. Non-blocking.
func (b *Bus) Publish(kind Kind, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev := Event{Kind: kind, Payload: payload}
	for _, sub := range b.subscribers {
		if sub.kinds != nil && !sub.kinds[kind] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.log.Warn("subscriber inbox full, dropping event", zap.String("kind", string(kind)))
		}
	}
}
