// Package firing implements the Firing Engine state machine (spec.md §4.4):
// the 1 Hz cooperative task that owns the active profile, per-segment
// timers, and the PID instance, and is the sole producer of setpoints.
package firing

import (
	"fmt"
	"time"

	"github.com/edgeflow/kilnd/internal/kiln/errcode"
	"github.com/edgeflow/kilnd/internal/kiln/profile"
)

// ErrQueueFull is returned by Enqueue when the command inbox has no room
// within EnqueueTimeout (spec.md §4.4, §6, §7).
var ErrQueueFull = fmt.Errorf("command inbox full: %s", errcode.QueueFull)

// Status is one of the Firing Engine's states (spec.md §4.4).
type Status string

const (
	Idle         Status = "Idle"
	DelayPending Status = "DelayPending"
	Heating      Status = "Heating"
	Holding      Status = "Holding"
	Cooling      Status = "Cooling"
	Paused       Status = "Paused"
	Autotune     Status = "Autotune"
	Complete     Status = "Complete"
	Error        Status = "Error"
)

// CommandKind identifies a variant of the external command inbox
// (spec.md §4.4, §6).
type CommandKind int

const (
	CmdStart CommandKind = iota
	CmdStop
	CmdPause
	CmdResume
	CmdSkipSegment
	CmdAutotuneStart
	CmdAutotuneStop
)

// Command is one entry in the bounded command inbox.
type Command struct {
	Kind         CommandKind
	Profile      profile.Profile // CmdStart
	DelayMinutes int             // CmdStart
	SetpointC    float64         // CmdAutotuneStart
	HysteresisC  float64         // CmdAutotuneStart
}

// Progress is a consistent snapshot returned by GetProgress (spec.md §6).
// Status is the externally observable state: DelayPending collapses to
// Idle with Active set, since an observer outside the engine has no use
// for distinguishing "not started yet" from "counting down to start"
// (spec.md §4.4 command semantics).
type Progress struct {
	Status              Status
	Active              bool
	FiringID            string
	ProfileID           string
	SegmentIndex        int
	SegmentCount        int
	SetpointC           float64
	MeasuredC           float64
	TargetC             float64
	SegmentElapsedS     float64
	FiringElapsedS      float64
	EstimatedRemainingS float64
	PeakTempC           float64
	LastErrorCode       errcode.FiringErrorCode
	AutotunePhase       string
	StartTime           time.Time
}

// InboxCapacity is the bounded command inbox size (spec.md §4.4, §6).
const InboxCapacity = 4

// EnqueueTimeout bounds how long Enqueue waits for inbox room before
// surfacing a caller-visible failure (spec.md §5).
const EnqueueTimeout = 100 * time.Millisecond

// NotRisingGuardWindow and NotRisingMinDeltaC implement the kiln-not-rising
// guard (spec.md §4.4): every NotRisingGuardWindow, temperature must have
// risen at least NotRisingMinDeltaC.
const (
	NotRisingGuardWindow = 15 * time.Minute
	NotRisingMinDeltaC   = 10.0
)

// Runaway guard thresholds (spec.md §4.4).
const (
	RunawayMinSegmentElapsed = 300 * time.Second
	RunawayMinProgrammedRate = 0.1  // °C/h
	RunawayFactor            = 2.0  // observed > 2x programmed
	RunawayMinObservedRate   = 50.0 // °C/h
)

// Hold-enter tolerances (spec.md §4.4).
const (
	HoldEnterMeasuredToleranceC = 2.0
	HoldEnterSetpointToleranceC = 0.5
)

// ElementHoursFlushInterval bounds element-on accumulator persistence
// (spec.md §4.4).
const ElementHoursFlushInterval = 5 * time.Minute

// TraceSampleInterval is the history-trace sampling cadence (spec.md §4.4).
const TraceSampleInterval = 1 * time.Minute

// TickInterval is the Firing Engine's fixed cadence (spec.md §4.4, §5).
const TickInterval = 1 * time.Second
