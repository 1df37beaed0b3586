package profile

import (
	"fmt"
	"math"
)

// Speed is a named final-ramp heating rate for cone-fire generation
// (spec.md §4.5).
type Speed int

const (
	Slow Speed = iota
	Medium
	Fast
)

// RateCPerHour returns the °C/h rate for a named speed.
func (s Speed) RateCPerHour() float64 {
	switch s {
	case Slow:
		return 60
	case Fast:
		return 300
	default:
		return 150
	}
}

// coneMediumTargetC is the Orton-table target temperature (°C) for each
// cone at a medium firing rate. Slow and fast rates adjust this baseline
// (see targetForSpeed): a slower climb reaches cone-bend at a slightly
// lower recorded temperature, a faster one needs a slightly higher one.
var coneMediumTargetC = map[string]float64{
	"022": 600, "021": 614, "020": 635, "019": 683, "018": 716,
	"017": 747, "016": 792, "015": 804, "014": 838, "013": 852,
	"012": 884, "011": 894, "010": 894, "09": 923, "08": 955,
	"07": 984, "06": 999, "05": 1046, "04": 1060, "03": 1101,
	"02": 1120, "01": 1137, "1": 1154, "2": 1162, "3": 1168,
	"4": 1186, "5": 1196, "6": 1222, "7": 1240, "8": 1263,
	"9": 1280, "10": 1285, "11": 1294, "12": 1306, "13": 1321,
	"14": 1388, "15": 1424,
}

const (
	slowTargetDeltaC = -15
	fastTargetDeltaC = 20
)

// targetForSpeed returns the cone's target temperature at the given speed.
func targetForSpeed(cone string, speed Speed) (float64, error) {
	base, ok := coneMediumTargetC[cone]
	if !ok {
		return 0, fmt.Errorf("unknown cone %q", cone)
	}
	switch speed {
	case Slow:
		return base + slowTargetDeltaC, nil
	case Fast:
		return base + fastTargetDeltaC, nil
	default:
		return base, nil
	}
}

// Options controls optional cone-fire generation steps (spec.md §4.5).
type Options struct {
	Preheat  bool
	SlowCool bool
}

const (
	preheatRateCPerHour   = 80
	preheatTargetC        = 120
	preheatHoldMinutes    = 30
	waterSmokeRateCPerHour = 60
	waterSmokeTargetC     = 220
	quartzRateCPerHour    = 100
	quartzTargetC         = 600
	finalHoldMinutes      = 10
	slowCoolStage1Rate    = -150
	slowCoolStage1Target  = 650
	slowCoolStage2Rate    = -50
	slowCoolStage2Target  = 500
	slowCoolThresholdC    = 650
	startingAmbientC      = 20
)

// GenerateConeFire deterministically builds a 2-6 segment profile for the
// given Orton cone number, firing speed, and optional preheat/slow-cool
// stages (spec.md §4.5). The mandatory water-smoke and quartz-zone stages
// are only emitted when they fall below the cone's final target, so a
// low-fire cone doesn't get segments that overshoot it.
func GenerateConeFire(cone string, speed Speed, opts Options, idSuffix string) (Profile, error) {
	target, err := targetForSpeed(cone, speed)
	if err != nil {
		return Profile{}, err
	}

	var segs []Segment
	last := 0.0 // last added segment's target, 0 means "no segment yet"

	addIfBelow := func(rate, stepTarget float64, hold int) {
		if stepTarget <= last || stepTarget >= target {
			return
		}
		segs = append(segs, Segment{RampCPerHour: rate, TargetC: stepTarget, HoldMinutes: hold})
		last = stepTarget
	}

	if opts.Preheat {
		addIfBelow(preheatRateCPerHour, preheatTargetC, preheatHoldMinutes)
	}
	addIfBelow(waterSmokeRateCPerHour, waterSmokeTargetC, 0)
	addIfBelow(quartzRateCPerHour, quartzTargetC, 0)

	segs = append(segs, Segment{RampCPerHour: speed.RateCPerHour(), TargetC: target, HoldMinutes: finalHoldMinutes})

	if opts.SlowCool && target > slowCoolThresholdC {
		segs = append(segs,
			Segment{RampCPerHour: slowCoolStage1Rate, TargetC: slowCoolStage1Target, HoldMinutes: 0},
			Segment{RampCPerHour: slowCoolStage2Rate, TargetC: slowCoolStage2Target, HoldMinutes: 0},
		)
	}

	id := fmt.Sprintf("cone-%s-%s", cone, idSuffix)
	return Profile{
		ID:          SanitizeID(id),
		Name:        fmt.Sprintf("Cone %s (%s)", cone, speedName(speed)),
		Segments:    segs,
		Description: "Generated cone-fire profile",
	}, nil
}

func speedName(s Speed) string {
	switch s {
	case Slow:
		return "slow"
	case Fast:
		return "fast"
	default:
		return "medium"
	}
}

// EstimatedDuration computes the total firing time implied by a generated
// profile: for each segment, time-to-target at |ramp_rate| from the
// previous segment's target (or startingAmbientC for the first), plus the
// hold (spec.md §4.5).
func EstimatedDuration(p Profile) float64 {
	var totalHours float64
	prevTarget := startingAmbientC
	for _, seg := range p.Segments {
		delta := math.Abs(seg.TargetC - float64(prevTarget))
		if seg.RampCPerHour != 0 {
			totalHours += delta / math.Abs(seg.RampCPerHour)
		}
		totalHours += float64(seg.HoldMinutes) / 60
		prevTarget = int(seg.TargetC)
	}
	return totalHours
}
