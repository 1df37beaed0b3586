// Package thermocouple implements the MAX31855 thermocouple front end: the
// bit-exact 32-bit frame decode and the 250ms sampler task that keeps a
// single-writer/many-reader latest-reading cell up to date.
package thermocouple

// Fault bits, taken from the three LSBs of the MAX31855 frame.
const (
	FaultOpenCircuit uint8 = 1 << iota // bit 0
	FaultShortGND                     // bit 1
	FaultShortVCC                     // bit 2
)

// Reading is a single thermocouple sample.
type Reading struct {
	TemperatureC     float64
	ColdJunctionC    float64
	Fault            uint8
	TimestampMicros  int64
}

// Faulted reports whether any fault bit is set.
func (r Reading) Faulted() bool { return r.Fault != 0 }

// Decode interprets a raw 32-bit MAX31855 frame per the wire contract:
// the thermocouple value is a sign-extended 14-bit two's-complement field
// in bits 31..18 scaled by 0.25 degC; the cold-junction value is a
// sign-extended 12-bit two's-complement field in bits 15..4 scaled by
// 0.0625 degC; bit 16 set means a fault, with the fault reason in bits
// 2..0. Decode does not stamp the timestamp — callers set it.
func Decode(raw uint32) Reading {
	fault := raw&(1<<16) != 0

	var r Reading
	if fault {
		r.Fault = uint8(raw & 0x7)
		r.TemperatureC = 0
		r.ColdJunctionC = 0
		return r
	}

	tcRaw := int32(raw >> 18)
	if tcRaw&0x2000 != 0 { // sign bit of the 14-bit field
		tcRaw |= ^int32(0x3FFF)
	}
	r.TemperatureC = float64(tcRaw) * 0.25

	cjRaw := int32((raw >> 4) & 0x0FFF)
	if cjRaw&0x0800 != 0 { // sign bit of the 12-bit field
		cjRaw |= ^int32(0x0FFF)
	}
	r.ColdJunctionC = float64(cjRaw) * 0.0625

	return r
}
