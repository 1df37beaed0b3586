package thermocouple

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		raw       uint32
		wantTemp  float64
		wantCJ    float64
		wantFault uint8
	}{
		{
			name:     "zero temperature, zero cold junction",
			raw:      0x00000000,
			wantTemp: 0,
			wantCJ:   0,
		},
		{
			name:     "100C reads as 400 quarters in bits 31..18",
			raw:      uint32(400) << 18,
			wantTemp: 100,
			wantCJ:   0,
		},
		{
			name:     "negative temperature sign-extends",
			raw:      uint32(uint16(int16(-4))&0x3FFF) << 18, // -1 degC (-4 quarters)
			wantTemp: -1,
			wantCJ:   0,
		},
		{
			name:     "cold junction 25C",
			raw:      uint32(400) << 4, // 400 * 0.0625 = 25
			wantTemp: 0,
			wantCJ:   25,
		},
		{
			name:      "open circuit fault zeroes temperature and cold junction",
			raw:       (1 << 16) | 0x1 | (uint32(400) << 4),
			wantTemp:  0,
			wantCJ:    0,
			wantFault: FaultOpenCircuit,
		},
		{
			name:      "short to GND fault",
			raw:       (1 << 16) | 0x2,
			wantFault: FaultShortGND,
		},
		{
			name:      "short to VCC fault",
			raw:       (1 << 16) | 0x4,
			wantFault: FaultShortVCC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Decode(tt.raw)
			assert.InDelta(t, tt.wantTemp, r.TemperatureC, 0.001)
			assert.InDelta(t, tt.wantCJ, r.ColdJunctionC, 0.001)
			assert.Equal(t, tt.wantFault, r.Fault)
			assert.Equal(t, tt.wantFault != 0, r.Faulted())
		})
	}
}
