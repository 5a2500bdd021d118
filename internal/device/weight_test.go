// ABOUTME: Tests for scale frame parsing
// ABOUTME: Covers comma frames, bare values, units, stability flags and garbage

package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWeight(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		weight float64
		unit   string
		stable bool
	}{
		{"stable gross frame", "ST,GS,  1.23 kg", 1.23, "kg", true},
		{"frame with crlf", "ST,GS,  0.50 kg\r\n", 0.5, "kg", true},
		{"unstable frame", "US,GS,  2.00 kg", 2.0, "kg", false},
		{"net frame in pounds", "ST,NT,+003.40 LB", 3.4, "lb", true},
		{"unit glued to number", "ST,GS,1.5kg", 1.5, "kg", true},
		{"bare value", "12.345 g", 12.345, "g", true},
		{"bare value without unit", "7.2", 7.2, "kg", true},
		{"negative tare", "ST,TR, -0.10 kg", -0.10, "kg", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseWeight(tt.line)
			require.NoError(t, err)
			assert.InDelta(t, tt.weight, f.Weight, 1e-9)
			assert.Equal(t, tt.unit, f.Unit)
			assert.Equal(t, tt.stable, f.Stable)
		})
	}
}

func TestParseWeight_Errors(t *testing.T) {
	_, err := ParseWeight("   ")
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = ParseWeight("ST,GS,  ---- kg")
	assert.Error(t, err)

	_, err = ParseWeight("OVERLOAD")
	assert.Error(t, err)
}
