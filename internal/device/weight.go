// ABOUTME: Parses the line-oriented weight frames sent by serial POS scales
// ABOUTME: Handles "ST,GS,  1.23 kg" style frames and bare "1.23 kg" lines

package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// WeightRequest is written to a scale to ask for the current weight.
const WeightRequest = "P\r\n"

// DefaultUnit is assumed when a frame carries no unit.
const DefaultUnit = "kg"

// ErrEmptyFrame is returned for a blank scale response.
var ErrEmptyFrame = errors.New("empty scale response")

// Frame is a parsed scale response.
type Frame struct {
	Weight float64
	Unit   string
	// Stable is false only when the scale explicitly flags the reading as
	// unstable ("US" header).
	Stable bool
}

// ParseWeight parses one scale response line. Comma separated frames carry
// the weight in the third field; anything else is parsed as a whole.
func ParseWeight(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Frame{}, ErrEmptyFrame
	}

	frame := Frame{Unit: DefaultUnit, Stable: true}
	value := line

	if parts := strings.Split(line, ","); len(parts) >= 3 {
		if strings.EqualFold(strings.TrimSpace(parts[0]), "US") {
			frame.Stable = false
		}
		value = strings.TrimSpace(parts[2])
	}

	number, unit := splitNumber(value)
	if number == "" {
		return Frame{}, fmt.Errorf("no weight in %q", line)
	}

	w, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("parsing weight %q: %w", number, err)
	}
	frame.Weight = w

	if unit != "" {
		frame.Unit = strings.ToLower(unit)
	}
	return frame, nil
}

// splitNumber separates a leading signed decimal from the unit that follows.
func splitNumber(s string) (number, unit string) {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if unicode.IsDigit(r) || r == '.' || ((r == '-' || r == '+') && i == 0) {
			end = i + 1
			continue
		}
		break
	}
	number = strings.ReplaceAll(s[:end], "+", "")
	rest := strings.Fields(s[end:])
	if len(rest) > 0 {
		unit = rest[0]
	}
	return number, unit
}
