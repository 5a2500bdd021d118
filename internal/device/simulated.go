// ABOUTME: Simulated device backend for machines without attached hardware
// ABOUTME: Reports a demo printer and fixed scale readings

package device

import (
	"context"
	"time"
)

// SimulatedPrinter is the printer name the simulated backend reports.
const SimulatedPrinter = "Demo Printer"

// SimulatedWeight is the weight every simulated scale returns.
const SimulatedWeight = 1.23

// Simulated is a Backend with no hardware behind it.
type Simulated struct {
	scales []string
	now    func() time.Time
}

// NewSimulated creates a simulated backend exposing the given scale ports.
func NewSimulated(scalePorts []string) *Simulated {
	if len(scalePorts) == 0 {
		scalePorts = []string{"SIM0"}
	}
	return &Simulated{scales: scalePorts, now: time.Now}
}

// Name implements Backend.
func (s *Simulated) Name() string { return "simulated" }

// Printers implements Backend.
func (s *Simulated) Printers(ctx context.Context) ([]Descriptor, error) {
	return []Descriptor{{Name: SimulatedPrinter, Status: "available", Type: "simulated"}}, nil
}

// Scales implements Backend.
func (s *Simulated) Scales(ctx context.Context) ([]Descriptor, error) {
	out := make([]Descriptor, 0, len(s.scales))
	for _, p := range s.scales {
		out = append(out, Descriptor{Port: p, Status: "available", Type: "simulated"})
	}
	return out, nil
}

// Print implements Backend.
func (s *Simulated) Print(ctx context.Context, printer string, data []byte) PrintResult {
	return PrintResult{
		Printer:   printer,
		Status:    StatusSimulated,
		Method:    "simulated",
		Bytes:     len(data),
		Timestamp: s.now(),
	}
}

// ReadScale implements Backend.
func (s *Simulated) ReadScale(ctx context.Context, port string) Reading {
	return Reading{
		Port:      port,
		Weight:    SimulatedWeight,
		Unit:      DefaultUnit,
		Stable:    true,
		Simulated: true,
		Timestamp: s.now(),
	}
}
