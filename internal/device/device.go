// ABOUTME: Device backend contract shared by the agent runtime and its drivers
// ABOUTME: Defines descriptors, print results, scale readings and the Backend interface

package device

import (
	"context"
	"time"
)

// Print result statuses.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusSimulated = "simulated"
)

// Descriptor describes one printer or scale as reported to the hub.
// Which fields are set depends on the device kind and the backend.
type Descriptor struct {
	Name   string `json:"name,omitempty"`
	Port   string `json:"port,omitempty"`
	Status string `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
}

// PrintResult is the outcome of one print job. A failed job is still a
// result; Status carries the failure.
type PrintResult struct {
	Printer   string    `json:"printer"`
	Status    string    `json:"status"`
	Method    string    `json:"method,omitempty"`
	Error     string    `json:"error,omitempty"`
	Bytes     int       `json:"bytes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Reading is the outcome of one scale read. A failed read is still a
// reading; Error carries the failure.
type Reading struct {
	Port        string    `json:"port"`
	Weight      float64   `json:"weight"`
	Unit        string    `json:"unit"`
	Stable      bool      `json:"stable"`
	Simulated   bool      `json:"simulated,omitempty"`
	RawResponse string    `json:"raw_response,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Backend enumerates and drives locally attached devices.
type Backend interface {
	// Name identifies the backend in agent info responses.
	Name() string
	Printers(ctx context.Context) ([]Descriptor, error)
	Scales(ctx context.Context) ([]Descriptor, error)
	Print(ctx context.Context, printer string, data []byte) PrintResult
	ReadScale(ctx context.Context, port string) Reading
}
