// ABOUTME: Tests for the hardware backend with faked commands and serial ports
// ABOUTME: Covers printer enumeration, printing, scale discovery and scale reads

package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/posbridge/internal/logging"
)

// fakePort is an in-memory serial port.
type fakePort struct {
	written bytes.Buffer
	reply   *strings.Reader
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.reply.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func newTestSystem(goos string) *System {
	s := NewSystem(SystemOptions{Logger: logging.Discard(), ReadTimeout: 50 * time.Millisecond})
	s.goos = goos
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestSystem_PrintersLinux(t *testing.T) {
	s := newTestSystem("linux")
	s.run = func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		require.Equal(t, "lpstat", name)
		return []byte("printer EPSON_TM20 is idle.  enabled since Mon 01 Jan\n" +
			"printer Kitchen disabled since Tue 02 Jan -\n" +
			"\treason unknown\n"), nil
	}

	printers, err := s.Printers(context.Background())
	require.NoError(t, err)
	require.Len(t, printers, 2)
	assert.Equal(t, Descriptor{Name: "EPSON_TM20", Status: "available", Type: "cups"}, printers[0])
	assert.Equal(t, "Kitchen", printers[1].Name)
	assert.Equal(t, "disabled", printers[1].Status)
}

func TestSystem_PrintersWindows(t *testing.T) {
	s := newTestSystem("windows")
	s.run = func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		return []byte("Name\r\nPOS-80\r\n\r\nMicrosoft Print to PDF\r\n"), nil
	}

	printers, err := s.Printers(context.Background())
	require.NoError(t, err)
	require.Len(t, printers, 2)
	assert.Equal(t, "POS-80", printers[0].Name)
	assert.Equal(t, "Microsoft Print to PDF", printers[1].Name)
}

func TestSystem_PrintersError(t *testing.T) {
	s := newTestSystem("linux")
	s.run = func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		return nil, errors.New("cups down")
	}

	_, err := s.Printers(context.Background())
	assert.Error(t, err)
}

func TestSystem_Print(t *testing.T) {
	s := newTestSystem("linux")
	var gotArgs []string
	var gotStdin []byte
	s.run = func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		gotStdin = stdin
		return nil, nil
	}

	res := s.Print(context.Background(), "EPSON_TM20", []byte("hello"))
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "lp", res.Method)
	assert.Equal(t, 5, res.Bytes)
	assert.Equal(t, []string{"lp", "-d", "EPSON_TM20", "-t", "Ticket"}, gotArgs)
	assert.Equal(t, []byte("hello"), gotStdin)
}

func TestSystem_PrintFailures(t *testing.T) {
	s := newTestSystem("linux")

	s.run = func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		return nil, fmt.Errorf("lp: %w", exec.ErrNotFound)
	}
	res := s.Print(context.Background(), "P1", []byte("x"))
	assert.Equal(t, StatusSimulated, res.Status)

	s.run = func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
		return nil, errors.New("lp: unknown destination")
	}
	res = s.Print(context.Background(), "P1", []byte("x"))
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "unknown destination")
}

func TestSystem_ScalesLinux(t *testing.T) {
	s := newTestSystem("linux")
	s.opts.ExtraScales = []string{"/dev/ttyS0", "/dev/ttyUSB0"}
	s.glob = func(pattern string) ([]string, error) {
		switch pattern {
		case "/dev/ttyUSB*":
			return []string{"/dev/ttyUSB1", "/dev/ttyUSB0"}, nil
		case "/dev/ttyACM*":
			return []string{"/dev/ttyACM0"}, nil
		}
		return nil, nil
	}

	scales, err := s.Scales(context.Background())
	require.NoError(t, err)

	var ports []string
	for _, d := range scales {
		ports = append(ports, d.Port)
		assert.Equal(t, "serial", d.Type)
	}
	assert.Equal(t, []string{"/dev/ttyACM0", "/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyS0"}, ports)
}

func TestSystem_ScalesWindowsProbesCOM(t *testing.T) {
	s := newTestSystem("windows")
	s.opts.WindowsCOMProbes = 4
	s.open = func(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
		if name == "COM3" {
			return &fakePort{reply: strings.NewReader("")}, nil
		}
		return nil, errors.New("no such port")
	}

	scales, err := s.Scales(context.Background())
	require.NoError(t, err)
	require.Len(t, scales, 1)
	assert.Equal(t, "COM3", scales[0].Port)
}

func TestSystem_ReadScale(t *testing.T) {
	s := newTestSystem("linux")
	port := &fakePort{reply: strings.NewReader("ST,GS,  1.23 kg\r\n")}
	var gotBaud int
	s.open = func(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
		gotBaud = baud
		return port, nil
	}

	r := s.ReadScale(context.Background(), "/dev/ttyUSB0")
	assert.Empty(t, r.Error)
	assert.InDelta(t, 1.23, r.Weight, 1e-9)
	assert.Equal(t, "kg", r.Unit)
	assert.True(t, r.Stable)
	assert.Equal(t, "ST,GS,  1.23 kg", r.RawResponse)
	assert.Equal(t, WeightRequest, port.written.String())
	assert.Equal(t, 9600, gotBaud)
	assert.True(t, port.closed)
}

func TestSystem_ReadScaleFailures(t *testing.T) {
	s := newTestSystem("linux")

	s.open = func(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
		return nil, errors.New("permission denied")
	}
	r := s.ReadScale(context.Background(), "/dev/ttyUSB0")
	assert.Contains(t, r.Error, "permission denied")

	s.open = func(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
		return &fakePort{reply: strings.NewReader("")}, nil
	}
	r = s.ReadScale(context.Background(), "/dev/ttyUSB0")
	assert.Contains(t, r.Error, "timed out")

	s.open = func(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
		return &fakePort{reply: strings.NewReader("ERR\n")}, nil
	}
	r = s.ReadScale(context.Background(), "/dev/ttyUSB0")
	assert.NotEmpty(t, r.Error)
	assert.Equal(t, "ERR", r.RawResponse)
}

func TestSimulated(t *testing.T) {
	s := NewSimulated(nil)
	ctx := context.Background()

	printers, err := s.Printers(ctx)
	require.NoError(t, err)
	require.Len(t, printers, 1)
	assert.Equal(t, SimulatedPrinter, printers[0].Name)

	scales, err := s.Scales(ctx)
	require.NoError(t, err)
	require.Len(t, scales, 1)

	assert.Equal(t, StatusSimulated, s.Print(ctx, "any", []byte("x")).Status)

	r := s.ReadScale(ctx, "SIM0")
	assert.True(t, r.Simulated)
	assert.InDelta(t, SimulatedWeight, r.Weight, 1e-9)
}
