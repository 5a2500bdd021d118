// ABOUTME: Hardware device backend using the host print spooler and serial ports
// ABOUTME: Enumerates CUPS printers and USB/COM scales, prints via lp, reads scales via tarm/serial

package device

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// scaleGlobs lists the device nodes probed for scales on unix hosts.
var scaleGlobs = []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/tty.usbserial*"}

// commandRunner executes a host command, feeding stdin when non-nil.
type commandRunner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// portOpener opens a serial port.
type portOpener func(name string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error)

// SystemOptions configures the hardware backend.
type SystemOptions struct {
	// ExtraScales are probed in addition to the auto-detected ports.
	ExtraScales      []string
	Baud             int
	ReadTimeout      time.Duration
	Logger           *slog.Logger
	JobTitle         string
	WindowsCOMProbes int
}

// System is a Backend that talks to real hardware.
type System struct {
	opts   SystemOptions
	logger *slog.Logger
	goos   string

	run  commandRunner
	open portOpener
	glob func(pattern string) ([]string, error)
	now  func() time.Time

	guard portGuard
}

// NewSystem creates a hardware backend for the current host.
func NewSystem(opts SystemOptions) *System {
	if opts.Baud == 0 {
		opts.Baud = 9600
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 2 * time.Second
	}
	if opts.JobTitle == "" {
		opts.JobTitle = "Ticket"
	}
	if opts.WindowsCOMProbes == 0 {
		opts.WindowsCOMProbes = 9
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		opts:   opts,
		logger: logger.With("component", "device"),
		goos:   runtime.GOOS,
		run:    runCommand,
		open:   openSerial,
		glob:   filepath.Glob,
		now:    time.Now,
	}
}

// Name implements Backend.
func (s *System) Name() string { return "system" }

// Printers implements Backend. Printers come from the CUPS spooler on unix
// and from WMI on Windows.
func (s *System) Printers(ctx context.Context) ([]Descriptor, error) {
	if s.goos == "windows" {
		out, err := s.run(ctx, nil, "wmic", "printer", "get", "Name")
		if err != nil {
			return nil, fmt.Errorf("listing printers: %w", err)
		}
		return parseWMICPrinters(out), nil
	}

	out, err := s.run(ctx, nil, "lpstat", "-p")
	if err != nil {
		return nil, fmt.Errorf("listing printers: %w", err)
	}
	return parseLpstat(out), nil
}

// parseLpstat extracts printers from `lpstat -p` output, e.g.
// "printer EPSON_TM is idle.  enabled since ...".
func parseLpstat(out []byte) []Descriptor {
	var printers []Descriptor
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "printer" {
			continue
		}
		status := "available"
		line := sc.Text()
		switch {
		case strings.Contains(line, "disabled"):
			status = "disabled"
		case strings.Contains(line, "now printing"):
			status = "busy"
		}
		printers = append(printers, Descriptor{Name: fields[1], Status: status, Type: "cups"})
	}
	return printers
}

// parseWMICPrinters extracts names from `wmic printer get Name` output.
func parseWMICPrinters(out []byte) []Descriptor {
	var printers []Descriptor
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if first {
			first = false
			continue
		}
		if name == "" {
			continue
		}
		printers = append(printers, Descriptor{Name: name, Status: "available", Type: "windows"})
	}
	return printers
}

func (s *System) guardPorts(g portGuard) { s.guard = g }

// Scales implements Backend. On Windows COM ports are found by opening
// them; a port held by a read is listed as busy instead.
func (s *System) Scales(ctx context.Context) ([]Descriptor, error) {
	seen := make(map[string]bool)
	busy := make(map[string]bool)
	var ports []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}

	if s.goos == "windows" {
		for i := 1; i <= s.opts.WindowsCOMProbes; i++ {
			name := fmt.Sprintf("COM%d", i)
			present, held := s.checkCOM(name)
			if !present {
				continue
			}
			busy[name] = held
			add(name)
		}
	} else {
		var found []string
		for _, pattern := range scaleGlobs {
			matches, err := s.glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("globbing %s: %w", pattern, err)
			}
			found = append(found, matches...)
		}
		sort.Strings(found)
		for _, p := range found {
			add(p)
		}
	}

	for _, p := range s.opts.ExtraScales {
		add(p)
	}

	out := make([]Descriptor, 0, len(ports))
	for _, p := range ports {
		status := "available"
		if busy[p] {
			status = "busy"
		}
		out = append(out, Descriptor{Port: p, Status: status, Type: "serial"})
	}
	return out, nil
}

// checkCOM opens and closes name while holding its port slot.
func (s *System) checkCOM(name string) (present, busy bool) {
	if s.guard != nil {
		release, ok := s.guard(name)
		if !ok {
			return true, true
		}
		defer release()
	}
	p, err := s.open(name, s.opts.Baud, 100*time.Millisecond)
	if err != nil {
		return false, false
	}
	_ = p.Close()
	return true, false
}

// Print implements Backend. Hosts without a spooler fall back to a
// simulated result so the caller still gets an answer.
func (s *System) Print(ctx context.Context, printer string, data []byte) PrintResult {
	res := PrintResult{Printer: printer, Method: "lp", Bytes: len(data), Timestamp: s.now()}

	_, err := s.run(ctx, data, "lp", "-d", printer, "-t", s.opts.JobTitle)
	switch {
	case err == nil:
		res.Status = StatusSuccess
	case errors.Is(err, exec.ErrNotFound):
		s.logger.Warn("lp not available, simulating print", "printer", printer)
		res.Status = StatusSimulated
		res.Method = "simulated"
	default:
		s.logger.Error("print failed", "printer", printer, "error", err)
		res.Status = StatusError
		res.Error = err.Error()
	}
	return res
}

// ReadScale implements Backend. The scale is polled once: the weight
// request is written and a single response line is read.
func (s *System) ReadScale(ctx context.Context, port string) Reading {
	reading := Reading{Port: port, Unit: DefaultUnit, Timestamp: s.now()}

	p, err := s.open(port, s.opts.Baud, s.opts.ReadTimeout)
	if err != nil {
		reading.Error = fmt.Sprintf("opening %s: %v", port, err)
		return reading
	}
	defer p.Close()

	if _, err := io.WriteString(p, WeightRequest); err != nil {
		reading.Error = fmt.Sprintf("writing to %s: %v", port, err)
		return reading
	}

	deadline := time.Now().Add(s.opts.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	line, err := readLine(p, deadline)
	reading.RawResponse = strings.TrimSpace(line)
	if err != nil && line == "" {
		reading.Error = fmt.Sprintf("reading from %s: %v", port, err)
		return reading
	}

	frame, err := ParseWeight(line)
	if err != nil {
		reading.Error = err.Error()
		return reading
	}
	reading.Weight = frame.Weight
	reading.Unit = frame.Unit
	reading.Stable = frame.Stable
	return reading
}

// errReadTimeout is returned when no newline arrives before the deadline.
var errReadTimeout = errors.New("timed out waiting for scale response")

// readLine reads until a newline or the deadline. Serial reads return
// empty on their own timeout, so the loop re-checks the deadline.
func readLine(r io.Reader, deadline time.Time) (string, error) {
	var line []byte
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			line = append(line, buf[:n]...)
			if i := bytes.IndexByte(line, '\n'); i >= 0 {
				return string(line[:i]), nil
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return string(line), err
		}
		if !time.Now().Before(deadline) {
			return string(line), errReadTimeout
		}
		if n == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func runCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func openSerial(name string, baud int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	return serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
}
