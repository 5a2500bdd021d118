// ABOUTME: Tests for per-device serialization of print jobs and scale reads
// ABOUTME: Verifies same-device exclusion, cross-device concurrency and cancellation

package device

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContext returns a context cancelled when the test finishes
// (stand-in for testing.T.Context, which needs Go 1.24).
func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// slowBackend records the peak number of concurrent calls per key.
type slowBackend struct {
	Simulated
	mu      sync.Mutex
	active  map[string]int
	peak    map[string]int
	total   atomic.Int32
	maxSeen atomic.Int32
}

func newSlowBackend() *slowBackend {
	return &slowBackend{
		Simulated: *NewSimulated(nil),
		active:    make(map[string]int),
		peak:      make(map[string]int),
	}
}

func (b *slowBackend) enter(key string) {
	b.mu.Lock()
	b.active[key]++
	if b.active[key] > b.peak[key] {
		b.peak[key] = b.active[key]
	}
	b.mu.Unlock()
	n := b.total.Add(1)
	if n > b.maxSeen.Load() {
		b.maxSeen.Store(n)
	}
}

func (b *slowBackend) leave(key string) {
	b.total.Add(-1)
	b.mu.Lock()
	b.active[key]--
	b.mu.Unlock()
}

func (b *slowBackend) Print(ctx context.Context, printer string, data []byte) PrintResult {
	b.enter(printer)
	defer b.leave(printer)
	time.Sleep(20 * time.Millisecond)
	return PrintResult{Printer: printer, Status: StatusSuccess}
}

func TestSerialize_SamePrinterRunsOneAtATime(t *testing.T) {
	inner := newSlowBackend()
	s := Serialize(inner)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Print(context.Background(), "P1", nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inner.peak["P1"])
}

func TestSerialize_DifferentPrintersOverlap(t *testing.T) {
	inner := newSlowBackend()
	s := Serialize(inner)

	var wg sync.WaitGroup
	for _, p := range []string{"P1", "P2", "P3"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.Print(context.Background(), name, nil)
		}(p)
	}
	wg.Wait()

	assert.Greater(t, inner.maxSeen.Load(), int32(1))
}

func TestSerialize_CancelledWaitReturnsError(t *testing.T) {
	s := Serialize(newSlowBackend())

	release, err := s.printers.acquire(context.Background(), "P1")
	assert.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := s.Print(ctx, "P1", nil)
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "waiting for printer")

	r := s.ReadScale(context.Background(), "SIM0")
	assert.True(t, r.Simulated)
}

// gatedPort blocks reads until gate is closed.
type gatedPort struct {
	gate    chan struct{}
	reply   *strings.Reader
	onClose func()
}

func (p *gatedPort) Read(b []byte) (int, error) {
	<-p.gate
	return p.reply.Read(b)
}

func (p *gatedPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *gatedPort) Close() error {
	p.onClose()
	return nil
}

func TestSerialize_EnumerationSkipsPortInUse(t *testing.T) {
	sys := newTestSystem("windows")
	sys.opts.WindowsCOMProbes = 4

	var (
		mu     sync.Mutex
		inUse  = make(map[string]bool)
		opened = make(chan struct{}, 1)
		gate   = make(chan struct{})
	)
	sys.open = func(name string, baud int, timeout time.Duration) (io.ReadWriteCloser, error) {
		if name != "COM3" {
			return nil, errors.New("no such port")
		}
		mu.Lock()
		defer mu.Unlock()
		if inUse[name] {
			return nil, errors.New("access denied")
		}
		inUse[name] = true
		select {
		case opened <- struct{}{}:
		default:
		}
		return &gatedPort{
			gate:  gate,
			reply: strings.NewReader("ST,GS,  1.23 kg\r\n"),
			onClose: func() {
				mu.Lock()
				inUse[name] = false
				mu.Unlock()
			},
		}, nil
	}
	b := Serialize(sys)

	done := make(chan Reading, 1)
	go func() { done <- b.ReadScale(testContext(t), "COM3") }()
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("read never opened the port")
	}

	scales, err := b.Scales(testContext(t))
	require.NoError(t, err)
	require.Len(t, scales, 1)
	assert.Equal(t, "COM3", scales[0].Port)
	assert.Equal(t, "busy", scales[0].Status)

	close(gate)
	r := <-done
	assert.Empty(t, r.Error)
	assert.InDelta(t, 1.23, r.Weight, 1e-9)

	scales, err = b.Scales(testContext(t))
	require.NoError(t, err)
	require.Len(t, scales, 1)
	assert.Equal(t, "available", scales[0].Status)
}
