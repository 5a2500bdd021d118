// ABOUTME: Serializes physical I/O per printer name and per scale port
// ABOUTME: Wraps any Backend so concurrent jobs on one device run one at a time

package device

import (
	"context"
	"fmt"
	"sync"
)

// keyedLock hands out one exclusive slot per key. Waiting honours context
// cancellation.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: make(map[string]chan struct{})}
}

func (k *keyedLock) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.slots[key] = ch
	}
	return ch
}

// acquire blocks until key is free or ctx is done. The returned func
// releases the slot.
func (k *keyedLock) acquire(ctx context.Context, key string) (func(), error) {
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// tryAcquire takes the slot for key only if it is free.
func (k *keyedLock) tryAcquire(key string) (func(), bool) {
	ch := k.slot(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}

// portGuard claims a scale port without waiting. ok is false while the
// port is held by a read.
type portGuard func(port string) (release func(), ok bool)

// portGuarded is implemented by backends whose enumeration opens ports.
type portGuarded interface {
	guardPorts(g portGuard)
}

// Serialized wraps a Backend so that at most one print runs per printer
// and one read runs per scale port at any time.
type Serialized struct {
	Backend
	printers *keyedLock
	scales   *keyedLock
}

// Serialize wraps b with per-device locking. Scale enumeration on b shares
// the per-port locks with ReadScale.
func Serialize(b Backend) *Serialized {
	s := &Serialized{
		Backend:  b,
		printers: newKeyedLock(),
		scales:   newKeyedLock(),
	}
	if g, ok := b.(portGuarded); ok {
		g.guardPorts(s.scales.tryAcquire)
	}
	return s
}

// Print implements Backend.
func (s *Serialized) Print(ctx context.Context, printer string, data []byte) PrintResult {
	release, err := s.printers.acquire(ctx, printer)
	if err != nil {
		return PrintResult{
			Printer: printer,
			Status:  StatusError,
			Error:   fmt.Sprintf("waiting for printer: %v", err),
		}
	}
	defer release()
	return s.Backend.Print(ctx, printer, data)
}

// ReadScale implements Backend.
func (s *Serialized) ReadScale(ctx context.Context, port string) Reading {
	release, err := s.scales.acquire(ctx, port)
	if err != nil {
		return Reading{
			Port:  port,
			Unit:  DefaultUnit,
			Error: fmt.Sprintf("waiting for scale: %v", err),
		}
	}
	defer release()
	return s.Backend.ReadScale(ctx, port)
}
