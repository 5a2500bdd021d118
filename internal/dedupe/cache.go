// ABOUTME: Thread-safe TTL window of recently seen notification IDs
// ABOUTME: Lets the hub drop agent notifications that were retried after a lost response

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores when a key was seen and its position in the age list.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Window remembers keys for a fixed TTL, up to maxSize keys. The oldest key
// is forgotten first when the window is full.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a window with the given TTL and capacity. A background
// goroutine sweeps expired keys every sweepEvery; pass 0 for one minute.
func New(ttl time.Duration, maxSize int, sweepEvery time.Duration) *Window {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	w := &Window{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go w.sweepLoop(sweepEvery)
	return w
}

// Seen reports whether key was already seen inside the window, and marks
// it if not. The check and the mark happen under one lock.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if e, ok := w.seen[key]; ok {
		if now.Sub(e.seenAt) < w.ttl {
			return true
		}
		e.seenAt = now
		w.order.MoveToBack(e.element)
		return false
	}

	if len(w.seen) >= w.maxSize {
		w.evictOldest()
	}
	w.seen[key] = &entry{seenAt: now, element: w.order.PushBack(key)}
	return false
}

// Len returns how many keys are currently remembered, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// evictOldest must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, key)
}

func (w *Window) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

// sweep drops expired keys from the front of the age list. Keys are
// appended in time order, so the first live key ends the sweep.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		key, _ := front.Value.(string)
		e := w.seen[key]
		if e == nil || now.Sub(e.seenAt) < w.ttl {
			return
		}
		w.order.Remove(front)
		delete(w.seen, key)
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
