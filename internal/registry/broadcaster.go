// ABOUTME: In-memory fan-out of registry changes to watchers
// ABOUTME: Non-blocking publish; slow subscribers miss changes instead of stalling announcements

package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// ChangeKind names what happened to an agent record.
type ChangeKind string

const (
	ChangeRegistered ChangeKind = "registered"
	ChangeAnnounced  ChangeKind = "announced"
	ChangeTouched    ChangeKind = "touched"
)

// Change is one registry event.
type Change struct {
	Kind   ChangeKind
	Agent  View
	At     time.Time
	Source string
}

// Broadcaster provides in-memory pub/sub for registry changes.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Change),
		logger:      logger,
	}
}

// Subscribe registers a subscriber. The subscription is cleaned up when ctx
// is cancelled; the returned ID can also be passed to Unsubscribe.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("watcher added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends a change to every subscriber without blocking.
func (b *Broadcaster) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- c:
		default:
			b.logger.Debug("dropped change for slow watcher",
				"sub_id", id,
				"agent_id", c.Agent.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("watcher removed", "sub_id", subID)
}

// Close closes all subscriber channels. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
