// ABOUTME: In-memory table of announced POS agents with derived liveness
// ABOUTME: Upserts announcements, answers lookups, and publishes registry changes

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
)

// ErrInvalidAnnouncement indicates an announcement without an agent identity.
var ErrInvalidAnnouncement = errors.New("invalid announcement")

// ErrAgentNotFound indicates the specified agent was never announced.
var ErrAgentNotFound = errors.New("agent not found")

// Status is the derived liveness of an agent.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DefaultPlatform is reported for agents that did not say what they run on.
const DefaultPlatform = "Unknown"

// Announcement is what an agent sends on every heartbeat. Device entries
// are kept exactly as the agent sent them.
type Announcement struct {
	AgentID   string            `json:"agent_id"`
	Platform  string            `json:"platform,omitempty"`
	Printers  []json.RawMessage `json:"printers"`
	Scales    []json.RawMessage `json:"scales"`
	Timestamp float64           `json:"timestamp,omitempty"`
}

// Record is the registry's view of one agent. Status is not stored; it is
// computed by StatusAt.
type Record struct {
	ID              string
	Platform        string
	Printers        []json.RawMessage
	Scales          []json.RawMessage
	CallbackAddress string
	LastSeen        time.Time
	FirstSeen       time.Time
	Announcements   int
}

// StatusAt reports whether the agent is online at the given instant:
// online iff at - LastSeen < window. At exactly window the agent is offline.
func (r Record) StatusAt(at time.Time, window time.Duration) Status {
	if at.Sub(r.LastSeen) < window {
		return StatusOnline
	}
	return StatusOffline
}

// View is a record paired with its status at listing time.
type View struct {
	Record
	Status Status
}

// Options configures a Registry.
type Options struct {
	OnlineWindow time.Duration
	CallbackPort int
	Logger       *slog.Logger
	// Now overrides the clock. Tests use it to step time.
	Now func() time.Time
}

// Registry holds exactly one record per agent identity behind one lock.
// Records are never removed; silent agents simply go offline.
type Registry struct {
	agents       map[string]*Record
	mu           sync.RWMutex
	onlineWindow time.Duration
	callbackPort int
	now          func() time.Time
	logger       *slog.Logger
	changes      *Broadcaster
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = 60 * time.Second
	}
	if opts.CallbackPort == 0 {
		opts.CallbackPort = 5001
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		agents:       make(map[string]*Record),
		onlineWindow: opts.OnlineWindow,
		callbackPort: opts.CallbackPort,
		now:          opts.Now,
		logger:       opts.Logger,
		changes:      NewBroadcaster(opts.Logger),
	}
}

// OnlineWindow returns the configured liveness window.
func (r *Registry) OnlineWindow() time.Duration {
	return r.onlineWindow
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Announce upserts the record for a.AgentID. The device lists are replaced
// wholesale, never merged. sourceAddr is the network address the
// announcement arrived from; its host plus the configured callback port
// becomes the callback address.
func (r *Registry) Announce(a Announcement, sourceAddr string) error {
	if a.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrInvalidAnnouncement)
	}

	host := hostOnly(sourceAddr)
	if host == "" {
		return fmt.Errorf("%w: no source address", ErrInvalidAnnouncement)
	}

	platform := a.Platform
	if platform == "" {
		platform = DefaultPlatform
	}

	now := r.now()
	rec := &Record{
		ID:              a.AgentID,
		Platform:        platform,
		Printers:        cloneDescriptors(a.Printers),
		Scales:          cloneDescriptors(a.Scales),
		CallbackAddress: net.JoinHostPort(host, strconv.Itoa(r.callbackPort)),
		LastSeen:        now,
		FirstSeen:       now,
		Announcements:   1,
	}

	r.mu.Lock()
	prev, existed := r.agents[a.AgentID]
	if existed {
		rec.FirstSeen = prev.FirstSeen
		rec.Announcements = prev.Announcements + 1
	}
	r.agents[a.AgentID] = rec
	total := len(r.agents)
	snapshot := *rec
	r.mu.Unlock()

	kind := ChangeAnnounced
	if !existed {
		kind = ChangeRegistered
		r.logger.Info("=== AGENT REGISTERED ===",
			"agent_id", rec.ID,
			"platform", rec.Platform,
			"callback", rec.CallbackAddress,
			"printers", len(rec.Printers),
			"scales", len(rec.Scales),
			"total_agents", total,
		)
	} else {
		r.logger.Debug("agent announced",
			"agent_id", rec.ID,
			"callback", rec.CallbackAddress,
			"printers", len(rec.Printers),
			"scales", len(rec.Scales),
		)
	}

	r.changes.Publish(Change{
		Kind:   kind,
		Agent:  View{Record: snapshot, Status: StatusOnline},
		At:     now,
		Source: sourceAddr,
	})
	return nil
}

// Touch refreshes LastSeen for a known agent without changing anything else.
// It reports whether the agent was known.
func (r *Registry) Touch(agentID string) bool {
	now := r.now()

	r.mu.Lock()
	rec, ok := r.agents[agentID]
	if ok {
		rec.LastSeen = now
	}
	var snapshot Record
	if ok {
		snapshot = *rec
	}
	r.mu.Unlock()

	if ok {
		r.changes.Publish(Change{
			Kind:  ChangeTouched,
			Agent: View{Record: snapshot, Status: StatusOnline},
			At:    now,
		})
	}
	return ok
}

// Get returns a copy of the record for agentID.
func (r *Registry) Get(agentID string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.agents[agentID]
	if !ok {
		return Record{}, ErrAgentNotFound
	}
	return *rec, nil
}

// List returns every record with its status computed against at, ordered
// by agent identity.
func (r *Registry) List(at time.Time) []View {
	r.mu.RLock()
	views := make([]View, 0, len(r.agents))
	for _, rec := range r.agents {
		views = append(views, View{Record: *rec, Status: rec.StatusAt(at, r.onlineWindow)})
	}
	r.mu.RUnlock()

	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// CountOnline returns how many agents are online at the given instant.
func (r *Registry) CountOnline(at time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.agents {
		if rec.StatusAt(at, r.onlineWindow) == StatusOnline {
			n++
		}
	}
	return n
}

// Len returns the number of known agents, online or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Subscribe returns a feed of registry changes that ends when ctx is done.
func (r *Registry) Subscribe(ctx context.Context) (<-chan Change, string) {
	return r.changes.Subscribe(ctx)
}

// Close releases subscribers.
func (r *Registry) Close() {
	r.changes.Close()
}

// hostOnly strips the port from addr when present.
func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func cloneDescriptors(in []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(in))
	for i, d := range in {
		out[i] = append(json.RawMessage(nil), d...)
	}
	return out
}
