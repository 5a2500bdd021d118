// ABOUTME: Store interface and data types for the hub's operation journal
// ABOUTME: Records every relayed operation and agent notification for later inspection

package store

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Operation kinds.
const (
	KindPrint          = "print"
	KindReadScale      = "readScale"
	KindPrintCompleted = "print_completed"
	KindScaleReading   = "scale_reading"
)

// Operation outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeUnknown     = "unknown_agent"
	OutcomeUnreachable = "unreachable"
	OutcomeTimeout     = "timeout"
	OutcomeNotified    = "notified"
)

// MaxListLimit caps how many journal entries one query returns.
const MaxListLimit = 100

// Operation is one journal entry.
type Operation struct {
	ID             string
	AgentID        string
	Kind           string
	Outcome        string
	NotificationID string // agent-supplied ID, set for notifications only
	StatusCode     int    // agent HTTP status, 0 when the agent never answered
	Error          string // empty on success
	Request        string // request body as sent, possibly truncated
	Response       string // response body as received, possibly truncated
	Duration       time.Duration
	CreatedAt      time.Time
}

// Store defines the interface for journal persistence. The registry itself
// is never persisted.
type Store interface {
	// RecordOperation appends an entry. ID and CreatedAt are filled in when empty.
	RecordOperation(ctx context.Context, op *Operation) error

	// ListOperations returns the newest entries for an agent, newest first.
	// limit is clamped to [1, MaxListLimit].
	ListOperations(ctx context.Context, agentID string, limit int) ([]*Operation, error)

	// CountByOutcome returns the number of entries per outcome.
	CountByOutcome(ctx context.Context) (map[string]int, error)

	// Close closes the store
	Close() error
}

// clampLimit normalizes a list limit.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// maxBodyBytes bounds stored request and response bodies.
const maxBodyBytes = 4096

// Truncate shortens a body for storage. The cut never splits a UTF-8
// sequence.
func Truncate(body []byte) string {
	if len(body) <= maxBodyBytes {
		return string(body)
	}
	cut := maxBodyBytes
	for cut > maxBodyBytes-utf8.UTFMax && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut]) + "...(truncated)"
}
