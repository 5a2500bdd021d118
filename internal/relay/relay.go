// ABOUTME: Synchronous relay of device operations from the hub to a registered agent
// ABOUTME: Looks up the callback address, forwards the body verbatim, and classifies failures

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/2389/posbridge/internal/registry"
	"github.com/2389/posbridge/internal/store"
)

// ErrAgentUnknown indicates the target identity is not in the registry.
// No network call is made in that case.
var ErrAgentUnknown = errors.New("agent unknown")

// ErrAgentUnreachable indicates the agent could not produce a usable answer.
var ErrAgentUnreachable = errors.New("agent unreachable")

// maxResponseBytes bounds how much of an agent response is read.
const maxResponseBytes = 1 << 20

// Op is a relayable operation kind.
type Op string

const (
	OpPrint     Op = "print"
	OpReadScale Op = "readScale"
)

// Path returns the agent endpoint that serves op.
func (o Op) Path() string {
	switch o {
	case OpPrint:
		return "/print"
	case OpReadScale:
		return "/scale/read"
	default:
		return ""
	}
}

// UnreachableError describes why a relayed call produced no usable answer.
// It matches ErrAgentUnreachable with errors.Is.
type UnreachableError struct {
	AgentID    string
	Op         Op
	StatusCode int    // set when the agent answered with a non-2xx status
	Body       []byte // the agent's answer when StatusCode is set
	Cause      error
	timeout    bool
}

func (e *UnreachableError) Error() string {
	switch {
	case e.timeout:
		return fmt.Sprintf("agent %s did not answer %s in time: %v", e.AgentID, e.Op, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("agent %s answered %s with status %d", e.AgentID, e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("agent %s unreachable for %s: %v", e.AgentID, e.Op, e.Cause)
	}
}

// Is makes errors.Is(err, ErrAgentUnreachable) true.
func (e *UnreachableError) Is(target error) bool {
	return target == ErrAgentUnreachable
}

// Unwrap returns the underlying cause.
func (e *UnreachableError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the relay deadline expired.
func (e *UnreachableError) Timeout() bool {
	return e.timeout
}

// Result is a successful agent answer, passed through unchanged.
type Result struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Lookup resolves an agent identity to its registry record.
type Lookup interface {
	Get(agentID string) (registry.Record, error)
}

// Journal records relay outcomes. store.Store satisfies it.
type Journal interface {
	RecordOperation(ctx context.Context, op *store.Operation) error
}

// Stats are cumulative relay counters.
type Stats struct {
	Dispatched  int64 `json:"dispatched"`
	Succeeded   int64 `json:"succeeded"`
	Unknown     int64 `json:"unknown_agent"`
	Unreachable int64 `json:"unreachable"`
	TimedOut    int64 `json:"timed_out"`
}

// Options configures a Dispatcher.
type Options struct {
	Lookup       Lookup
	Journal      Journal // optional
	PrintTimeout time.Duration
	ScaleTimeout time.Duration
	Logger       *slog.Logger
	// Transport overrides the HTTP transport. Tests use it.
	Transport http.RoundTripper
}

// Dispatcher forwards operations to agents.
type Dispatcher struct {
	lookup   Lookup
	journal  Journal
	client   *http.Client
	timeouts map[Op]time.Duration
	logger   *slog.Logger

	dispatched  atomic.Int64
	succeeded   atomic.Int64
	unknown     atomic.Int64
	unreachable atomic.Int64
	timedOut    atomic.Int64
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.PrintTimeout <= 0 {
		opts.PrintTimeout = 30 * time.Second
	}
	if opts.ScaleTimeout <= 0 {
		opts.ScaleTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               nil,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &Dispatcher{
		lookup:  opts.Lookup,
		journal: opts.Journal,
		client:  &http.Client{Transport: transport},
		timeouts: map[Op]time.Duration{
			OpPrint:     opts.PrintTimeout,
			OpReadScale: opts.ScaleTimeout,
		},
		logger: opts.Logger,
	}
}

// Timeout returns the relay deadline for op.
func (d *Dispatcher) Timeout(op Op) time.Duration {
	return d.timeouts[op]
}

// Dispatch forwards body to agentID's endpoint for op and waits for the
// answer. It never retries.
//
// Errors: ErrAgentUnknown when the agent was never announced (no network
// call is made); *UnreachableError on refusal, timeout, a non-2xx status
// or a response body that is not JSON. The agent's liveness status is not
// consulted: an offline agent is still attempted.
func (d *Dispatcher) Dispatch(ctx context.Context, agentID string, op Op, body []byte) (*Result, error) {
	path := op.Path()
	if path == "" {
		return nil, fmt.Errorf("unsupported operation %q", op)
	}

	d.dispatched.Add(1)

	rec, err := d.lookup.Get(agentID)
	if err != nil {
		d.unknown.Add(1)
		d.record(ctx, agentID, op, body, nil, store.OutcomeUnknown, 0, 0, ErrAgentUnknown)
		return nil, fmt.Errorf("%w: %s", ErrAgentUnknown, agentID)
	}

	url := "http://" + rec.CallbackAddress + path
	timeout := d.timeouts[op]

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := d.forward(reqCtx, url, body)
	elapsed := time.Since(start)

	if err != nil {
		uerr := &UnreachableError{AgentID: agentID, Op: op, Cause: err}
		var se *statusError
		if errors.As(err, &se) {
			uerr.StatusCode = se.code
			uerr.Body = se.body
		}
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			uerr.timeout = true
		}

		outcome := store.OutcomeUnreachable
		if uerr.timeout {
			outcome = store.OutcomeTimeout
			d.timedOut.Add(1)
		} else {
			d.unreachable.Add(1)
		}

		d.logger.Warn("relay failed",
			"agent_id", agentID,
			"op", op,
			"url", url,
			"timeout", uerr.timeout,
			"elapsed", elapsed,
			"error", err,
		)
		var respBody []byte
		if se != nil {
			respBody = se.body
		}
		d.record(ctx, agentID, op, body, respBody, outcome, uerr.StatusCode, elapsed, uerr)
		return nil, uerr
	}

	res.Duration = elapsed
	d.succeeded.Add(1)
	d.logger.Info("relay completed",
		"agent_id", agentID,
		"op", op,
		"status", res.StatusCode,
		"elapsed", elapsed,
	)
	d.record(ctx, agentID, op, body, res.Body, store.OutcomeOK, res.StatusCode, elapsed, nil)
	return res, nil
}

// statusError carries a non-2xx agent answer.
type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("agent returned status %d", e.code)
}

// errNotJSON marks a 2xx answer whose body is not a JSON document.
var errNotJSON = errors.New("agent response is not JSON")

func (d *Dispatcher) forward(ctx context.Context, url string, body []byte) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{code: resp.StatusCode, body: respBody}
	}
	if !json.Valid(respBody) {
		return nil, errNotJSON
	}

	return &Result{StatusCode: resp.StatusCode, Body: respBody}, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// record writes a journal entry. Journal failures are logged, never returned.
func (d *Dispatcher) record(ctx context.Context, agentID string, op Op, req, resp []byte, outcome string, status int, elapsed time.Duration, opErr error) {
	if d.journal == nil {
		return
	}
	entry := &store.Operation{
		AgentID:    agentID,
		Kind:       string(op),
		Outcome:    outcome,
		StatusCode: status,
		Request:    store.Truncate(req),
		Response:   store.Truncate(resp),
		Duration:   elapsed,
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	// The caller's context may already be done after a timeout.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.journal.RecordOperation(jctx, entry); err != nil {
		d.logger.Error("failed to journal operation", "agent_id", agentID, "op", op, "error", err)
	}
}

// Stats returns a snapshot of the relay counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched:  d.dispatched.Load(),
		Succeeded:   d.succeeded.Load(),
		Unknown:     d.unknown.Load(),
		Unreachable: d.unreachable.Load(),
		TimedOut:    d.timedOut.Load(),
	}
}
