// ABOUTME: Tests for the relay dispatcher against httptest agents
// ABOUTME: Covers passthrough, unknown agents, refusals, timeouts, bad statuses and journaling

package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/posbridge/internal/logging"
	"github.com/2389/posbridge/internal/registry"
	"github.com/2389/posbridge/internal/store"
)

// staticLookup maps identities to callback addresses.
type staticLookup map[string]string

func (s staticLookup) Get(id string) (registry.Record, error) {
	addr, ok := s[id]
	if !ok {
		return registry.Record{}, registry.ErrAgentNotFound
	}
	return registry.Record{ID: id, CallbackAddress: addr}, nil
}

// countingTransport counts round trips and delegates to the default transport.
type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(r)
}

func newTestDispatcher(lookup Lookup, journal Journal) (*Dispatcher, *countingTransport) {
	ct := &countingTransport{}
	d := New(Options{
		Lookup:       lookup,
		Journal:      journal,
		PrintTimeout: 500 * time.Millisecond,
		ScaleTimeout: 200 * time.Millisecond,
		Logger:       logging.Discard(),
		Transport:    ct,
	})
	return d, ct
}

func agentAddr(srv *httptest.Server) string {
	return srv.Listener.Addr().String()
}

func TestDispatch_PassesBodyBothWays(t *testing.T) {
	var gotPath, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"result":{"printer":"P","status":"success","extra":[1,2]}}`))
	}))
	defer srv.Close()

	journal := store.NewMockStore()
	d, _ := newTestDispatcher(staticLookup{"a1": agentAddr(srv)}, journal)

	body := []byte(`{"printer_name":"P","content":"hi","unknown_field":true}`)
	res, err := d.Dispatch(context.Background(), "a1", OpPrint, body)
	require.NoError(t, err)

	assert.Equal(t, "/print", gotPath)
	assert.Equal(t, string(body), gotBody)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"success":true,"result":{"printer":"P","status":"success","extra":[1,2]}}`, string(res.Body))

	ops := journal.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, store.OutcomeOK, ops[0].Outcome)
	assert.Equal(t, "print", ops[0].Kind)
	assert.Equal(t, 1, int(d.Stats().Succeeded))
}

func TestDispatch_ScalePath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"success":true,"weight":{"weight":1.23}}`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(staticLookup{"a1": agentAddr(srv)}, nil)
	_, err := d.Dispatch(context.Background(), "a1", OpReadScale, []byte(`{"scale_port":"COM3"}`))
	require.NoError(t, err)
	assert.Equal(t, "/scale/read", gotPath)
}

func TestDispatch_UnknownAgentMakesNoCall(t *testing.T) {
	journal := store.NewMockStore()
	d, ct := newTestDispatcher(staticLookup{}, journal)

	_, err := d.Dispatch(context.Background(), "ghost", OpPrint, []byte(`{}`))
	assert.ErrorIs(t, err, ErrAgentUnknown)
	assert.NotErrorIs(t, err, ErrAgentUnreachable)
	assert.Equal(t, int32(0), ct.calls.Load())
	assert.Equal(t, int64(1), d.Stats().Unknown)

	ops := journal.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, store.OutcomeUnknown, ops[0].Outcome)
}

func TestDispatch_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	d, _ := newTestDispatcher(staticLookup{"a1": addr}, nil)

	start := time.Now()
	_, err = d.Dispatch(context.Background(), "a1", OpReadScale, []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAgentUnreachable)
	assert.Less(t, time.Since(start), time.Second)

	var uerr *UnreachableError
	require.True(t, errors.As(err, &uerr))
	assert.False(t, uerr.Timeout())
	assert.Equal(t, "a1", uerr.AgentID)
	assert.NotNil(t, uerr.Cause)
}

func TestDispatch_TimeoutWithinBound(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	journal := store.NewMockStore()
	d, _ := newTestDispatcher(staticLookup{"a1": agentAddr(srv)}, journal)

	start := time.Now()
	_, err := d.Dispatch(context.Background(), "a1", OpReadScale, []byte(`{}`))
	elapsed := time.Since(start)

	require.Error(t, err)
	var uerr *UnreachableError
	require.True(t, errors.As(err, &uerr))
	assert.True(t, uerr.Timeout())
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond+time.Second)
	assert.Equal(t, int64(1), d.Stats().TimedOut)

	ops := journal.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, store.OutcomeTimeout, ops[0].Outcome)
}

func TestDispatch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"printer_name is required"}`))
	}))
	defer srv.Close()

	journal := store.NewMockStore()
	d, _ := newTestDispatcher(staticLookup{"a1": agentAddr(srv)}, journal)

	_, err := d.Dispatch(context.Background(), "a1", OpPrint, []byte(`{}`))
	require.ErrorIs(t, err, ErrAgentUnreachable)

	var uerr *UnreachableError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, http.StatusBadRequest, uerr.StatusCode)
	assert.False(t, uerr.Timeout())
	assert.Contains(t, uerr.Error(), "status 400")

	ops := journal.Operations()
	require.Len(t, ops, 1)
	assert.Contains(t, ops[0].Response, "printer_name is required")
}

func TestDispatch_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>proxy login</html>`))
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(staticLookup{"a1": agentAddr(srv)}, nil)
	_, err := d.Dispatch(context.Background(), "a1", OpPrint, []byte(`{}`))
	assert.ErrorIs(t, err, ErrAgentUnreachable)
}

func TestDispatch_NoRetry(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher(staticLookup{"a1": agentAddr(srv)}, nil)
	_, err := d.Dispatch(context.Background(), "a1", OpPrint, []byte(`{}`))
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatch_UnsupportedOp(t *testing.T) {
	d, ct := newTestDispatcher(staticLookup{"a1": "127.0.0.1:1"}, nil)
	_, err := d.Dispatch(context.Background(), "a1", Op("reboot"), nil)
	require.Error(t, err)
	assert.Equal(t, int32(0), ct.calls.Load())
}

func TestDispatch_JournalFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	journal := store.NewMockStore()
	journal.FailWrites = true
	d, _ := newTestDispatcher(staticLookup{"a1": agentAddr(srv)}, journal)

	_, err := d.Dispatch(context.Background(), "a1", OpPrint, []byte(`{}`))
	assert.NoError(t, err)
}

func TestDispatch_ThroughRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	_, portStr, err := net.SplitHostPort(agentAddr(srv))
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	reg := registry.New(registry.Options{CallbackPort: port, Logger: logging.Discard()})
	require.NoError(t, reg.Announce(registry.Announcement{AgentID: "a1"}, "127.0.0.1:40000"))

	d, _ := newTestDispatcher(reg, nil)
	res, err := d.Dispatch(context.Background(), "a1", OpPrint, []byte(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(res.Body))
}

func TestDefaultTimeouts(t *testing.T) {
	d := New(Options{Lookup: staticLookup{}})
	assert.Equal(t, 30*time.Second, d.Timeout(OpPrint))
	assert.Equal(t, 10*time.Second, d.Timeout(OpReadScale))
}
