// ABOUTME: Tests for the agent's inbound HTTP endpoints
// ABOUTME: Uses httptest recorders over the simulated backend

package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/posbridge/internal/device"
	"github.com/2389/posbridge/internal/logging"
)

// recordingBackend wraps the simulated backend and keeps the last job.
type recordingBackend struct {
	*device.Simulated
	mu       sync.Mutex
	lastData []byte
}

func (b *recordingBackend) Print(ctx context.Context, printer string, data []byte) device.PrintResult {
	b.mu.Lock()
	b.lastData = append([]byte(nil), data...)
	b.mu.Unlock()
	return b.Simulated.Print(ctx, printer, data)
}

// recordingNotifier captures notifications synchronously.
type recordingNotifier struct {
	prints   []device.PrintResult
	readings []device.Reading
}

func (n *recordingNotifier) PrintCompleted(r device.PrintResult) { n.prints = append(n.prints, r) }
func (n *recordingNotifier) ScaleReading(r device.Reading)       { n.readings = append(n.readings, r) }

func newTestServer() (*Server, *recordingBackend, *recordingNotifier) {
	backend := &recordingBackend{Simulated: device.NewSimulated([]string{"COM3"})}
	notifier := &recordingNotifier{}
	return NewServer("agent-1", "Linux", backend, notifier, logging.Discard()), backend, notifier
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestServer_PrintText(t *testing.T) {
	s, backend, notifier := newTestServer()

	rec, out := doRequest(t, s, http.MethodPost, "/print", `{"printer_name":"Demo Printer","content":"hello"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])

	result, ok := out["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Demo Printer", result["printer"])
	assert.Equal(t, device.StatusSimulated, result["status"])

	assert.Equal(t, "hello\n", string(backend.lastData))
	require.Len(t, notifier.prints, 1)
	assert.Equal(t, "Demo Printer", notifier.prints[0].Printer)
}

func TestServer_PrintSale(t *testing.T) {
	s, backend, _ := newTestServer()

	body := `{"printer_name":"P","content":{"items":[{"name":"Coffee","price":2.5,"qty":2}],"total":5}}`
	rec, _ := doRequest(t, s, http.MethodPost, "/print", body)
	require.Equal(t, http.StatusOK, rec.Code)

	text := string(backend.lastData)
	assert.Contains(t, text, "TICKET")
	assert.Contains(t, text, "Coffee")
	assert.Contains(t, text, "TOTAL")
}

func TestServer_PrintEscPos(t *testing.T) {
	s, backend, _ := newTestServer()

	rec, _ := doRequest(t, s, http.MethodPost, "/print", `{"printer_name":"P","content":"x","format":"escpos"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(string(backend.lastData), "\x1b@"))
}

func TestServer_PrintValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "empty body", body: ``, want: "request body is required"},
		{name: "not json", body: `{{`, want: "invalid JSON body"},
		{name: "missing printer", body: `{"content":"hi"}`, want: "printer_name is required"},
		{name: "missing content", body: `{"printer_name":"P"}`, want: "content is required"},
		{name: "bad format", body: `{"printer_name":"P","content":"hi","format":"pdf"}`, want: "format must be text or escpos"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, notifier := newTestServer()
			rec, out := doRequest(t, s, http.MethodPost, "/print", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, out["success"])
			assert.Equal(t, tt.want, out["error"])
			assert.Empty(t, notifier.prints)
		})
	}
}

func TestServer_ReadScale(t *testing.T) {
	s, _, notifier := newTestServer()

	rec, out := doRequest(t, s, http.MethodPost, "/scale/read", `{"scale_port":"COM3"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])

	weight, ok := out["weight"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "COM3", weight["port"])
	assert.InDelta(t, device.SimulatedWeight, weight["weight"], 1e-9)
	assert.Equal(t, "kg", weight["unit"])
	assert.Equal(t, true, weight["simulated"])

	require.Len(t, notifier.readings, 1)
}

func TestServer_ReadScaleMissingPort(t *testing.T) {
	s, _, notifier := newTestServer()

	rec, out := doRequest(t, s, http.MethodPost, "/scale/read", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "scale_port is required", out["error"])
	assert.Empty(t, notifier.readings)
}

func TestServer_DeviceListings(t *testing.T) {
	s, _, _ := newTestServer()

	rec, out := doRequest(t, s, http.MethodGet, "/devices/printers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agent-1", out["agent_id"])
	printers, ok := out["printers"].([]any)
	require.True(t, ok)
	assert.Len(t, printers, 1)

	rec, out = doRequest(t, s, http.MethodGet, "/devices/scales", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	scales, ok := out["scales"].([]any)
	require.True(t, ok)
	assert.Len(t, scales, 1)
}

func TestServer_InfoAndHealth(t *testing.T) {
	s, _, _ := newTestServer()

	rec, out := doRequest(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "agent-1", out["agent_id"])
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, "Linux", out["platform"])
	assert.Equal(t, "simulated", out["backend"])

	rec, out = doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])
}

func TestServer_WrongMethodAndPath(t *testing.T) {
	s, _, _ := newTestServer()

	rec, out := doRequest(t, s, http.MethodGet, "/print", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, false, out["success"])

	rec, _ = doRequest(t, s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_NilNotifier(t *testing.T) {
	s := NewServer("agent-1", "Linux", device.NewSimulated(nil), nil, logging.Discard())
	rec, _ := doRequest(t, s, http.MethodPost, "/scale/read", `{"scale_port":"SIM0"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
