// ABOUTME: Tests for agent CLI helpers
// ABOUTME: Uses the simulated backend so no hardware is needed

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/posbridge/internal/config"
	"github.com/2389/posbridge/internal/device"
)

// testContext returns a context cancelled when the test finishes
// (stand-in for testing.T.Context, which needs Go 1.24).
func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

type capturingBackend struct {
	*device.Simulated
	data []byte
}

func (b *capturingBackend) Print(ctx context.Context, printer string, data []byte) device.PrintResult {
	b.data = data
	return b.Simulated.Print(ctx, printer, data)
}

func TestListDevices(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	require.NoError(t, listDevices(testContext(t), &buf, device.NewSimulated([]string{"COM3"})))

	out := buf.String()
	assert.Contains(t, out, "Printers (simulated)")
	assert.Contains(t, out, device.SimulatedPrinter)
	assert.Contains(t, out, "Scales (simulated)")
	assert.Contains(t, out, "COM3")
}

func TestPrintTicket_PlainText(t *testing.T) {
	b := &capturingBackend{Simulated: device.NewSimulated(nil)}

	res, err := printTicket(testContext(t), b, "P1", "hello", false)
	require.NoError(t, err)
	assert.Equal(t, "P1", res.Printer)
	assert.Equal(t, device.StatusSimulated, res.Status)
	assert.Equal(t, "hello\n", string(b.data))
}

func TestPrintTicket_SaleJSON(t *testing.T) {
	b := &capturingBackend{Simulated: device.NewSimulated(nil)}

	_, err := printTicket(testContext(t), b, "P1", `{"items":[{"name":"Coffee","price":2.5}]}`, false)
	require.NoError(t, err)
	assert.Contains(t, string(b.data), "Coffee")
}

func TestPrintTicket_EscPos(t *testing.T) {
	b := &capturingBackend{Simulated: device.NewSimulated(nil)}

	_, err := printTicket(testContext(t), b, "P1", "hi", true)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b.data, []byte{0x1b, '@'}))
}

func TestPrintTicket_Empty(t *testing.T) {
	_, err := printTicket(testContext(t), device.NewSimulated(nil), "P1", "   ", false)
	assert.Error(t, err)
}

func TestReportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, reportJSON(&buf, map[string]int{"a": 1}, false))
	assert.Contains(t, buf.String(), `"a": 1`)

	assert.Error(t, reportJSON(&buf, map[string]int{}, true))
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[hub]
url = "http://hub:5000"

[devices]
backend = "system"
`), 0o600))

	configPath = path
	flagHub, flagID, flagSimulate = "http://other:5000", "till-9", true
	t.Cleanup(func() {
		configPath = config.AgentConfigPath()
		flagHub, flagID, flagSimulate = "", "", false
	})

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://other:5000", cfg.Hub.URL)
	assert.Equal(t, "till-9", cfg.Agent.ID)
	assert.Equal(t, config.BackendSimulated, cfg.Devices.Backend)
}
