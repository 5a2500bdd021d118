// ABOUTME: Tests for beacon encoding and hub URL resolution
// ABOUTME: Multicast itself is not exercised; it needs a real network

package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeaconRoundTrip(t *testing.T) {
	b := Beacon{Service: ServiceHub, URL: "http://10.0.0.5:5000"}
	got, err := ParseBeacon(b.Encode())
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestParseBeacon_Rejects(t *testing.T) {
	_, err := ParseBeacon([]byte("not json"))
	assert.Error(t, err)

	_, err = ParseBeacon([]byte(`{"service":"dtn7"}`))
	assert.Error(t, err)
}

func TestHubURL(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		sender string
		want   string
		err    bool
	}{
		{name: "routable host kept", url: "http://10.0.0.5:5000", sender: "10.0.0.9", want: "http://10.0.0.5:5000"},
		{name: "unspecified host replaced", url: "http://0.0.0.0:5000", sender: "10.0.0.9", want: "http://10.0.0.9:5000"},
		{name: "loopback replaced", url: "http://127.0.0.1:5000", sender: "10.0.0.9", want: "http://10.0.0.9:5000"},
		{name: "hostname kept", url: "https://hub.local", sender: "10.0.0.9", want: "https://hub.local"},
		{name: "no scheme", url: "10.0.0.5:5000", err: true},
		{name: "empty", url: "", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HubURL(Beacon{Service: ServiceHub, URL: tt.url}, tt.sender)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHubURL_AgentBeacon(t *testing.T) {
	_, err := HubURL(Beacon{Service: ServiceAgent}, "10.0.0.9")
	assert.Error(t, err)
}
