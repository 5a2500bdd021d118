// ABOUTME: LAN multicast beacon advertising the hub URL to agents
// ABOUTME: Hub side broadcasts with peerdiscovery; agent side listens until a hub answers

package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/schollz/peerdiscovery"
)

// Service names carried in beacons.
const (
	ServiceHub   = "posbridge-hub"
	ServiceAgent = "posbridge-agent"
)

// DefaultPort is the UDP port beacons are exchanged on.
const DefaultPort = 9999

// ErrNoHub is returned when no hub beacon was heard before the deadline.
var ErrNoHub = errors.New("no hub found on the local network")

// Beacon is the multicast payload.
type Beacon struct {
	Service string `json:"service"`
	URL     string `json:"url,omitempty"`
}

// Encode marshals the beacon.
func (b Beacon) Encode() []byte {
	data, _ := json.Marshal(b)
	return data
}

// ParseBeacon decodes a payload. Payloads from other services are rejected.
func ParseBeacon(payload []byte) (Beacon, error) {
	var b Beacon
	if err := json.Unmarshal(payload, &b); err != nil {
		return Beacon{}, fmt.Errorf("decoding beacon: %w", err)
	}
	if b.Service != ServiceHub && b.Service != ServiceAgent {
		return Beacon{}, fmt.Errorf("unknown beacon service %q", b.Service)
	}
	return b, nil
}

// HubURL resolves the URL a hub beacon points at. When the hub advertised an
// unspecified or loopback host, the sender's address is substituted.
func HubURL(b Beacon, sender string) (string, error) {
	if b.Service != ServiceHub {
		return "", fmt.Errorf("beacon is from %q, not a hub", b.Service)
	}
	u, err := url.Parse(b.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("beacon carries invalid url %q", b.URL)
	}

	ip := net.ParseIP(u.Hostname())
	if ip != nil && (ip.IsUnspecified() || ip.IsLoopback()) && sender != "" {
		port := u.Port()
		if port == "" {
			u.Host = sender
		} else {
			u.Host = net.JoinHostPort(sender, port)
		}
	}
	return u.String(), nil
}

// AdvertiseSettings configures the hub beacon.
type AdvertiseSettings struct {
	URL      string
	Port     int
	Interval time.Duration
	Logger   *slog.Logger
}

// Advertise broadcasts the hub URL until ctx is cancelled.
func Advertise(ctx context.Context, s AdvertiseSettings) error {
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Interval <= 0 {
		s.Interval = 5 * time.Second
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "discovery")

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := peerdiscovery.Discover(peerdiscovery.Settings{
			Limit:     -1,
			Port:      strconv.Itoa(s.Port),
			Payload:   Beacon{Service: ServiceHub, URL: s.URL}.Encode(),
			Delay:     s.Interval,
			TimeLimit: -1,
			StopChan:  stop,
			IPVersion: peerdiscovery.IPv4,
		})
		done <- err
	}()

	logger.Info("advertising hub", "url", s.URL, "port", s.Port, "interval", s.Interval)

	select {
	case <-ctx.Done():
		close(stop)
		<-done
		return nil
	case err := <-done:
		if err != nil {
			return fmt.Errorf("hub beacon: %w", err)
		}
		return nil
	}
}

// Find listens for a hub beacon and returns the advertised URL.
func Find(ctx context.Context, port int, timeout time.Duration, logger *slog.Logger) (string, error) {
	if port == 0 {
		port = DefaultPort
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "discovery")

	found := make(chan string, 1)
	stop := make(chan struct{})
	done := make(chan error, 1)

	notify := func(d peerdiscovery.Discovered) {
		b, err := ParseBeacon(d.Payload)
		if err != nil || b.Service != ServiceHub {
			return
		}
		hubURL, err := HubURL(b, d.Address)
		if err != nil {
			logger.Debug("ignoring beacon", "peer", d.Address, "error", err)
			return
		}
		select {
		case found <- hubURL:
		default:
		}
	}

	go func() {
		_, err := peerdiscovery.Discover(peerdiscovery.Settings{
			Limit:     -1,
			Port:      strconv.Itoa(port),
			Payload:   Beacon{Service: ServiceAgent}.Encode(),
			Delay:     time.Second,
			TimeLimit: timeout,
			StopChan:  stop,
			IPVersion: peerdiscovery.IPv4,
			Notify:    notify,
		})
		done <- err
	}()

	logger.Info("looking for a hub", "port", port, "timeout", timeout)

	select {
	case hubURL := <-found:
		close(stop)
		<-done
		logger.Info("hub found", "url", hubURL)
		return hubURL, nil
	case err := <-done:
		select {
		case hubURL := <-found:
			return hubURL, nil
		default:
		}
		if err != nil {
			return "", fmt.Errorf("listening for hub: %w", err)
		}
		return "", ErrNoHub
	case <-ctx.Done():
		close(stop)
		<-done
		return "", ctx.Err()
	}
}
