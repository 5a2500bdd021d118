// ABOUTME: Periodic announcement of the agent and its device inventory to the hub
// ABOUTME: Fixed interval, bounded timeout, failures logged and the loop carries on

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/2389/posbridge/internal/device"
)

// Announcement is the body the agent posts to /agent/register.
type Announcement struct {
	AgentID   string              `json:"agent_id"`
	Platform  string              `json:"platform,omitempty"`
	Printers  []device.Descriptor `json:"printers"`
	Scales    []device.Descriptor `json:"scales"`
	Timestamp float64             `json:"timestamp,omitempty"`
}

// HeartbeatConfig configures a Heartbeater.
type HeartbeatConfig struct {
	HubURL   string
	AgentID  string
	Platform string
	Interval time.Duration
	Timeout  time.Duration
	Backend  device.Backend
	Client   *http.Client
	Logger   *slog.Logger
	Now      func() time.Time
}

// Heartbeater announces the agent to the hub on a fixed interval.
type Heartbeater struct {
	cfg     HeartbeatConfig
	client  *http.Client
	logger  *slog.Logger
	trigger chan struct{}

	sent   atomic.Int64
	failed atomic.Int64
}

// NewHeartbeater creates a Heartbeater.
func NewHeartbeater(cfg HeartbeatConfig) *Heartbeater {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	cfg.HubURL = strings.TrimRight(cfg.HubURL, "/")
	return &Heartbeater{
		cfg:     cfg,
		client:  client,
		logger:  cfg.Logger,
		trigger: make(chan struct{}, 1),
	}
}

// Run announces immediately, then every interval, until ctx is done.
// A failed announcement is logged and the next one happens on schedule.
func (h *Heartbeater) Run(ctx context.Context) {
	h.logger.Info("heartbeat started", "hub", h.cfg.HubURL, "interval", h.cfg.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		case <-timer.C:
		case <-h.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			h.logger.Debug("early announcement requested")
		}

		if err := h.Announce(ctx); err != nil && ctx.Err() == nil {
			h.logger.Warn("announcement failed", "error", err)
		}
		timer.Reset(h.cfg.Interval)
	}
}

// Trigger requests an announcement ahead of schedule. It never blocks;
// requests made while one is pending are merged.
func (h *Heartbeater) Trigger() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

// Snapshot gathers the current announcement. Enumeration failures are
// logged and reported as empty lists.
func (h *Heartbeater) Snapshot(ctx context.Context) Announcement {
	printers, err := h.cfg.Backend.Printers(ctx)
	if err != nil {
		h.logger.Warn("printer enumeration failed", "error", err)
		printers = nil
	}
	scales, err := h.cfg.Backend.Scales(ctx)
	if err != nil {
		h.logger.Warn("scale enumeration failed", "error", err)
		scales = nil
	}
	if printers == nil {
		printers = []device.Descriptor{}
	}
	if scales == nil {
		scales = []device.Descriptor{}
	}

	now := h.cfg.Now()
	return Announcement{
		AgentID:   h.cfg.AgentID,
		Platform:  h.cfg.Platform,
		Printers:  printers,
		Scales:    scales,
		Timestamp: float64(now.UnixNano()) / 1e9,
	}
}

// Announce sends one announcement and waits at most the configured timeout.
func (h *Heartbeater) Announce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	ann := h.Snapshot(ctx)
	body, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("encoding announcement: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.HubURL+"/agent/register", bytes.NewReader(body))
	if err != nil {
		h.failed.Add(1)
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.failed.Add(1)
		return fmt.Errorf("posting announcement: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		h.failed.Add(1)
		return fmt.Errorf("hub answered announcement with status %d", resp.StatusCode)
	}

	h.sent.Add(1)
	h.logger.Debug("announced",
		"printers", len(ann.Printers),
		"scales", len(ann.Scales),
	)
	return nil
}

// Counts returns how many announcements succeeded and failed.
func (h *Heartbeater) Counts() (sent, failed int64) {
	return h.sent.Load(), h.failed.Load()
}
