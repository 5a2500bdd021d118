// ABOUTME: Agent process wiring: device backend, heartbeat, inbound server and notifier
// ABOUTME: Run blocks until the context is cancelled, then shuts the listener down gracefully

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/posbridge/internal/config"
	"github.com/2389/posbridge/internal/device"
	"github.com/2389/posbridge/internal/discovery"
)

// hotplugDir is where device nodes appear when hardware is plugged in.
const hotplugDir = "/dev"

// Runtime is a running agent.
type Runtime struct {
	cfg      *config.AgentConfig
	logger   *slog.Logger
	id       string
	platform string
	backend  device.Backend

	// set by Run
	hubURL     string
	heartbeat  *Heartbeater
	notifier   *Notifier
	httpServer *http.Server
}

// New creates an agent runtime from configuration.
func New(cfg *config.AgentConfig, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := ResolveIdentity(cfg.Agent.ID)
	logger = logger.With("agent_id", id)

	backend, err := NewBackend(cfg.Devices, logger)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		cfg:      cfg,
		logger:   logger.With("component", "agent"),
		id:       id,
		platform: Platform(),
		backend:  backend,
	}, nil
}

// NewBackend builds the configured device backend. Operations on the same
// printer or scale port are serialized.
func NewBackend(cfg config.DevicesConfig, logger *slog.Logger) (device.Backend, error) {
	switch cfg.Backend {
	case config.BackendSimulated, "":
		return device.Serialize(device.NewSimulated(cfg.Scales)), nil
	case config.BackendSystem:
		return device.Serialize(device.NewSystem(device.SystemOptions{
			ExtraScales: cfg.Scales,
			Baud:        cfg.ScaleBaud,
			ReadTimeout: cfg.ScaleReadTimeout,
			Logger:      logger,
		})), nil
	default:
		return nil, fmt.Errorf("unknown device backend %q", cfg.Backend)
	}
}

// ID returns the agent identity.
func (r *Runtime) ID() string {
	return r.id
}

// Backend returns the device backend in use.
func (r *Runtime) Backend() device.Backend {
	return r.backend
}

// HubURL returns the hub URL, which is known once Run has resolved it.
func (r *Runtime) HubURL() string {
	return r.hubURL
}

// Run listens on the configured address and serves until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Agent.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on agent address: %w", err)
	}
	return r.Serve(ctx, ln)
}

// Serve runs the agent on an existing listener.
func (r *Runtime) Serve(ctx context.Context, ln net.Listener) error {
	hubURL, err := r.resolveHub(ctx)
	if err != nil {
		_ = ln.Close()
		return err
	}
	r.hubURL = hubURL

	client := &http.Client{}
	r.heartbeat = NewHeartbeater(HeartbeatConfig{
		HubURL:   hubURL,
		AgentID:  r.id,
		Platform: r.platform,
		Interval: r.cfg.Agent.HeartbeatInterval,
		Timeout:  r.cfg.Agent.AnnounceTimeout,
		Backend:  r.backend,
		Client:   client,
		Logger:   r.logger.With("component", "heartbeat"),
	})

	var notifier completionNotifier
	if r.cfg.Agent.Notify {
		r.notifier = NewNotifier(hubURL, r.id, r.cfg.Agent.NotifyTimeout, client, r.logger.With("component", "notifier"))
		notifier = r.notifier
	}

	r.httpServer = &http.Server{
		Handler:           NewServer(r.id, r.platform, r.backend, notifier, r.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	r.logger.Info("starting agent",
		"listen_addr", ln.Addr().String(),
		"hub", hubURL,
		"platform", r.platform,
		"backend", r.backend.Name(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.heartbeat.Run(runCtx)
	if r.cfg.Devices.WatchDev {
		go r.watchDevices(runCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := r.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		r.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		r.logger.Error("server error", "error", serverErr)
	}
	cancel()

	shutdownErr := r.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

func (r *Runtime) resolveHub(ctx context.Context) (string, error) {
	if r.cfg.Hub.URL != "" {
		return r.cfg.Hub.URL, nil
	}
	if !r.cfg.Hub.Discover {
		return "", errors.New("no hub URL configured and discovery is disabled")
	}
	hubURL, err := discovery.Find(ctx, r.cfg.Hub.DiscoverPort, r.cfg.Hub.DiscoverTimeout, r.logger)
	if err != nil {
		return "", fmt.Errorf("discovering hub: %w", err)
	}
	return hubURL, nil
}

func (r *Runtime) watchDevices(ctx context.Context) {
	w := device.NewWatcher(hotplugDir, 2*time.Second, r.heartbeat.Trigger, r.logger)
	if err := w.Run(ctx); err != nil {
		r.logger.Warn("device watcher stopped", "error", err)
	}
}

// gracefulShutdown uses a fresh context since the caller's is already done.
func (r *Runtime) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.logger.Info("shutting down agent")
	err := r.httpServer.Shutdown(ctx)

	if r.notifier != nil {
		done := make(chan struct{})
		go func() {
			r.notifier.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			r.logger.Warn("pending hub notifications abandoned")
		}
	}

	if err != nil {
		return fmt.Errorf("HTTP shutdown: %w", err)
	}
	return nil
}
