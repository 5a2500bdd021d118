// ABOUTME: Hub server wiring: registry, relay, journal, dedupe window and HTTP surface
// ABOUTME: Run blocks until the context is cancelled, then shuts everything down gracefully

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"

	"github.com/2389/posbridge/internal/config"
	"github.com/2389/posbridge/internal/dedupe"
	"github.com/2389/posbridge/internal/discovery"
	"github.com/2389/posbridge/internal/registry"
	"github.com/2389/posbridge/internal/relay"
	"github.com/2389/posbridge/internal/store"
)

// Version is reported by the service info endpoint.
var Version = "dev"

// dedupeCapacity bounds how many notification IDs are remembered.
const dedupeCapacity = 100_000

// Hub is the central posbridge server.
type Hub struct {
	config     *config.Config
	logger     *slog.Logger
	registry   *registry.Registry
	relay      *relay.Dispatcher
	journal    store.Store // nil when no database is configured
	dedupe     *dedupe.Window
	health     resourceSampler
	upgrader   websocket.Upgrader
	router     *mux.Router
	httpServer *http.Server
	serverID   string
	started    time.Time
}

// initStore opens the journal when a database path is configured.
func initStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening operation journal: %w", err)
	}
	return s, nil
}

// New creates a Hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	journal, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(registry.Options{
		OnlineWindow: cfg.Agents.OnlineWindow,
		CallbackPort: cfg.Agents.CallbackPort,
		Logger:       logger.With("component", "registry"),
	})

	relayOpts := relay.Options{
		Lookup:       reg,
		PrintTimeout: cfg.Relay.PrintTimeout,
		ScaleTimeout: cfg.Relay.ScaleTimeout,
		Logger:       logger.With("component", "relay"),
	}
	if journal != nil {
		relayOpts.Journal = journal
	}

	h := &Hub{
		config:   cfg,
		logger:   logger.With("component", "hub"),
		registry: reg,
		relay:    relay.New(relayOpts),
		journal:  journal,
		dedupe:   dedupe.New(cfg.Agents.DedupeWindow, dedupeCapacity, 0),
		health:   sampleHost,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		serverID: generateServerID(),
		started:  time.Now(),
	}
	h.upgrader.CheckOrigin = h.checkWatchOrigin
	h.router = h.routes()

	h.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return h, nil
}

// Handler returns the hub's HTTP handler.
func (h *Hub) Handler() http.Handler {
	return h.router
}

// Registry returns the agent registry.
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// Run listens on the configured address and serves until ctx is cancelled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("starting hub", "http_addr", h.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", h.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return h.Serve(ctx, ln)
}

// Serve runs the hub on an existing listener.
func (h *Hub) Serve(ctx context.Context, ln net.Listener) error {
	errCh := h.startServers(ctx, ln)
	serverErr := h.waitForShutdownSignal(ctx, errCh)

	shutdownErr := h.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServers starts the HTTP server and the discovery beacon in goroutines.
func (h *Hub) startServers(ctx context.Context, ln net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		h.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := h.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if h.config.Discovery.Enabled {
		go func() {
			err := discovery.Advertise(ctx, discovery.AdvertiseSettings{
				URL:      h.config.Server.PublicURL,
				Port:     h.config.Discovery.Port,
				Interval: h.config.Discovery.Interval,
				Logger:   h.logger,
			})
			if err != nil {
				h.logger.Warn("discovery beacon stopped", "error", err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (h *Hub) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		h.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		h.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown uses a fresh context since the caller's is already done.
func (h *Hub) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Shutdown(ctx)
}

// Shutdown stops the HTTP server and releases every component.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info("shutting down hub")

	var result *multierror.Error
	if err := h.httpServer.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("HTTP shutdown: %w", err))
	}

	h.registry.Close()
	h.dedupe.Close()

	if h.journal != nil {
		if err := h.journal.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("journal close: %w", err))
		}
	}

	return result.ErrorOrNil()
}

// generateServerID creates a unique identifier for this hub instance.
func generateServerID() string {
	return "posbridge-hub-" + uuid.New().String()
}
