// ABOUTME: Fake agent fleet for E2E testing, announces simulated agents to a hub.
// ABOUTME: Usage: fake-agent [--hub http://localhost:5000] [--count 5] [--serve 127.0.0.1:5001]
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/posbridge/internal/agent"
	"github.com/2389/posbridge/internal/device"
	"github.com/2389/posbridge/internal/logging"
)

func main() {
	var (
		hubURL   string
		count    int
		prefix   string
		interval time.Duration
		serve    string
	)

	cmd := &cobra.Command{
		Use:          "fake-agent",
		Short:        "Announce simulated agents to a hub",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(hubURL, count, prefix, interval, serve)
		},
	}
	cmd.Flags().StringVar(&hubURL, "hub", "http://localhost:5000", "hub base URL")
	cmd.Flags().IntVar(&count, "count", 1, "number of agents to announce")
	cmd.Flags().StringVar(&prefix, "prefix", "e2e-agent", "agent ID prefix")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "heartbeat interval")
	cmd.Flags().StringVar(&serve, "serve", "", "also serve the first agent's device API on this address")

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(hubURL string, count int, prefix string, interval time.Duration, serveAddr string) error {
	if count < 1 {
		return errors.New("count must be at least 1")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := logging.Discard()
	backend := device.NewSimulated([]string{"SIM0", "SIM1"})
	client := &http.Client{}

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i+1)
		hb := agent.NewHeartbeater(agent.HeartbeatConfig{
			HubURL:   hubURL,
			AgentID:  id,
			Platform: "Simulated",
			Interval: interval,
			Timeout:  5 * time.Second,
			Backend:  backend,
			Client:   client,
			Logger:   logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			hb.Run(ctx)
			sent, failed := hb.Counts()
			fmt.Fprintf(os.Stderr, "%s: %d announcements, %d failed\n", id, sent, failed)
		}()
	}
	fmt.Fprintf(os.Stderr, "announcing %d agent(s) to %s every %s\n", count, hubURL, interval)

	if serveAddr != "" {
		ln, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		srv := &http.Server{
			Handler:           agent.NewServer(prefix+"-1", "Simulated", backend, nil, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		fmt.Fprintf(os.Stderr, "serving %s-1 on %s\n", prefix, ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve error: %w", err)
		}
	}

	wg.Wait()
	return nil
}
