// ABOUTME: Client subcommands that query a running hub over HTTP
// ABOUTME: health checks the hub, agents prints the registry as a table

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/posbridge/internal/config"
	"github.com/2389/posbridge/internal/hub"
)

var hubURLFlag string

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check hub health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&hubURLFlag, "url", "", "hub base URL (default derived from config)")
	return cmd
}

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgents(cmd.Context(), os.Stdout)
		},
	}
	cmd.Flags().StringVar(&hubURLFlag, "url", "", "hub base URL (default derived from config)")
	return cmd
}

// hubBaseURL returns the URL client commands talk to. Without --url it is
// derived from server.http_addr, with a wildcard host replaced by loopback.
func hubBaseURL() (string, error) {
	if hubURLFlag != "" {
		return hubURLFlag, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("loading config: %w", err)
	}
	return localURL(cfg.Server.HTTPAddr), nil
}

func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func get(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func runHealth(ctx context.Context) error {
	base, err := hubBaseURL()
	if err != nil {
		return err
	}

	body, status, err := get(ctx, base+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	var health struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(body, &health)

	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	switch health.Status {
	case "warning":
		color.Yellow("warning")
	default:
		color.Green("healthy")
	}
	return nil
}

func runAgents(ctx context.Context, out io.Writer) error {
	base, err := hubBaseURL()
	if err != nil {
		return err
	}

	body, status, err := get(ctx, base+"/agents")
	if err != nil {
		return fmt.Errorf("listing agents failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing agents failed: status %d", status)
	}

	var list hub.ListAgentsResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return fmt.Errorf("decoding agents: %w", err)
	}

	return printAgents(out, list, time.Now())
}

func printAgents(out io.Writer, list hub.ListAgentsResponse, now time.Time) error {
	if list.Total == 0 {
		fmt.Fprintln(out, "no agents registered")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tPLATFORM\tSTATUS\tLAST SEEN\tPRINTERS\tSCALES")
	for _, a := range list.Agents {
		status := color.RedString(a.Status)
		if a.Status == "online" {
			status = color.GreenString(a.Status)
		}
		sec, frac := math.Modf(a.LastSeen)
		seen := time.Unix(int64(sec), int64(frac*float64(time.Second)))
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s ago\t%d\t%d\n",
			a.AgentID, a.Platform, status,
			now.Sub(seen).Round(time.Second), a.PrintersCount, a.ScalesCount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d agent(s)\n", list.Total)
	return nil
}
