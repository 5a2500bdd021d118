// ABOUTME: Entry point for posbridge-agent, which runs on each point-of-sale machine
// ABOUTME: Announces local printers and scales to the hub and serves print and scale requests

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/posbridge/internal/agent"
	"github.com/2389/posbridge/internal/config"
	"github.com/2389/posbridge/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

var (
	configPath string

	flagHub      string
	flagID       string
	flagListen   string
	flagSimulate bool
)

var rootCmd = &cobra.Command{
	Use:           "posbridge-agent",
	Short:         "Expose local POS printers and scales to a posbridge hub",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.AgentConfigPath(), "path to agent config file")
	rootCmd.PersistentFlags().BoolVar(&flagSimulate, "simulate", false, "use simulated devices regardless of config")
	rootCmd.AddCommand(
		newRunCmd(),
		newDevicesCmd(),
		newPrintCmd(),
		newScaleCmd(),
	)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&flagHub, "hub", "", "hub base URL, overrides hub.url")
	cmd.Flags().StringVar(&flagID, "id", "", "agent identity, overrides agent.id")
	cmd.Flags().StringVar(&flagListen, "listen", "", "listen address, overrides agent.listen_addr")
	return cmd
}

// loadConfig reads the agent config and applies command line overrides.
func loadConfig() (*config.AgentConfig, error) {
	if _, err := config.LoadDotEnv(); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if flagHub != "" {
		cfg.Hub.URL = flagHub
	}
	if flagID != "" {
		cfg.Agent.ID = flagID
	}
	if flagListen != "" {
		cfg.Agent.ListenAddr = flagListen
	}
	if flagSimulate {
		cfg.Devices.Backend = config.BackendSimulated
	}
	return cfg, nil
}

func runAgent(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)

	rt, err := agent.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)

	color.New(color.FgCyan, color.Bold).Println("posbridge-agent")
	gray.Printf("    version: %s\n\n", version)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agent:    %s (%s)\n", rt.ID(), agent.Platform())
	green.Print("    ▶ ")
	fmt.Printf("Listen:   %s\n", cfg.Agent.ListenAddr)
	green.Print("    ▶ ")
	fmt.Printf("Devices:  %s\n", rt.Backend().Name())
	green.Print("    ▶ ")
	if cfg.Hub.URL != "" {
		fmt.Printf("Hub:      %s\n", cfg.Hub.URL)
	} else {
		fmt.Printf("Hub:      ")
		gray.Printf("discover on udp/%d\n", cfg.Hub.DiscoverPort)
	}
	fmt.Println()

	return rt.Run(ctx)
}
