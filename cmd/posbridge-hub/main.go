// ABOUTME: Entry point for posbridge-hub, the central relay server
// ABOUTME: Tracks POS agents and relays print and scale requests to them

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/posbridge/internal/config"
	"github.com/2389/posbridge/internal/hub"
	"github.com/2389/posbridge/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                     _          _     _                  _           _
  _ __   ___  ___   | |__  _ __(_) __| | __ _  ___      | |__  _   _| |__
 | '_ \ / _ \/ __|  | '_ \| '__| |/ _' |/ _' |/ _ \_____| '_ \| | | | '_ \
 | |_) | (_) \__ \  | |_) | |  | | (_| | (_| |  __/_____| | | | |_| | |_) |
 | .__/ \___/|___/  |_.__/|_|  |_|\__,_|\__, |\___|     |_| |_|\__,_|_.__/
 |_|                                    |___/
`

var configPath string

var rootCmd = &cobra.Command{
	Use:           "posbridge-hub",
	Short:         "Relay print and scale requests to POS agents",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.HubConfigPath(), "path to hub config file")
	rootCmd.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newHealthCmd(),
		newAgentsCmd(),
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

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the hub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	if envFile, err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	} else if envFile != "" {
		gray.Printf("    env:     %s\n\n", envFile)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.Setup(cfg.Logging)
	hub.Version = version

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Callback:  port %d\n", cfg.Agents.CallbackPort)

	green.Print("    ▶ ")
	fmt.Printf("Journal:   ")
	if cfg.Database.Path != "" {
		fmt.Println(cfg.Database.Path)
	} else {
		gray.Println("disabled")
	}

	if cfg.Discovery.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Discovery: ")
		cyan.Print(cfg.Server.PublicURL)
		gray.Printf(" (udp/%d)\n", cfg.Discovery.Port)
	}

	fmt.Println()

	logger.Info("starting posbridge-hub",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"callback_port", cfg.Agents.CallbackPort,
	)

	h, err := hub.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating hub: %w", err)
	}

	return h.Run(ctx)
}
