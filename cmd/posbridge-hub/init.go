// ABOUTME: Interactive hub config file generation
// ABOUTME: Prompts for each setting and writes a YAML file the hub can load

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(bufio.NewReader(os.Stdin), os.Stdout)
		},
	}
}

// hubAnswers holds everything runInit asks for.
type hubAnswers struct {
	HTTPAddr     string
	PublicURL    string
	CallbackPort string
	DBPath       string
	Discovery    bool
	LogLevel     string
	LogFormat    string
}

func runInit(reader *bufio.Reader, out io.Writer) error {
	fmt.Fprintln(out, "posbridge-hub configuration setup")
	fmt.Fprintln(out, "=================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", configPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a hubAnswers

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, out, "HTTP address", "0.0.0.0:5000")
	a.CallbackPort = prompt(reader, out, "Agent callback port", "5001")

	fmt.Fprintln(out, "\n--- Journal Configuration ---")
	a.DBPath = prompt(reader, out, "SQLite journal path (leave empty to disable)", "")

	fmt.Fprintln(out, "\n--- Discovery Configuration ---")
	a.Discovery = yes(prompt(reader, out, "Advertise hub on the LAN?", "no"))
	if a.Discovery {
		a.PublicURL = prompt(reader, out, "Public URL agents should use", "http://"+a.HTTPAddr)
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, out, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderHubConfig(a)), 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(a.DBPath), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintf(out, "  posbridge-hub serve --config %s\n", outputFile)
	return nil
}

func renderHubConfig(a hubAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# posbridge-hub configuration\n")
	cfg.WriteString("# Generated by posbridge-hub init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	if a.PublicURL != "" {
		fmt.Fprintf(&cfg, "  public_url: %q\n", a.PublicURL)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	cfg.WriteString("\n")

	cfg.WriteString("agents:\n")
	fmt.Fprintf(&cfg, "  callback_port: %s\n", a.CallbackPort)
	cfg.WriteString("  online_window: \"60s\"\n")
	cfg.WriteString("  dedupe_window: \"10m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("relay:\n")
	cfg.WriteString("  print_timeout: \"30s\"\n")
	cfg.WriteString("  scale_timeout: \"10s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("discovery:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.Discovery)
	cfg.WriteString("  port: 9999\n")
	cfg.WriteString("  interval: \"5s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")
	return cfg.String()
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}
