// ABOUTME: Local device subcommands that drive the backend without a hub
// ABOUTME: devices lists printers and scales, print and scale exercise them directly

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/posbridge/internal/agent"
	"github.com/2389/posbridge/internal/device"
	"github.com/2389/posbridge/internal/logging"
	"github.com/2389/posbridge/internal/ticket"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List local printers and scales",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := localBackend()
			if err != nil {
				return err
			}
			return listDevices(cmd.Context(), os.Stdout, backend)
		},
	}
}

func newPrintCmd() *cobra.Command {
	var (
		printer string
		text    string
		escpos  bool
	)
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Send a test ticket to a local printer",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := localBackend()
			if err != nil {
				return err
			}
			result, err := printTicket(cmd.Context(), backend, printer, text, escpos)
			if err != nil {
				return err
			}
			return reportJSON(os.Stdout, result, result.Status == device.StatusError)
		},
	}
	cmd.Flags().StringVarP(&printer, "printer", "p", "", "printer name")
	cmd.Flags().StringVar(&text, "text", "posbridge test ticket\n", "ticket text, or a JSON sale object")
	cmd.Flags().BoolVar(&escpos, "escpos", false, "wrap the ticket in ESC/POS init and cut codes")
	_ = cmd.MarkFlagRequired("printer")
	return cmd
}

func newScaleCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "scale",
		Short: "Read a local scale once",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := localBackend()
			if err != nil {
				return err
			}
			reading := backend.ReadScale(cmd.Context(), port)
			return reportJSON(os.Stdout, reading, reading.Error != "")
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "scale serial port")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

func localBackend() (device.Backend, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return agent.NewBackend(cfg.Devices, logging.Setup(cfg.Logging))
}

func listDevices(ctx context.Context, out io.Writer, backend device.Backend) error {
	printers, err := backend.Printers(ctx)
	if err != nil {
		return fmt.Errorf("listing printers: %w", err)
	}
	scales, err := backend.Scales(ctx)
	if err != nil {
		return fmt.Errorf("listing scales: %w", err)
	}

	bold := color.New(color.Bold)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	bold.Fprintf(out, "Printers (%s)\n", backend.Name())
	if len(printers) == 0 {
		fmt.Fprintln(out, "  none found")
	}
	for _, p := range printers {
		fmt.Fprintf(tw, "  %s\t%s\n", p.Name, p.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	bold.Fprintf(out, "Scales (%s)\n", backend.Name())
	if len(scales) == 0 {
		fmt.Fprintln(out, "  none found")
	}
	for _, s := range scales {
		fmt.Fprintf(tw, "  %s\t%s\n", s.Port, s.Type)
	}
	return tw.Flush()
}

// printTicket formats text the same way the agent's /print endpoint does
// and prints it.
func printTicket(ctx context.Context, backend device.Backend, printer, text string, escpos bool) (device.PrintResult, error) {
	content, err := json.Marshal(text)
	if err != nil {
		return device.PrintResult{}, err
	}
	if strings.HasPrefix(strings.TrimSpace(text), "{") && json.Valid([]byte(text)) {
		content = json.RawMessage(text)
	}

	data, err := ticket.Format(content)
	if err != nil {
		return device.PrintResult{}, fmt.Errorf("formatting ticket: %w", err)
	}
	if escpos {
		data = ticket.EscPos(data)
	}
	return backend.Print(ctx, printer, data), nil
}

func reportJSON(out io.Writer, v any, failed bool) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if failed {
		return fmt.Errorf("device operation failed")
	}
	return nil
}
