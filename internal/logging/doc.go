// Package logging builds the slog.Logger used by every posbridge binary.
//
// Text format renders "15:04:05 INF message key=value" with fatih/color
// highlighting; JSON format uses slog.JSONHandler. Components derive their
// own logger with logger.With("component", name).
package logging
