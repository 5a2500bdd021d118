// Package agent runs the device-side half of posbridge.
//
// # Overview
//
// An agent lives on a machine with printers and scales attached. It tells the
// hub it exists, and serves the requests the hub relays to it.
//
// # Heartbeat
//
// The Heartbeater posts an announcement to the hub's /agent/register endpoint
// right away and then on a fixed interval:
//
//	Interval: 30s (configurable)
//	Timeout:  10s per announcement (configurable)
//
// Each announcement carries the full printer and scale inventory. A failed
// announcement is logged and the next one happens on schedule; there is no
// backoff. Trigger asks for an early announcement, which the device watcher
// uses when hardware is plugged in.
//
// # Inbound endpoints
//
// Server answers the hub's callbacks:
//
//   - POST /print: format the content as a ticket and send it to a printer
//   - POST /scale/read: take one weight reading
//   - GET /devices/printers, GET /devices/scales: current inventory
//   - GET /, GET /health: identity and liveness
//
// # Notifications
//
// After a print or scale read, the Notifier posts the outcome to the hub in
// the background. Each notification gets a fresh ID and is retried once under
// that ID, so the hub can drop the duplicate.
//
// # Identity
//
// An agent's identity is fixed for the life of the process. Unless pinned in
// configuration it is derived from the hostname, the start time and a random
// suffix.
package agent
