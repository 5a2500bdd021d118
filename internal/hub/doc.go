// Package hub is the central posbridge server.
//
// # Overview
//
// The hub keeps a registry of POS agents and relays print and scale
// operations to them over HTTP. Agents announce themselves periodically;
// callers address an agent by identity and the hub forwards the request to
// the agent's inbound port.
//
// # Endpoints
//
// Agent-facing:
//
//   - POST /agent/register: announcement (heartbeat)
//   - POST /agent/print-completed, POST /agent/scale-reading: notifications
//
// Caller-facing:
//
//   - GET /agents: every known agent with its derived status
//   - GET /agent/{agent_id}: one agent and its devices
//   - POST /agent/{agent_id}/print, POST /agent/{agent_id}/scale/read: relay
//   - GET /agent/{agent_id}/operations: operation journal
//   - GET /agents/watch: websocket stream of registry changes
//
// Operational:
//
//   - GET /, GET /health, GET /health/ready and the metrics path
//
// # Relay errors
//
// A relayed call either returns the agent's answer unchanged or an error
// envelope {"success": false, "error": "..."}:
//
//	404  agent identity never announced
//	504  agent did not answer within the operation timeout
//	502  agent refused the connection or answered with an error
//
// # Liveness
//
// An agent is online while less than the online window (60s by default) has
// passed since its last announcement. Offline agents stay listed; relays are
// still attempted.
package hub
