// ABOUTME: HTTP API handlers for agent registration, listing and relayed device operations
// ABOUTME: Maps relay errors onto 404/502/504 JSON envelopes

package hub

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/2389/posbridge/internal/registry"
	"github.com/2389/posbridge/internal/relay"
)

// maxRequestBytes bounds inbound request bodies.
const maxRequestBytes = 1 << 20

// RegisterResponse is the JSON response for POST /agent/register.
type RegisterResponse struct {
	Success bool   `json:"success"`
	AgentID string `json:"agent_id"`
	Message string `json:"message"`
}

// AgentSummary is one row of GET /agents.
type AgentSummary struct {
	AgentID       string  `json:"agent_id"`
	Platform      string  `json:"platform"`
	Status        string  `json:"status"`
	LastSeen      float64 `json:"last_seen"`
	PrintersCount int     `json:"printers_count"`
	ScalesCount   int     `json:"scales_count"`
}

// ListAgentsResponse is the JSON response for GET /agents.
type ListAgentsResponse struct {
	Success bool           `json:"success"`
	Agents  []AgentSummary `json:"agents"`
	Total   int            `json:"total"`
}

// AgentDetail is the JSON form of one agent for GET /agent/{agent_id}.
type AgentDetail struct {
	AgentID         string            `json:"agent_id"`
	Platform        string            `json:"platform"`
	Status          string            `json:"status"`
	LastSeen        float64           `json:"last_seen"`
	FirstSeen       float64           `json:"first_seen"`
	CallbackAddress string            `json:"callback_address"`
	Announcements   int               `json:"announcements"`
	Printers        []json.RawMessage `json:"printers"`
	Scales          []json.RawMessage `json:"scales"`
}

// OperationResponse is one journal entry for GET /agent/{agent_id}/operations.
type OperationResponse struct {
	ID             string  `json:"id"`
	Kind           string  `json:"kind"`
	Outcome        string  `json:"outcome"`
	NotificationID string  `json:"notification_id,omitempty"`
	StatusCode     int     `json:"status_code,omitempty"`
	Error          string  `json:"error,omitempty"`
	DurationMS     int64   `json:"duration_ms"`
	CreatedAt      float64 `json:"created_at"`
}

// unixSeconds renders t as float Unix seconds.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// sourceAddr returns the address an agent announcement came from.
func (h *Hub) sourceAddr(r *http.Request) string {
	if h.config.Agents.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	return r.RemoteAddr
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	return body, nil
}

// handleRegister handles POST /agent/register.
func (h *Hub) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ann registry.Announcement
	if err := json.Unmarshal(body, &ann); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.registry.Announce(ann, h.sourceAddr(r)); err != nil {
		if errors.Is(err, registry.ErrInvalidAnnouncement) {
			sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to register agent", "agent_id", ann.AgentID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to register agent")
		return
	}

	writeJSON(w, http.StatusOK, RegisterResponse{
		Success: true,
		AgentID: ann.AgentID,
		Message: "agent registered",
	})
}

// handleListAgents handles GET /agents.
func (h *Hub) handleListAgents(w http.ResponseWriter, r *http.Request) {
	views := h.registry.List(h.registry.Now())

	agents := make([]AgentSummary, 0, len(views))
	for _, v := range views {
		agents = append(agents, AgentSummary{
			AgentID:       v.ID,
			Platform:      v.Platform,
			Status:        string(v.Status),
			LastSeen:      unixSeconds(v.LastSeen),
			PrintersCount: len(v.Printers),
			ScalesCount:   len(v.Scales),
		})
	}

	writeJSON(w, http.StatusOK, ListAgentsResponse{
		Success: true,
		Agents:  agents,
		Total:   len(agents),
	})
}

// handleGetAgent handles GET /agent/{agent_id}.
func (h *Hub) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	rec, err := h.registry.Get(agentID)
	if err != nil {
		sendJSONError(w, http.StatusNotFound, "agent not found: "+agentID)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"agent":   toDetail(rec, rec.StatusAt(h.registry.Now(), h.registry.OnlineWindow())),
	})
}

func toDetail(rec registry.Record, status registry.Status) AgentDetail {
	return AgentDetail{
		AgentID:         rec.ID,
		Platform:        rec.Platform,
		Status:          string(status),
		LastSeen:        unixSeconds(rec.LastSeen),
		FirstSeen:       unixSeconds(rec.FirstSeen),
		CallbackAddress: rec.CallbackAddress,
		Announcements:   rec.Announcements,
		Printers:        rec.Printers,
		Scales:          rec.Scales,
	}
}

// handleRelayPrint handles POST /agent/{agent_id}/print.
func (h *Hub) handleRelayPrint(w http.ResponseWriter, r *http.Request) {
	h.relayOperation(w, r, relay.OpPrint)
}

// handleRelayScale handles POST /agent/{agent_id}/scale/read.
func (h *Hub) handleRelayScale(w http.ResponseWriter, r *http.Request) {
	h.relayOperation(w, r, relay.OpReadScale)
}

// relayOperation forwards the request body to the agent and writes the
// agent's answer back unchanged.
func (h *Hub) relayOperation(w http.ResponseWriter, r *http.Request, op relay.Op) {
	agentID := mux.Vars(r)["agent_id"]

	body, err := readBody(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.relay.Dispatch(r.Context(), agentID, op, body)
	if err != nil {
		h.writeRelayError(w, agentID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
}

// writeRelayError maps a dispatch failure onto an error envelope.
func (h *Hub) writeRelayError(w http.ResponseWriter, agentID string, err error) {
	if errors.Is(err, relay.ErrAgentUnknown) {
		sendJSONError(w, http.StatusNotFound, "agent not found: "+agentID)
		return
	}

	var uerr *relay.UnreachableError
	if !errors.As(err, &uerr) {
		h.logger.Error("relay failed", "agent_id", agentID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if uerr.Timeout() {
		sendJSONError(w, http.StatusGatewayTimeout, "agent did not respond in time: "+agentID)
		return
	}

	envelope := map[string]any{
		"success": false,
		"error":   "agent unreachable: " + agentID,
	}
	if uerr.StatusCode != 0 {
		envelope["agent_status"] = uerr.StatusCode
		if json.Valid(uerr.Body) {
			envelope["agent_response"] = json.RawMessage(uerr.Body)
		}
	}
	writeJSON(w, http.StatusBadGateway, envelope)
}

// handleListOperations handles GET /agent/{agent_id}/operations.
func (h *Hub) handleListOperations(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	if h.journal == nil {
		sendJSONError(w, http.StatusNotFound, "operation journal is disabled")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ops, err := h.journal.ListOperations(r.Context(), agentID, limit)
	if err != nil {
		h.logger.Error("failed to list operations", "agent_id", agentID, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to list operations")
		return
	}

	out := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, OperationResponse{
			ID:             op.ID,
			Kind:           op.Kind,
			Outcome:        op.Outcome,
			NotificationID: op.NotificationID,
			StatusCode:     op.StatusCode,
			Error:          op.Error,
			DurationMS:     op.Duration.Milliseconds(),
			CreatedAt:      unixSeconds(op.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"agent_id":   agentID,
		"operations": out,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
