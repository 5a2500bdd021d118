// ABOUTME: Handlers for notifications agents post after finishing device operations
// ABOUTME: Refreshes agent liveness, drops retried duplicates and journals the rest

package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/posbridge/internal/store"
)

// notification is the envelope shared by both notification kinds.
type notification struct {
	AgentID        string          `json:"agent_id"`
	NotificationID string          `json:"notification_id"`
	Result         json.RawMessage `json:"result,omitempty"`
	Reading        json.RawMessage `json:"reading,omitempty"`
}

// handlePrintCompleted handles POST /agent/print-completed.
func (h *Hub) handlePrintCompleted(w http.ResponseWriter, r *http.Request) {
	h.acceptNotification(w, r, store.KindPrintCompleted)
}

// handleScaleReading handles POST /agent/scale-reading.
func (h *Hub) handleScaleReading(w http.ResponseWriter, r *http.Request) {
	h.acceptNotification(w, r, store.KindScaleReading)
}

func (h *Hub) acceptNotification(w http.ResponseWriter, r *http.Request, kind string) {
	body, err := readBody(r)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if n.AgentID == "" {
		sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	known := h.registry.Touch(n.AgentID)

	if n.NotificationID != "" && h.dedupe.Seen(n.AgentID+"/"+n.NotificationID) {
		h.logger.Debug("duplicate notification dropped",
			"agent_id", n.AgentID,
			"notification_id", n.NotificationID,
			"kind", kind,
		)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
		return
	}

	h.logger.Info("agent notification",
		"agent_id", n.AgentID,
		"kind", kind,
		"known", known,
	)

	if h.journal != nil {
		payload := n.Result
		if kind == store.KindScaleReading {
			payload = n.Reading
		}
		op := &store.Operation{
			ID:             uuid.New().String(),
			AgentID:        n.AgentID,
			Kind:           kind,
			Outcome:        store.OutcomeNotified,
			NotificationID: n.NotificationID,
			Response:       store.Truncate(payload),
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.journal.RecordOperation(ctx, op); err != nil {
			h.logger.Error("failed to journal notification", "agent_id", n.AgentID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
