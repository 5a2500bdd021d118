// ABOUTME: Websocket stream of registry changes for dashboards
// ABOUTME: Sends the current agent list first, then one message per change

package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/posbridge/internal/registry"
)

const (
	watchWriteTimeout = 10 * time.Second
	watchPingInterval = 30 * time.Second
)

// WatchEvent is one message on /agents/watch.
type WatchEvent struct {
	Type   string         `json:"type"`
	Agent  *AgentSummary  `json:"agent,omitempty"`
	Agents []AgentSummary `json:"agents,omitempty"`
	At     float64        `json:"at"`
}

func summarize(v registry.View) AgentSummary {
	return AgentSummary{
		AgentID:       v.ID,
		Platform:      v.Platform,
		Status:        string(v.Status),
		LastSeen:      unixSeconds(v.LastSeen),
		PrintersCount: len(v.Printers),
		ScalesCount:   len(v.Scales),
	}
}

// handleWatch handles GET /agents/watch.
func (h *Hub) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrading watch request to websocket failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	changes, subID := h.registry.Subscribe(ctx)
	logger := h.logger.With("sub_id", subID, "remote", r.RemoteAddr)
	logger.Debug("watcher connected")

	// Reader loop: only control frames matter; a read error means the peer left.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	now := h.registry.Now()
	views := h.registry.List(now)
	snapshot := WatchEvent{Type: "snapshot", Agents: make([]AgentSummary, 0, len(views)), At: unixSeconds(now)}
	for _, v := range views {
		snapshot.Agents = append(snapshot.Agents, summarize(v))
	}
	if err := h.writeWatch(conn, snapshot); err != nil {
		return
	}

	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			logger.Debug("watcher disconnected")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case c, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down"),
					time.Now().Add(time.Second))
				return
			}
			agent := summarize(c.Agent)
			if err := h.writeWatch(conn, WatchEvent{Type: string(c.Kind), Agent: &agent, At: unixSeconds(c.At)}); err != nil {
				return
			}
		}
	}
}

func (h *Hub) writeWatch(conn *websocket.Conn, ev WatchEvent) error {
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		h.logger.Debug("watch write failed", "error", err)
		return err
	}
	return nil
}
