// ABOUTME: Best-effort notifications from the agent to the hub after device operations
// ABOUTME: Sent in the background with a short timeout and one retry under the same ID

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/posbridge/internal/device"
)

// PrintCompleted is the body of POST /agent/print-completed.
type PrintCompleted struct {
	AgentID        string             `json:"agent_id"`
	NotificationID string             `json:"notification_id"`
	Result         device.PrintResult `json:"result"`
}

// ScaleReading is the body of POST /agent/scale-reading.
type ScaleReading struct {
	AgentID        string         `json:"agent_id"`
	NotificationID string         `json:"notification_id"`
	Reading        device.Reading `json:"reading"`
}

// Notifier tells the hub about finished device operations.
type Notifier struct {
	hubURL  string
	agentID string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a Notifier. A nil client uses a default one.
func NewNotifier(hubURL, agentID string, timeout time.Duration, client *http.Client, logger *slog.Logger) *Notifier {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		hubURL:  strings.TrimRight(hubURL, "/"),
		agentID: agentID,
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// PrintCompleted reports a print result in the background.
func (n *Notifier) PrintCompleted(res device.PrintResult) {
	n.send("/agent/print-completed", PrintCompleted{
		AgentID:        n.agentID,
		NotificationID: uuid.New().String(),
		Result:         res,
	})
}

// ScaleReading reports a scale reading in the background.
func (n *Notifier) ScaleReading(r device.Reading) {
	n.send("/agent/scale-reading", ScaleReading{
		AgentID:        n.agentID,
		NotificationID: uuid.New().String(),
		Reading:        r,
	})
}

// Wait blocks until every pending notification finished or gave up.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) send(path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("encoding notification", "path", path, "error", err)
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		err := n.post(path, body)
		if err == nil {
			return
		}
		n.logger.Debug("notification failed, retrying once", "path", path, "error", err)
		if err := n.post(path, body); err != nil {
			n.logger.Warn("notifying hub failed", "path", path, "error", err)
		}
	}()
}

func (n *Notifier) post(path string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.hubURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("hub answered with status %d", resp.StatusCode)
	}
	return nil
}
