// ABOUTME: Inbound HTTP surface of the agent, called back by the hub
// ABOUTME: Serves /print, /scale/read, device listings, info and health via gorilla/mux

package agent

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/2389/posbridge/internal/device"
	"github.com/2389/posbridge/internal/ticket"
)

// maxRequestBytes bounds inbound request bodies.
const maxRequestBytes = 1 << 20

// PrintRequest is the body of POST /print.
type PrintRequest struct {
	PrinterName string          `json:"printer_name"`
	Content     json.RawMessage `json:"content"`
	// Format is "text" (default) or "escpos", which adds printer init and cut codes.
	Format string `json:"format,omitempty"`
}

// ScaleRequest is the body of POST /scale/read.
type ScaleRequest struct {
	ScalePort string `json:"scale_port"`
}

// completionNotifier receives finished operations. *Notifier implements it.
type completionNotifier interface {
	PrintCompleted(device.PrintResult)
	ScaleReading(device.Reading)
}

// Server handles requests relayed by the hub.
type Server struct {
	agentID  string
	platform string
	backend  device.Backend
	notifier completionNotifier // may be nil
	logger   *slog.Logger
	started  time.Time
	router   *mux.Router
}

// NewServer builds the agent's inbound router.
func NewServer(agentID, platform string, backend device.Backend, notifier completionNotifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		agentID:  agentID,
		platform: platform,
		backend:  backend,
		notifier: notifier,
		logger:   logger,
		started:  time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/devices/printers", s.handlePrinters).Methods(http.MethodGet)
	r.HandleFunc("/devices/scales", s.handleScales).Methods(http.MethodGet)
	r.HandleFunc("/print", s.handlePrint).Methods(http.MethodPost)
	r.HandleFunc("/scale/read", s.handleReadScale).Methods(http.MethodPost)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, http.StatusNotFound, "not found")
	})
	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": s.agentID,
		"status":   "running",
		"platform": s.platform,
		"backend":  s.backend.Name(),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"agent_id": s.agentID,
	})
}

func (s *Server) handlePrinters(w http.ResponseWriter, r *http.Request) {
	printers, err := s.backend.Printers(r.Context())
	if err != nil {
		s.logger.Warn("printer enumeration failed", "error", err)
		printers = []device.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"printers": printers,
		"agent_id": s.agentID,
	})
}

func (s *Server) handleScales(w http.ResponseWriter, r *http.Request) {
	scales, err := s.backend.Scales(r.Context())
	if err != nil {
		s.logger.Warn("scale enumeration failed", "error", err)
		scales = []device.Descriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"scales":   scales,
		"agent_id": s.agentID,
	})
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	var req PrintRequest
	if err := decodeBody(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PrinterName == "" {
		sendJSONError(w, http.StatusBadRequest, "printer_name is required")
		return
	}

	data, err := ticket.Format(req.Content)
	if err != nil {
		if errors.Is(err, ticket.ErrEmptyContent) {
			sendJSONError(w, http.StatusBadRequest, "content is required")
			return
		}
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Format {
	case "", "text":
	case "escpos":
		data = ticket.EscPos(data)
	default:
		sendJSONError(w, http.StatusBadRequest, "format must be text or escpos")
		return
	}

	s.logger.Info("print requested", "printer", req.PrinterName, "bytes", len(data))
	result := s.backend.Print(r.Context(), req.PrinterName, data)
	if result.Status == device.StatusError {
		s.logger.Warn("print failed", "printer", req.PrinterName, "error", result.Error)
	}

	if s.notifier != nil {
		s.notifier.PrintCompleted(result)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

func (s *Server) handleReadScale(w http.ResponseWriter, r *http.Request) {
	var req ScaleRequest
	if err := decodeBody(r, &req); err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ScalePort == "" {
		sendJSONError(w, http.StatusBadRequest, "scale_port is required")
		return
	}

	reading := s.backend.ReadScale(r.Context(), req.ScalePort)
	if reading.Error != "" {
		s.logger.Warn("scale read failed", "port", req.ScalePort, "error", reading.Error)
	} else {
		s.logger.Info("scale read", "port", req.ScalePort, "weight", reading.Weight, "unit", reading.Unit)
	}

	if s.notifier != nil {
		s.notifier.ScaleReading(reading)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"weight":  reading,
	})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return errors.New("failed to read request body")
	}
	if len(body) == 0 {
		return errors.New("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
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
