// ABOUTME: HTTP routing and middleware for the hub
// ABOUTME: gorilla/mux routes plus CORS handling for browser callers

package hub

import (
	"net/http"
	"slices"

	"github.com/gorilla/mux"
)

// routes builds the hub router.
func (h *Hub) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", h.handleInfo).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health/ready", h.handleReady).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc(h.metricsPath(), h.handleMetrics).Methods(http.MethodGet, http.MethodOptions)

	// Agent-facing endpoints
	r.HandleFunc("/agent/register", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/agent/print-completed", h.handlePrintCompleted).Methods(http.MethodPost)
	r.HandleFunc("/agent/scale-reading", h.handleScaleReading).Methods(http.MethodPost)

	// Caller-facing endpoints
	r.HandleFunc("/agents", h.handleListAgents).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/agents/watch", h.handleWatch).Methods(http.MethodGet)
	r.HandleFunc("/agent/{agent_id}", h.handleGetAgent).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/agent/{agent_id}/print", h.handleRelayPrint).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/agent/{agent_id}/scale/read", h.handleRelayScale).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/agent/{agent_id}/operations", h.handleListOperations).Methods(http.MethodGet, http.MethodOptions)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Use(mux.CORSMethodMiddleware(r))
	r.Use(h.corsMiddleware)

	return r
}

func (h *Hub) metricsPath() string {
	if h.config.Metrics.Path == "" {
		return "/metrics"
	}
	return h.config.Metrics.Path
}

// originAllowed reports whether a browser origin may call the hub.
func (h *Hub) originAllowed(origin string) bool {
	allowed := h.config.CORS.AllowedOrigins
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

// corsMiddleware sets the allowed origin for configured origins and answers
// preflight requests. Allowed methods come from mux.CORSMethodMiddleware.
func (h *Hub) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && h.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkWatchOrigin lets same-host pages and configured origins open the
// watch websocket.
func (h *Hub) checkWatchOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.originAllowed(origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
