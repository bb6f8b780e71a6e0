package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alfredjeanlab/leafbus/internal/presence"
	"github.com/alfredjeanlab/leafbus/internal/transport"
)

// ConnectionsResponse is the body of GET /v1/connections.
type ConnectionsResponse struct {
	Gateways    int               `json:"gateways"`
	Clients     int               `json:"clients"`
	Connections []presence.Record `json:"connections"`
}

// NewHTTPHandler returns an http.Handler with all routes registered.
// When adminToken is non-empty, the /v1/connections and /v1/config routes
// require Authorization: Bearer <adminToken>.
func (h *Hub) NewHTTPHandler(adminToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.handleClientWS)
	mux.HandleFunc("GET /gateway/ws", h.handleGatewayWS)
	mux.Handle("GET /v1/connections", AuthMiddleware(adminToken, http.HandlerFunc(h.handleConnections)))
	mux.Handle("POST /v1/config/rebuild", AuthMiddleware(adminToken, http.HandlerFunc(h.handleRebuild)))
	mux.HandleFunc("GET /v1/health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (h *Hub) handleClientWS(w http.ResponseWriter, r *http.Request) {
	h.serveWS(w, r, h.Clients)
}

func (h *Hub) handleGatewayWS(w http.ResponseWriter, r *http.Request) {
	h.serveWS(w, r, h.Gateways)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, auth Authenticator) {
	if auth == nil {
		writeError(w, http.StatusNotFound, "endpoint disabled")
		return
	}
	t, err := transport.Accept(w, r)
	if err != nil {
		h.logger.Warn("http: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	// won't return until the connection is closed
	if err := h.Serve(r.Context(), t, auth, r.Host); err != nil {
		h.logger.Info("http: connection refused", "remote", r.RemoteAddr, "err", err)
	}
}

// handleConnections handles GET /v1/connections.
func (h *Hub) handleConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ConnectionsResponse{
		Gateways:    h.registry.Count(presence.ClassGateway),
		Clients:     h.registry.Count(presence.ClassClient),
		Connections: h.registry.Snapshot(),
	})
}

// handleRebuild handles POST /v1/config/rebuild.
func (h *Hub) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if h.Rebuild == nil || h.Config == nil {
		writeError(w, http.StatusNotImplemented, "config rebuild not configured")
		return
	}
	doc, err := h.Rebuild(r.Context())
	if err != nil {
		h.logger.Error("http: config rebuild failed", "err", err)
		writeError(w, http.StatusInternalServerError, "rebuilding config: "+err.Error())
		return
	}
	if err := h.Config.Replace(r.Context(), doc); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": h.Config.Version()})
}

// handleHealth handles GET /v1/health.
func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"gateways": h.registry.Count(presence.ClassGateway),
		"clients":  h.registry.Count(presence.ClassClient),
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
