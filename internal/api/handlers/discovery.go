package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/mjnet/mjnet/internal/api/middleware"
	"github.com/mjnet/mjnet/internal/registry"
	"github.com/mjnet/mjnet/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Discovery & Presence Handlers ────────────────────────────
// ══════════════════════════════════════════════════════════════

// WhoAmI returns the local node's own agent record.
func (h *Handlers) WhoAmI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Discovery.Self())
}

// ListPeers returns the agents currently present in the registry.
func (h *Handlers) ListPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.Registry.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if peers == nil {
		peers = []models.AgentRecord{}
	}
	respondJSON(w, http.StatusOK, peers)
}

// GetPeer looks up one agent by its MJ identifier.
func (h *Handlers) GetPeer(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	rec, err := h.Registry.Lookup(r.Context(), agentID)
	if err != nil {
		var missing *registry.ErrNotRegistered
		if errors.As(err, &missing) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Discover runs an on-demand peer discovery pass. The method defaults to
// a registry lookup; "network" additionally probes the local subnet.
func (h *Handlers) Discover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method,omitempty"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.Method == "" {
		req.Method = "registry"
	}

	peers, err := h.Discovery.Discover(r.Context(), req.Method)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if peers == nil {
		peers = []models.AgentRecord{}
	}

	log.Info().Str("method", req.Method).Int("found", len(peers)).Msg("Discovery pass completed")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"method": req.Method,
		"agents": peers,
		"count":  len(peers),
	})
}

// FlushPending delivers every queued message for the acting user. Nodes
// call this on reconnect, after an offline stretch.
func (h *Handlers) FlushPending(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())

	delivered, err := h.Comms.FlushPending(r.Context(), actor)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"delivered": delivered,
	})
}
