package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mjnet/mjnet/internal/api/middleware"
	"github.com/mjnet/mjnet/internal/network"
	"github.com/mjnet/mjnet/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Friend & Relationship Handlers ───────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req network.SendFriendRequestInput
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FromUserID == 0 {
		req.FromUserID = middleware.GetActor(r.Context())
	}

	created, err := h.Friends.SendFriendRequest(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	var req struct {
		RelationshipType string `json:"relationship_type,omitempty"`
		Message          string `json:"message,omitempty"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	result, err := h.Friends.AcceptFriendRequest(r.Context(), requestID, middleware.GetActor(r.Context()), req.RelationshipType, req.Message)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) RejectFriendRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")
	var req struct {
		Message string `json:"message,omitempty"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	rejected, err := h.Friends.RejectFriendRequest(r.Context(), requestID, middleware.GetActor(r.Context()), req.Message)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rejected)
}

func (h *Handlers) CancelFriendRequest(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	cancelled, err := h.Friends.CancelFriendRequest(r.Context(), requestID, middleware.GetActor(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cancelled)
}

func (h *Handlers) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Friends.PendingRequests(r.Context(), middleware.GetActor(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []models.FriendRequest{}
	}
	respondJSON(w, http.StatusOK, requests)
}

func (h *Handlers) ListSentRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Friends.SentRequests(r.Context(), middleware.GetActor(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []models.FriendRequest{}
	}
	respondJSON(w, http.StatusOK, requests)
}

func (h *Handlers) ListFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := h.Friends.ListFriends(r.Context(), middleware.GetActor(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if friends == nil {
		friends = []models.Relationship{}
	}
	respondJSON(w, http.StatusOK, friends)
}

func (h *Handlers) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	friendID, ok := pathUserID(w, r, "userId")
	if !ok {
		return
	}

	if err := h.Friends.RemoveFriend(r.Context(), middleware.GetActor(r.Context()), friendID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (h *Handlers) BlockUser(w http.ResponseWriter, r *http.Request) {
	blockedID, ok := pathUserID(w, r, "userId")
	if !ok {
		return
	}

	if err := h.Friends.BlockUser(r.Context(), middleware.GetActor(r.Context()), blockedID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "blocked"})
}

func (h *Handlers) UnblockUser(w http.ResponseWriter, r *http.Request) {
	blockedID, ok := pathUserID(w, r, "userId")
	if !ok {
		return
	}

	if err := h.Friends.UnblockUser(r.Context(), middleware.GetActor(r.Context()), blockedID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}

func (h *Handlers) RelationshipStatus(w http.ResponseWriter, r *http.Request) {
	otherID, ok := pathUserID(w, r, "userId")
	if !ok {
		return
	}

	status, err := h.Friends.RelationshipStatus(r.Context(), middleware.GetActor(r.Context()), otherID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *Handlers) UpdateRelationshipType(w http.ResponseWriter, r *http.Request) {
	friendID, ok := pathUserID(w, r, "userId")
	if !ok {
		return
	}
	var req struct {
		RelationshipType string `json:"relationship_type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.Friends.UpdateRelationshipType(r.Context(), middleware.GetActor(r.Context()), friendID, req.RelationshipType); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handlers) UpdatePrivacySettings(w http.ResponseWriter, r *http.Request) {
	friendID, ok := pathUserID(w, r, "userId")
	if !ok {
		return
	}
	var req network.PrivacyUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	rel, err := h.Friends.UpdatePrivacySettings(r.Context(), middleware.GetActor(r.Context()), friendID, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rel)
}

func (h *Handlers) AdjustTrust(w http.ResponseWriter, r *http.Request) {
	friendID, ok := pathUserID(w, r, "userId")
	if !ok {
		return
	}
	var req struct {
		Delta float64 `json:"delta"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	rel, err := h.Friends.AdjustTrust(r.Context(), middleware.GetActor(r.Context()), friendID, req.Delta)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rel)
}

func pathUserID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid user id")
		return 0, false
	}
	return id, true
}
