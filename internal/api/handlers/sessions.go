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
// ── Session & Messaging Handlers ─────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ProposeSession(w http.ResponseWriter, r *http.Request) {
	var req network.ProposeSessionInput
	if !decodeBody(w, r, &req) {
		return
	}
	if req.InitiatorID == 0 {
		req.InitiatorID = middleware.GetActor(r.Context())
	}

	session, err := h.Comms.ProposeSession(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Comms.ListSessions(r.Context(), middleware.GetActor(r.Context()), queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.ConversationSession{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.Comms.GetSession(r.Context(), sessionID, middleware.GetActor(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (h *Handlers) ApproveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.Comms.ApproveSession(r.Context(), sessionID, middleware.GetActor(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (h *Handlers) RejectSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.Comms.RejectSession(r.Context(), sessionID, middleware.GetActor(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// AdvanceSessionTurn drives one turn immediately instead of waiting for
// the background processor.
func (h *Handlers) AdvanceSessionTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	msg, err := h.Comms.AdvanceTurn(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

func (h *Handlers) ListSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	msgs, err := h.Comms.SessionMessages(r.Context(), sessionID, middleware.GetActor(r.Context()), queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

// ── Draft approval ──────────────────────────────────────────

func (h *Handlers) DraftSessionTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	draft, err := h.Comms.DraftTurn(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, draft)
}

func (h *Handlers) ApproveDraft(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageId")
	var req struct {
		Content string `json:"content,omitempty"`
	}
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	actor := middleware.GetActor(r.Context())
	var (
		msg *models.Message
		err error
	)
	if req.Content != "" {
		msg, err = h.Comms.EditAndApproveDraft(r.Context(), messageID, actor, req.Content)
	} else {
		msg, err = h.Comms.ApproveDraft(r.Context(), messageID, actor)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msg)
}

// ── Status updates & history ────────────────────────────────

func (h *Handlers) SendStatusUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string  `json:"message"`
		Targets []int64 `json:"targets,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	results, err := h.Comms.SendStatusUpdate(r.Context(), middleware.GetActor(r.Context()), req.Message, req.Targets)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (h *Handlers) SendCheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetUserID int64 `json:"target_user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.Comms.SendCheckIn(r.Context(), middleware.GetActor(r.Context()), req.TargetUserID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) ConversationHistory(w http.ResponseWriter, r *http.Request) {
	otherID, ok := pathUserID(w, r, "userId")
	if !ok {
		return
	}

	msgs, err := h.Comms.ConversationHistory(r.Context(), middleware.GetActor(r.Context()), otherID, queryLimit(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

func queryLimit(r *http.Request) int {
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
