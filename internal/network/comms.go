package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/mjnet/mjnet/internal/config"
	"github.com/mjnet/mjnet/internal/metrics"
	"github.com/mjnet/mjnet/internal/privacy"
	"github.com/mjnet/mjnet/internal/registry"
	"github.com/mjnet/mjnet/internal/store"
	"github.com/mjnet/mjnet/pkg/contracts"
	"github.com/mjnet/mjnet/pkg/models"
)

// FallbackResponse is substituted when the generator fails. Generation
// failures never reach session state; the conversation just gets a
// generic beat.
const FallbackResponse = "I'm having trouble finding the right words right now... but I'm here for you. Maybe try reaching out again in a moment?"

// CheckInFallback is the check-in line used when generation fails.
const CheckInFallback = "Just checking in to see how you're doing. Thinking of you!"

// repetitionWindow is how many recent turns are inspected for repeated
// topics when building the anti-repetition instruction.
const repetitionWindow = 4

// CommsService drives agent-to-agent conversations: session lifecycle,
// turn generation, draft approval and delivery.
type CommsService struct {
	store store.Store
	reg   registry.Registry
	gen   contracts.Generator
	clock contracts.Clock
	cfg   config.SessionConfig

	// registryTTL is the authoritative staleness window for "is this
	// peer online".
	registryTTL time.Duration

	// sessionLocks serializes turn advancement per session. The store
	// CAS on turn_count is the backstop for multi-instance deployments.
	sessionLocks sync.Map // session id → *sync.Mutex
}

// NewCommsService creates the conversation service.
func NewCommsService(s store.Store, reg registry.Registry, gen contracts.Generator, clock contracts.Clock, cfg config.SessionConfig, registryTTL time.Duration) *CommsService {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	if registryTTL <= 0 {
		registryTTL = registry.DefaultTTL
	}
	return &CommsService{
		store:       s,
		reg:         reg,
		gen:         gen,
		clock:       clock,
		cfg:         cfg,
		registryTTL: registryTTL,
	}
}

func (c *CommsService) lockSession(id string) func() {
	v, _ := c.sessionLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ── Session lifecycle ───────────────────────────────────────

// ProposeSessionInput describes a requested conversation.
type ProposeSessionInput struct {
	InitiatorID int64  `json:"initiator_id"`
	TargetID    int64  `json:"target_id"`
	Objective   string `json:"objective"`
	MaxTurns    int    `json:"max_turns,omitempty"`
}

// ProposeSession creates a session in pending_approval. The initiator
// must already be friends with the target; the target approves or
// rejects before any turn is generated.
func (c *CommsService) ProposeSession(ctx context.Context, in ProposeSessionInput) (*models.ConversationSession, error) {
	if in.InitiatorID == in.TargetID {
		return nil, validationf("cannot start a session with yourself")
	}
	if strings.TrimSpace(in.Objective) == "" {
		return nil, validationf("session objective is required")
	}
	if _, err := c.store.GetMutualRelationship(ctx, in.InitiatorID, in.TargetID); err != nil {
		if isNotFound(err) {
			return nil, validationf("users are not friends; send a friend request first")
		}
		return nil, err
	}
	if err := c.checkOfflineGate(ctx, in.InitiatorID, in.TargetID); err != nil {
		return nil, err
	}

	maxTurns := in.MaxTurns
	if maxTurns <= 0 {
		maxTurns = c.cfg.DefaultMaxTurns
	}

	now := c.clock.Now()
	session := &models.ConversationSession{
		ID:            uuid.NewString(),
		UserAID:       in.InitiatorID,
		UserBID:       in.TargetID,
		InitiatedBy:   in.InitiatorID,
		Objective:     in.Objective,
		Status:        models.SessionPendingApproval,
		MaxTurns:      maxTurns,
		NextSpeakerID: in.InitiatorID,
		ExpiresAt:     now.Add(c.cfg.DefaultTTL),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID).
		Int64("initiator", in.InitiatorID).
		Int64("target", in.TargetID).
		Msg("Session proposed")
	return session, nil
}

// ApproveSession moves a pending session to in_progress and drives the
// first turn. Only the non-initiating party may approve.
func (c *CommsService) ApproveSession(ctx context.Context, sessionID string, approvingUserID int64) (*models.ConversationSession, error) {
	unlock := c.lockSession(sessionID)
	defer unlock()

	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Participant(approvingUserID) {
		return nil, validationf("user is not a participant in this session")
	}
	if approvingUserID == session.InitiatedBy {
		return nil, validationf("cannot approve your own session proposal")
	}
	if session.Status != models.SessionPendingApproval {
		return nil, validationf("session is %s, not awaiting approval", session.Status)
	}

	now := c.clock.Now()
	if now.After(session.ExpiresAt) {
		session.Status = models.SessionExpired
		if err := c.store.UpdateSession(ctx, session); err != nil {
			return nil, err
		}
		metrics.SessionsEnded.WithLabelValues(string(models.SessionExpired)).Inc()
		return nil, validationf("session proposal has expired")
	}

	session.Status = models.SessionInProgress
	if err := c.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	metrics.SessionsStarted.Inc()
	c.recordInteraction(ctx, session.UserAID, session.UserBID)
	log.Info().Str("session_id", session.ID).Msg("Session approved")

	// First turn fires immediately; a generation failure here still
	// leaves the session running for the processor to pick up.
	if _, err := c.advanceTurnLocked(ctx, session); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("First turn failed after approval")
	}
	return c.store.GetSession(ctx, sessionID)
}

// RejectSession closes a pending session. Only the non-initiating party
// may reject.
func (c *CommsService) RejectSession(ctx context.Context, sessionID string, rejectingUserID int64) (*models.ConversationSession, error) {
	unlock := c.lockSession(sessionID)
	defer unlock()

	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Participant(rejectingUserID) {
		return nil, validationf("user is not a participant in this session")
	}
	if rejectingUserID == session.InitiatedBy {
		return nil, validationf("cannot reject your own session proposal; cancel it instead")
	}
	if session.Status != models.SessionPendingApproval {
		return nil, validationf("session is %s, not awaiting approval", session.Status)
	}

	session.Status = models.SessionRejected
	if err := c.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	metrics.SessionsEnded.WithLabelValues(string(models.SessionRejected)).Inc()
	return session, nil
}

// GetSession returns one session, restricted to its participants.
func (c *CommsService) GetSession(ctx context.Context, sessionID string, userID int64) (*models.ConversationSession, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Participant(userID) {
		return nil, validationf("user is not a participant in this session")
	}
	return session, nil
}

// ListSessions returns the user's sessions, newest last.
func (c *CommsService) ListSessions(ctx context.Context, userID int64, limit int) ([]models.ConversationSession, error) {
	return c.store.ListSessionsForUser(ctx, userID, limit)
}

// ── Turn generation ─────────────────────────────────────────

// AdvanceTurn generates and delivers one turn for the session's current
// speaker, then flips the speaker and increments the turn counter. Expiry
// is checked before max-turns, and both before any generation happens.
func (c *CommsService) AdvanceTurn(ctx context.Context, sessionID string) (*models.Message, error) {
	unlock := c.lockSession(sessionID)
	defer unlock()

	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return c.advanceTurnLocked(ctx, session)
}

// advanceTurnLocked runs one turn with the session lock held.
func (c *CommsService) advanceTurnLocked(ctx context.Context, session *models.ConversationSession) (*models.Message, error) {
	if session.Status != models.SessionInProgress {
		return nil, validationf("session is %s, not in progress", session.Status)
	}

	now := c.clock.Now()
	if now.After(session.ExpiresAt) {
		if err := c.endSession(ctx, session, models.SessionExpired); err != nil {
			return nil, err
		}
		return nil, validationf("session has expired")
	}
	if session.TurnCount >= session.MaxTurns {
		if err := c.endSession(ctx, session, models.SessionMaxTurns); err != nil {
			return nil, err
		}
		return nil, validationf("session has reached its turn limit")
	}

	speaker := session.NextSpeakerID
	recipient := session.OtherParty(speaker)
	draft, err := c.generateTurn(ctx, session, speaker, recipient)
	if err != nil {
		return nil, err
	}
	draft.ApprovalStatus = models.ApprovalApproved

	if err := c.commitTurn(ctx, session, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// commitTurn advances the session state and persists + delivers the
// message as one logical unit. The compare-and-swap on the observed turn
// count makes a concurrent retry fail instead of duplicating the turn.
func (c *CommsService) commitTurn(ctx context.Context, session *models.ConversationSession, msg *models.Message) error {
	fromTurn := session.TurnCount
	session.TurnCount++
	session.NextSpeakerID = session.OtherParty(msg.FromUserID)
	if session.TurnCount >= session.MaxTurns {
		session.Status = models.SessionMaxTurns
	}

	if err := c.store.AdvanceSessionTurn(ctx, session, fromTurn); err != nil {
		var conflict *store.ErrConflict
		if errors.As(err, &conflict) {
			return validationf("turn %d was already advanced", fromTurn)
		}
		return err
	}

	if err := c.store.CreateMessage(ctx, msg); err != nil {
		return err
	}
	if err := c.deliver(ctx, msg); err != nil {
		return err
	}

	if session.Status == models.SessionMaxTurns {
		metrics.SessionsEnded.WithLabelValues(string(models.SessionMaxTurns)).Inc()
		log.Info().Str("session_id", session.ID).Msg("Session reached max turns")
		c.recordConversationMemory(ctx, session)
	}
	return nil
}

func (c *CommsService) endSession(ctx context.Context, session *models.ConversationSession, status models.SessionStatus) error {
	session.Status = status
	if err := c.store.UpdateSession(ctx, session); err != nil {
		return err
	}
	metrics.SessionsEnded.WithLabelValues(string(status)).Inc()
	log.Info().Str("session_id", session.ID).Str("status", string(status)).Msg("Session ended")

	// Conversations that actually ran leave a memory for both sides,
	// so later turns can reference past exchanges.
	if session.TurnCount > 0 {
		c.recordConversationMemory(ctx, session)
	}
	return nil
}

func (c *CommsService) recordConversationMemory(ctx context.Context, session *models.ConversationSession) {
	now := c.clock.Now()
	for _, pair := range [][2]int64{
		{session.UserAID, session.UserBID},
		{session.UserBID, session.UserAID},
	} {
		fact := &models.MemoryFact{
			ID:         uuid.NewString(),
			UserID:     pair[0],
			Fact:       fmt.Sprintf("Talked with user %d about: %s", pair[1], session.Objective),
			Category:   "conversation",
			Confidence: 0.9,
			CreatedAt:  now,
		}
		if err := c.store.CreateMemoryFact(ctx, fact); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Int64("user", pair[0]).Msg("Failed to record conversation memory")
		}
	}
}

// generateTurn builds the privacy-aware prompt for the speaker and calls
// the generator. A generator failure yields the fallback response with
// zero token usage, never an error.
func (c *CommsService) generateTurn(ctx context.Context, session *models.ConversationSession, speaker, recipient int64) (*models.Message, error) {
	// Relationship as seen by the speaker governs what may be shared.
	rel, err := c.store.GetRelationship(ctx, speaker, recipient)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	memories, err := c.store.ListRecentMemories(ctx, speaker, 10, c.clock.Now().AddDate(0, 0, -30))
	if err != nil {
		log.Warn().Err(err).Int64("user", speaker).Msg("Memory retrieval failed")
		memories = nil
	}

	history, err := c.store.ListSessionMessages(ctx, session.ID, 20)
	if err != nil {
		return nil, err
	}

	memoryContext, memoriesUsed := buildMemoryContext(memories)
	filtered := privacy.Apply(rel, memoryContext, privacy.Context{})
	prompt := buildTurnPrompt(session, filtered, history)

	turns := historyTurns(history, speaker)
	turns = append(turns, contracts.Turn{Role: contracts.RoleUser, Content: session.Objective})

	start := time.Now()
	result, genErr := c.gen.Complete(ctx, &contracts.CompletionRequest{
		System: prompt,
		Turns:  turns,
	})
	metrics.GenerationLatency.Observe(time.Since(start).Seconds())

	content := FallbackResponse
	rawResponse := ""
	tokens := 0
	if genErr != nil {
		log.Warn().Err(genErr).Str("session_id", session.ID).Msg("Generation failed, using fallback")
		metrics.TurnsGenerated.WithLabelValues("fallback").Inc()
	} else {
		if result.Content != "" {
			content = result.Content
		}
		rawResponse = result.Content
		tokens = result.Tokens.Total
		metrics.TurnsGenerated.WithLabelValues("ok").Inc()
		metrics.TokensConsumed.Add(float64(tokens))
	}

	return &models.Message{
		ID:             ulid.Make().String(),
		SessionID:      session.ID,
		FromUserID:     speaker,
		ToUserID:       recipient,
		Content:        content,
		Type:           models.MessageText,
		DeliveryStatus: models.DeliveryPending,
		PromptUsed:     prompt,
		RawResponse:    rawResponse,
		TokensUsed:     tokens,
		MemoriesUsed:   memoriesUsed,
		PrivacyApplied: filtered.Level,
		CreatedAt:      c.clock.Now(),
	}, nil
}

func buildMemoryContext(memories []models.MemoryFact) (string, []string) {
	if len(memories) == 0 {
		return "No specific memories available.", nil
	}
	var b strings.Builder
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		fmt.Fprintf(&b, "- %s (confidence: %.2f)\n", m.Fact, m.Confidence)
		ids = append(ids, m.ID)
	}
	return b.String(), ids
}

// buildTurnPrompt assembles the system prompt: objective, counters, the
// filtered context, and an anti-repetition instruction derived from the
// last few turns.
func buildTurnPrompt(session *models.ConversationSession, filtered privacy.Result, history []models.Message) string {
	var b strings.Builder
	b.WriteString("You are a personal assistant speaking to another user's personal assistant on your user's behalf.\n")
	fmt.Fprintf(&b, "Conversation objective: %s\n", session.Objective)
	fmt.Fprintf(&b, "This is turn %d of at most %d; keep the exchange moving toward the objective.\n",
		session.TurnCount+1, session.MaxTurns)
	fmt.Fprintf(&b, "Sharing level: %s. Only reveal what the context below includes.\n", filtered.Level)
	b.WriteString("What you know about your user:\n")
	b.WriteString(filtered.Content)
	b.WriteString("\n")

	if topics := repeatedTopics(history); len(topics) > 0 {
		fmt.Fprintf(&b, "You have already covered these topics: %s. Do not restate them; add something new or wrap up.\n",
			strings.Join(topics, ", "))
	}
	b.WriteString("Reply in one to three sentences, warm and natural.")
	return b.String()
}

// repeatedTopics returns topic categories that appear more than once in
// the recent window of the conversation.
func repeatedTopics(history []models.Message) []string {
	if len(history) > repetitionWindow {
		history = history[len(history)-repetitionWindow:]
	}
	counts := make(map[string]int)
	for _, msg := range history {
		counts[privacy.ExtractActivityType(msg.Content)]++
	}
	var topics []string
	for topic, n := range counts {
		if n > 1 && topic != "general" {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}

// historyTurns converts stored messages into role-tagged generator turns
// from the speaker's point of view.
func historyTurns(history []models.Message, speaker int64) []contracts.Turn {
	turns := make([]contracts.Turn, 0, len(history))
	for _, msg := range history {
		role := contracts.RoleUser
		if msg.FromUserID == speaker {
			role = contracts.RoleAssistant
		}
		turns = append(turns, contracts.Turn{Role: role, Content: msg.Content})
	}
	return turns
}

// ── Draft approval ──────────────────────────────────────────

// DraftTurn generates the current speaker's turn as a draft for human
// review. The session does not advance until the draft is approved.
func (c *CommsService) DraftTurn(ctx context.Context, sessionID string) (*models.Message, error) {
	unlock := c.lockSession(sessionID)
	defer unlock()

	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionInProgress {
		return nil, validationf("session is %s, not in progress", session.Status)
	}
	if c.clock.Now().After(session.ExpiresAt) {
		if err := c.endSession(ctx, session, models.SessionExpired); err != nil {
			return nil, err
		}
		return nil, validationf("session has expired")
	}
	if session.TurnCount >= session.MaxTurns {
		if err := c.endSession(ctx, session, models.SessionMaxTurns); err != nil {
			return nil, err
		}
		return nil, validationf("session has reached its turn limit")
	}

	speaker := session.NextSpeakerID
	draft, err := c.generateTurn(ctx, session, speaker, session.OtherParty(speaker))
	if err != nil {
		return nil, err
	}
	draft.ApprovalStatus = models.ApprovalDraft
	if err := c.store.CreateMessage(ctx, draft); err != nil {
		return nil, err
	}
	log.Info().Str("message_id", draft.ID).Str("session_id", session.ID).Msg("Draft generated")
	return draft, nil
}

// ApproveDraft sends a draft as-is and advances the session turn. Only
// the draft's own sender may approve it.
func (c *CommsService) ApproveDraft(ctx context.Context, messageID string, approvingUserID int64) (*models.Message, error) {
	return c.approveDraft(ctx, messageID, approvingUserID, nil)
}

// EditAndApproveDraft rewrites the draft's content, then sends it.
func (c *CommsService) EditAndApproveDraft(ctx context.Context, messageID string, approvingUserID int64, newContent string) (*models.Message, error) {
	if strings.TrimSpace(newContent) == "" {
		return nil, validationf("edited content cannot be empty")
	}
	return c.approveDraft(ctx, messageID, approvingUserID, &newContent)
}

func (c *CommsService) approveDraft(ctx context.Context, messageID string, approvingUserID int64, newContent *string) (*models.Message, error) {
	// The session id is the lock key, so the message is read once to find
	// it, then re-read under the lock before anything is validated.
	peek, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	unlock := c.lockSession(peek.SessionID)
	defer unlock()

	msg, err := c.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.FromUserID != approvingUserID {
		return nil, validationf("only the message sender can approve a draft")
	}
	if msg.ApprovalStatus != models.ApprovalDraft {
		return nil, validationf("message is %s, not a draft", msg.ApprovalStatus)
	}

	session, err := c.store.GetSession(ctx, msg.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionInProgress {
		return nil, validationf("session is %s, not in progress", session.Status)
	}
	if session.NextSpeakerID != msg.FromUserID {
		return nil, validationf("the session advanced past this draft; it is no longer the sender's turn")
	}

	// The turn CAS runs before the message is touched; a concurrent
	// advance fails the approval and leaves the draft a draft.
	fromTurn := session.TurnCount
	session.TurnCount++
	session.NextSpeakerID = session.OtherParty(msg.FromUserID)
	if session.TurnCount >= session.MaxTurns {
		session.Status = models.SessionMaxTurns
	}
	if err := c.store.AdvanceSessionTurn(ctx, session, fromTurn); err != nil {
		var conflict *store.ErrConflict
		if errors.As(err, &conflict) {
			return nil, validationf("turn %d was already advanced", fromTurn)
		}
		return nil, err
	}

	if newContent != nil {
		msg.Content = *newContent
	}
	msg.ApprovalStatus = models.ApprovalSent
	if err := c.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := c.deliver(ctx, msg); err != nil {
		return nil, err
	}
	if session.Status == models.SessionMaxTurns {
		metrics.SessionsEnded.WithLabelValues(string(models.SessionMaxTurns)).Inc()
	}
	log.Info().Str("message_id", msg.ID).Msg("Draft approved and sent")
	return msg, nil
}

// ── Delivery ────────────────────────────────────────────────

// deliver marks the message delivered when the recipient's agent is
// reachable, otherwise enqueues it for store-and-forward. Delivery never
// fails the turn: an unreachable recipient is the queue's problem.
func (c *CommsService) deliver(ctx context.Context, msg *models.Message) error {
	now := c.clock.Now()
	if c.recipientReachable(ctx, msg.ToUserID, now) {
		msg.DeliveryStatus = models.DeliveryDelivered
		msg.DeliveredAt = &now
		if err := c.store.UpdateMessage(ctx, msg); err != nil {
			return err
		}
		if err := c.store.IncrementStats(ctx, msg.ToUserID, 0, 1, 0); err != nil {
			log.Warn().Err(err).Int64("user", msg.ToUserID).Msg("Stats update failed")
		}
		metrics.MessagesDelivered.WithLabelValues("direct").Inc()
	} else {
		if err := c.queueOffline(ctx, msg); err != nil {
			return err
		}
		metrics.MessagesDelivered.WithLabelValues("queued").Inc()
	}
	if err := c.store.IncrementStats(ctx, msg.FromUserID, 1, 0, 0); err != nil {
		log.Warn().Err(err).Int64("user", msg.FromUserID).Msg("Stats update failed")
	}
	return nil
}

// recipientReachable consults the presence registry. The registry TTL is
// the single staleness window; there is no separate freshness check.
func (c *CommsService) recipientReachable(ctx context.Context, userID int64, now time.Time) bool {
	rec, err := c.reg.LookupByUser(ctx, userID)
	if err != nil {
		return false
	}
	return rec.Online(now, c.registryTTL)
}

// checkOfflineGate rejects engaging a friend whose agent is offline and
// whose own side of the relationship opts out of offline conversations.
// Delivery still queues either way; this gate only blocks starting new
// exchanges.
func (c *CommsService) checkOfflineGate(ctx context.Context, fromUserID, toUserID int64) error {
	if c.recipientReachable(ctx, toUserID, c.clock.Now()) {
		return nil
	}
	rel, err := c.store.GetRelationship(ctx, toUserID, fromUserID)
	if err != nil {
		return err
	}
	if !rel.CanRespondOffline {
		return validationf("user %d is offline and does not accept offline conversations", toUserID)
	}
	return nil
}

// recordInteraction stamps both relationship rows and bumps the per-agent
// conversation counters. Called when a conversation actually happens, not
// when one is merely proposed.
func (c *CommsService) recordInteraction(ctx context.Context, userAID, userBID int64) {
	now := c.clock.Now()
	for _, pair := range [][2]int64{{userAID, userBID}, {userBID, userAID}} {
		rel, err := c.store.GetRelationship(ctx, pair[0], pair[1])
		if err != nil {
			log.Warn().Err(err).Int64("user", pair[0]).Msg("Interaction stamp failed")
			continue
		}
		rel.LastInteraction = &now
		rel.ConversationCount++
		if err := c.store.UpdateRelationship(ctx, rel); err != nil {
			log.Warn().Err(err).Int64("user", pair[0]).Msg("Interaction stamp failed")
		}
		if err := c.store.IncrementStats(ctx, pair[0], 0, 0, 1); err != nil {
			log.Warn().Err(err).Int64("user", pair[0]).Msg("Stats update failed")
		}
	}
}

// ── Status updates and history ──────────────────────────────

// StatusUpdateResult reports one recipient's outcome.
type StatusUpdateResult struct {
	TargetUserID int64  `json:"target_user_id"`
	Success      bool   `json:"success"`
	MessageID    string `json:"message_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SendStatusUpdate broadcasts a short status line ("at the gym") to the
// given friends, or to all friends when targets is empty. Each recipient
// is handled independently; one failure never blocks the rest.
func (c *CommsService) SendStatusUpdate(ctx context.Context, fromUserID int64, statusMessage string, targets []int64) ([]StatusUpdateResult, error) {
	if strings.TrimSpace(statusMessage) == "" {
		return nil, validationf("status message is required")
	}
	if len(targets) == 0 {
		friends, err := c.store.ListFriends(ctx, fromUserID)
		if err != nil {
			return nil, err
		}
		for _, f := range friends {
			targets = append(targets, f.PeerUserID)
		}
	}

	results := make([]StatusUpdateResult, 0, len(targets))
	for _, target := range targets {
		msg, err := c.sendStatusTo(ctx, fromUserID, target, statusMessage)
		if err != nil {
			log.Warn().Err(err).Int64("target", target).Msg("Status update failed")
			results = append(results, StatusUpdateResult{TargetUserID: target, Error: err.Error()})
			continue
		}
		results = append(results, StatusUpdateResult{TargetUserID: target, Success: true, MessageID: msg.ID})
	}
	return results, nil
}

// sendStatusTo wraps one status update in a single-turn completed
// session so it shows up in conversation history like any other message.
func (c *CommsService) sendStatusTo(ctx context.Context, fromUserID, toUserID int64, statusMessage string) (*models.Message, error) {
	rel, err := c.store.GetMutualRelationship(ctx, fromUserID, toUserID)
	if err != nil {
		if isNotFound(err) {
			return nil, validationf("user %d is not a friend", toUserID)
		}
		return nil, err
	}

	filtered := privacy.Apply(rel, statusMessage, privacy.Context{})
	return c.sendSingleTurn(ctx, fromUserID, toUserID, "Status update", models.MessageStatusUpdate, filtered)
}

// SendCheckIn generates and delivers a short check-in line to one friend,
// colored by the sender's recent memories. Scheduled check-ins call this
// per target; a generator failure falls back to a fixed line instead of
// failing the check-in.
func (c *CommsService) SendCheckIn(ctx context.Context, fromUserID, toUserID int64) (*models.Message, error) {
	if fromUserID == toUserID {
		return nil, validationf("cannot check in on yourself")
	}
	rel, err := c.store.GetMutualRelationship(ctx, fromUserID, toUserID)
	if err != nil {
		if isNotFound(err) {
			return nil, validationf("user %d is not a friend", toUserID)
		}
		return nil, err
	}
	if err := c.checkOfflineGate(ctx, fromUserID, toUserID); err != nil {
		return nil, err
	}

	memories, err := c.store.ListRecentMemories(ctx, fromUserID, 5, c.clock.Now().AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	memoryContext, _ := buildMemoryContext(memories)

	content := CheckInFallback
	result, err := c.gen.Complete(ctx, &contracts.CompletionRequest{
		System: "You write one short, warm check-in message from a personal assistant " +
			"to a friend's assistant. One or two sentences, no questions about private topics.",
		Turns: []contracts.Turn{{
			Role: contracts.RoleUser,
			Content: fmt.Sprintf("Relationship: %s. Recent notes about my user:\n%s\nWrite the check-in message.",
				rel.RelationshipType, memoryContext),
		}},
	})
	if err != nil {
		log.Warn().Err(err).Int64("from", fromUserID).Int64("to", toUserID).Msg("Check-in generation failed, using fallback")
		metrics.TurnsGenerated.WithLabelValues("fallback").Inc()
	} else {
		content = result.Content
		metrics.TurnsGenerated.WithLabelValues("ok").Inc()
	}

	filtered := privacy.Apply(rel, content, privacy.Context{})
	return c.sendSingleTurn(ctx, fromUserID, toUserID, "Check-in", models.MessageCheckIn, filtered)
}

// sendSingleTurn wraps one standalone message in an already-completed
// single-turn session so it persists and delivers like a conversation
// turn and shows up in history.
func (c *CommsService) sendSingleTurn(ctx context.Context, fromUserID, toUserID int64, objective string, msgType models.MessageType, filtered privacy.Result) (*models.Message, error) {
	now := c.clock.Now()
	session := &models.ConversationSession{
		ID:            uuid.NewString(),
		UserAID:       fromUserID,
		UserBID:       toUserID,
		InitiatedBy:   fromUserID,
		Objective:     objective,
		Status:        models.SessionCompleted,
		TurnCount:     1,
		MaxTurns:      1,
		NextSpeakerID: toUserID,
		ExpiresAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := c.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:             ulid.Make().String(),
		SessionID:      session.ID,
		FromUserID:     fromUserID,
		ToUserID:       toUserID,
		Content:        filtered.Content,
		Type:           msgType,
		ApprovalStatus: models.ApprovalSent,
		DeliveryStatus: models.DeliveryPending,
		PrivacyApplied: filtered.Level,
		CreatedAt:      now,
	}
	if err := c.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := c.deliver(ctx, msg); err != nil {
		return nil, err
	}
	c.recordInteraction(ctx, fromUserID, toUserID)
	return msg, nil
}

// ConversationHistory returns the messages exchanged between two users
// across all their sessions, oldest first.
func (c *CommsService) ConversationHistory(ctx context.Context, userAID, userBID int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	sessions, err := c.store.ListSessionsForUser(ctx, userAID, 0)
	if err != nil {
		return nil, err
	}

	var out []models.Message
	for i := range sessions {
		if !sessions[i].Participant(userBID) {
			continue
		}
		msgs, err := c.store.ListSessionMessages(ctx, sessions[i].ID, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// SessionMessages returns a session's transcript for a participant.
func (c *CommsService) SessionMessages(ctx context.Context, sessionID string, userID int64, limit int) ([]models.Message, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Participant(userID) {
		return nil, validationf("user is not a participant in this session")
	}
	return c.store.ListSessionMessages(ctx, sessionID, limit)
}
