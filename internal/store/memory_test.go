package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mjnet/mjnet/internal/store"
	"github.com/mjnet/mjnet/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests.
func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func testRelationship(id string, userID, peerUserID int64) *models.Relationship {
	now := time.Now().UTC()
	return &models.Relationship{
		ID:                id,
		UserID:            userID,
		PeerUserID:        peerUserID,
		RelationshipType:  "friend",
		Status:            models.RelationshipActive,
		ShareLevel:        models.ShareModerate,
		TrustLevel:        0.5,
		IsConnected:       true,
		CanRespondOffline: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ─── Relationships ───────────────────────────────────────────

func TestCreateAndGetRelationship(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rel := testRelationship("r1", 1, 2)
	if err := s.CreateRelationship(ctx, rel); err != nil {
		t.Fatalf("CreateRelationship() error = %v", err)
	}

	got, err := s.GetRelationship(ctx, 1, 2)
	if err != nil {
		t.Fatalf("GetRelationship() error = %v", err)
	}
	if got.ID != "r1" {
		t.Errorf("GetRelationship().ID = %q, want %q", got.ID, "r1")
	}
	if got.ShareLevel != models.ShareModerate {
		t.Errorf("GetRelationship().ShareLevel = %q, want %q", got.ShareLevel, models.ShareModerate)
	}
}

func TestCreateRelationship_DuplicateEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateRelationship(ctx, testRelationship("r1", 1, 2)); err != nil {
		t.Fatalf("CreateRelationship() first call error = %v", err)
	}
	err := s.CreateRelationship(ctx, testRelationship("r2", 1, 2))
	var conflict *store.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("CreateRelationship() duplicate edge error = %v, want ErrConflict", err)
	}
}

func TestGetRelationship_TopicsAreNotShared(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rel := testRelationship("r1", 1, 2)
	rel.RestrictedTopics = []string{"health", "money"}
	if err := s.CreateRelationship(ctx, rel); err != nil {
		t.Fatalf("CreateRelationship() error = %v", err)
	}

	// Mutating either the input or a returned copy must not leak into
	// the stored row.
	rel.RestrictedTopics[0] = "mutated-input"
	got, err := s.GetRelationship(ctx, 1, 2)
	if err != nil {
		t.Fatalf("GetRelationship() error = %v", err)
	}
	got.RestrictedTopics[1] = "mutated-copy"

	again, _ := s.GetRelationship(ctx, 1, 2)
	if again.RestrictedTopics[0] != "health" || again.RestrictedTopics[1] != "money" {
		t.Errorf("RestrictedTopics = %v, want [health money]", again.RestrictedTopics)
	}
}

func TestGetRelationship_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetRelationship(context.Background(), 1, 99)
	var notFound *store.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("GetRelationship() error = %v, want ErrNotFound", err)
	}
}

func TestGetMutualRelationship(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Only one direction exists: not mutual.
	s.CreateRelationship(ctx, testRelationship("r1", 1, 2))
	if _, err := s.GetMutualRelationship(ctx, 1, 2); err == nil {
		t.Fatal("GetMutualRelationship() with one direction = nil error, want ErrNotFound")
	}

	// Reverse row completes the pair.
	s.CreateRelationship(ctx, testRelationship("r2", 2, 1))
	got, err := s.GetMutualRelationship(ctx, 1, 2)
	if err != nil {
		t.Fatalf("GetMutualRelationship() error = %v", err)
	}
	if got.UserID != 1 || got.PeerUserID != 2 {
		t.Errorf("GetMutualRelationship() edge = %d->%d, want 1->2", got.UserID, got.PeerUserID)
	}
}

func TestGetMutualRelationship_Blocked(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateRelationship(ctx, testRelationship("r1", 1, 2))
	blocked := testRelationship("r2", 2, 1)
	blocked.Status = models.RelationshipBlocked
	s.CreateRelationship(ctx, blocked)

	if _, err := s.GetMutualRelationship(ctx, 1, 2); err == nil {
		t.Fatal("GetMutualRelationship() with blocked reverse = nil error, want ErrNotFound")
	}
}

func TestListFriends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateRelationship(ctx, testRelationship("r1", 1, 2))
	s.CreateRelationship(ctx, testRelationship("r2", 1, 3))
	disconnected := testRelationship("r3", 1, 4)
	disconnected.IsConnected = false
	s.CreateRelationship(ctx, disconnected)
	s.CreateRelationship(ctx, testRelationship("r4", 9, 1)) // other user's edge

	friends, err := s.ListFriends(ctx, 1)
	if err != nil {
		t.Fatalf("ListFriends() error = %v", err)
	}
	if len(friends) != 2 {
		t.Fatalf("ListFriends() returned %d, want 2", len(friends))
	}
	if friends[0].PeerUserID != 2 || friends[1].PeerUserID != 3 {
		t.Errorf("ListFriends() peers = %d,%d, want 2,3", friends[0].PeerUserID, friends[1].PeerUserID)
	}
}

func TestUpdateRelationship(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rel := testRelationship("r1", 1, 2)
	s.CreateRelationship(ctx, rel)

	rel.ShareLevel = models.ShareFull
	rel.TrustLevel = 0.9
	if err := s.UpdateRelationship(ctx, rel); err != nil {
		t.Fatalf("UpdateRelationship() error = %v", err)
	}

	got, _ := s.GetRelationship(ctx, 1, 2)
	if got.ShareLevel != models.ShareFull {
		t.Errorf("after update, ShareLevel = %q, want %q", got.ShareLevel, models.ShareFull)
	}
	if got.TrustLevel != 0.9 {
		t.Errorf("after update, TrustLevel = %v, want 0.9", got.TrustLevel)
	}
}

func TestDeleteRelationship(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateRelationship(ctx, testRelationship("r1", 1, 2))
	if err := s.DeleteRelationship(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRelationship() error = %v", err)
	}
	if _, err := s.GetRelationship(ctx, 1, 2); err == nil {
		t.Fatal("GetRelationship() after delete = nil error, want ErrNotFound")
	}
	// Edge index must be released so the pair can reconnect.
	if err := s.CreateRelationship(ctx, testRelationship("r2", 1, 2)); err != nil {
		t.Fatalf("CreateRelationship() after delete error = %v", err)
	}
}

// ─── Friend requests ─────────────────────────────────────────

func testRequest(id string, from, to int64) *models.FriendRequest {
	now := time.Now().UTC()
	return &models.FriendRequest{
		ID:                        id,
		FromUserID:                from,
		ToUserID:                  to,
		Status:                    models.RequestPending,
		SuggestedRelationshipType: "friend",
		ExpiresAt:                 now.Add(models.DefaultRequestTTL),
		CreatedAt:                 now,
	}
}

func TestGetExistingRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateFriendRequest(ctx, testRequest("q1", 1, 2))

	got, err := s.GetExistingRequest(ctx, 1, 2)
	if err != nil {
		t.Fatalf("GetExistingRequest() error = %v", err)
	}
	if got.ID != "q1" {
		t.Errorf("GetExistingRequest().ID = %q, want %q", got.ID, "q1")
	}

	// Reverse direction is a different edge.
	if _, err := s.GetExistingRequest(ctx, 2, 1); err == nil {
		t.Fatal("GetExistingRequest() reverse direction = nil error, want ErrNotFound")
	}
}

func TestGetExistingRequest_IgnoresResolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := testRequest("q1", 1, 2)
	s.CreateFriendRequest(ctx, req)

	req.Status = models.RequestRejected
	if err := s.UpdateFriendRequest(ctx, req); err != nil {
		t.Fatalf("UpdateFriendRequest() error = %v", err)
	}
	if _, err := s.GetExistingRequest(ctx, 1, 2); err == nil {
		t.Fatal("GetExistingRequest() after rejection = nil error, want ErrNotFound")
	}
}

func TestListPendingRequestsFor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateFriendRequest(ctx, testRequest("q1", 1, 3))
	s.CreateFriendRequest(ctx, testRequest("q2", 2, 3))
	accepted := testRequest("q3", 4, 3)
	accepted.Status = models.RequestAccepted
	s.CreateFriendRequest(ctx, accepted)

	pending, err := s.ListPendingRequestsFor(ctx, 3)
	if err != nil {
		t.Fatalf("ListPendingRequestsFor() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("ListPendingRequestsFor() returned %d, want 2", len(pending))
	}

	sent, err := s.ListSentRequestsBy(ctx, 1)
	if err != nil {
		t.Fatalf("ListSentRequestsBy() error = %v", err)
	}
	if len(sent) != 1 || sent[0].ID != "q1" {
		t.Errorf("ListSentRequestsBy() = %v, want one request q1", sent)
	}
}

// ─── Sessions ────────────────────────────────────────────────

func testSession(id string, a, b int64) *models.ConversationSession {
	now := time.Now().UTC()
	return &models.ConversationSession{
		ID:            id,
		UserAID:       a,
		UserBID:       b,
		InitiatedBy:   a,
		Objective:     "catch up",
		Status:        models.SessionPendingApproval,
		MaxTurns:      10,
		NextSpeakerID: a,
		ExpiresAt:     now.Add(time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestAdvanceSessionTurn_CAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := testSession("s1", 1, 2)
	sess.Status = models.SessionInProgress
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	sess.TurnCount = 1
	sess.NextSpeakerID = 2
	if err := s.AdvanceSessionTurn(ctx, sess, 0); err != nil {
		t.Fatalf("AdvanceSessionTurn() error = %v", err)
	}

	// A second advance from the same observed turn must lose the race.
	stale := testSession("s1", 1, 2)
	stale.Status = models.SessionInProgress
	stale.TurnCount = 1
	err := s.AdvanceSessionTurn(ctx, stale, 0)
	var conflict *store.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("AdvanceSessionTurn() from stale turn error = %v, want ErrConflict", err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if got.TurnCount != 1 {
		t.Errorf("TurnCount after conflicting advance = %d, want 1", got.TurnCount)
	}
}

func TestListSessionsReadyForTurn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	active := testSession("s1", 1, 2)
	active.Status = models.SessionInProgress
	s.CreateSession(ctx, active)
	s.CreateSession(ctx, testSession("s2", 3, 4)) // still pending approval
	done := testSession("s3", 5, 6)
	done.Status = models.SessionCompleted
	s.CreateSession(ctx, done)

	ready, err := s.ListSessionsReadyForTurn(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListSessionsReadyForTurn() error = %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "s1" {
		t.Errorf("ListSessionsReadyForTurn() = %v, want only s1", ready)
	}

	activeSessions, _ := s.ListActiveSessions(ctx)
	if len(activeSessions) != 2 {
		t.Errorf("ListActiveSessions() returned %d, want 2", len(activeSessions))
	}
}

func TestListSessionsForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateSession(ctx, testSession("s1", 1, 2))
	s.CreateSession(ctx, testSession("s2", 2, 3))
	s.CreateSession(ctx, testSession("s3", 4, 5))

	got, err := s.ListSessionsForUser(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListSessionsForUser() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListSessionsForUser(2) returned %d, want 2", len(got))
	}
}

// ─── Messages ────────────────────────────────────────────────

func testMessage(id, sessionID string, from, to int64) *models.Message {
	return &models.Message{
		ID:             id,
		SessionID:      sessionID,
		FromUserID:     from,
		ToUserID:       to,
		Content:        "hello",
		Type:           models.MessageText,
		ApprovalStatus: models.ApprovalApproved,
		DeliveryStatus: models.DeliveryPending,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestListSessionMessages_OrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.CreateMessage(ctx, testMessage(id, "s1", 1, 2)); err != nil {
			t.Fatalf("CreateMessage(%s) error = %v", id, err)
		}
	}
	s.CreateMessage(ctx, testMessage("m4", "s2", 3, 4))

	msgs, err := s.ListSessionMessages(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListSessionMessages() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("ListSessionMessages() returned %d, want 3", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Errorf("ListSessionMessages() order = %s..%s, want m1..m3", msgs[0].ID, msgs[2].ID)
	}

	// Limit keeps the most recent messages.
	tail, _ := s.ListSessionMessages(ctx, "s1", 2)
	if len(tail) != 2 || tail[0].ID != "m2" {
		t.Errorf("ListSessionMessages(limit=2) = %v, want m2,m3", tail)
	}
}

func TestMessageDraftLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := testMessage("m1", "s1", 1, 2)
	msg.ApprovalStatus = models.ApprovalDraft
	s.CreateMessage(ctx, msg)

	msg.Content = "edited"
	msg.ApprovalStatus = models.ApprovalApproved
	if err := s.UpdateMessage(ctx, msg); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}

	got, _ := s.GetMessage(ctx, "m1")
	if got.Content != "edited" {
		t.Errorf("after update, Content = %q, want %q", got.Content, "edited")
	}
	if got.ApprovalStatus != models.ApprovalApproved {
		t.Errorf("after update, ApprovalStatus = %q, want %q", got.ApprovalStatus, models.ApprovalApproved)
	}
}

// ─── Pending queue ───────────────────────────────────────────

func TestPendingQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, id := range []string{"p1", "p2"} {
		s.EnqueuePending(ctx, &models.PendingMessage{
			ID:              id,
			MessageID:       "m" + id,
			RecipientUserID: 7,
			Status:          models.PendingQueued,
			QueuedAt:        now.Add(time.Duration(i) * time.Second),
		})
	}
	s.EnqueuePending(ctx, &models.PendingMessage{
		ID: "p3", MessageID: "mx", RecipientUserID: 8,
		Status: models.PendingQueued, QueuedAt: now,
	})

	queued, err := s.ListPendingForUser(ctx, 7)
	if err != nil {
		t.Fatalf("ListPendingForUser() error = %v", err)
	}
	if len(queued) != 2 || queued[0].ID != "p1" {
		t.Fatalf("ListPendingForUser() = %v, want p1,p2 in queue order", queued)
	}

	delivered := queued[0]
	delivered.Status = models.PendingDelivered
	delivered.DeliveredAt = &now
	if err := s.UpdatePending(ctx, &delivered); err != nil {
		t.Fatalf("UpdatePending() error = %v", err)
	}

	remaining, _ := s.ListPendingForUser(ctx, 7)
	if len(remaining) != 1 || remaining[0].ID != "p2" {
		t.Errorf("after delivery, queue = %v, want only p2", remaining)
	}
}

// ─── Memory facts and stats ──────────────────────────────────

func TestListRecentMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, fact := range []string{"likes hiking", "busy week", "new job"} {
		s.CreateMemoryFact(ctx, &models.MemoryFact{
			ID:        fact,
			UserID:    1,
			Fact:      fact,
			Category:  "general",
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
	}

	got, err := s.ListRecentMemories(ctx, 1, 2, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListRecentMemories() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListRecentMemories() returned %d, want 2", len(got))
	}
	// Newest first.
	if got[0].Fact != "new job" {
		t.Errorf("ListRecentMemories()[0].Fact = %q, want %q", got[0].Fact, "new job")
	}

	// Window excludes old facts entirely.
	none, _ := s.ListRecentMemories(ctx, 1, 10, now.Add(time.Hour))
	if len(none) != 0 {
		t.Errorf("ListRecentMemories() with future window returned %d, want 0", len(none))
	}
}

func TestIncrementStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Zero-value stats for unknown users, not an error.
	got, err := s.GetStats(ctx, 1)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if got.MessagesSent != 0 {
		t.Errorf("GetStats() fresh MessagesSent = %d, want 0", got.MessagesSent)
	}

	s.IncrementStats(ctx, 1, 2, 1, 0)
	s.IncrementStats(ctx, 1, 1, 0, 1)

	got, _ = s.GetStats(ctx, 1)
	if got.MessagesSent != 3 || got.MessagesReceived != 1 || got.Conversations != 1 {
		t.Errorf("GetStats() = %+v, want sent=3 received=1 conversations=1", got)
	}
}
