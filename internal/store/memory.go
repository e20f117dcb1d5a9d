// In-memory Store implementation.
// Used when PostgreSQL is not configured (local dev, tests, single-node).
package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/mjnet/mjnet/pkg/models"
)

// MemoryStore implements Store with in-memory maps. All accessors return
// copies so callers never share mutable state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	relationships map[string]*models.Relationship       // key: id
	relByEdge     map[edgeKey]string                    // user→peer → relationship id
	requests      map[string]*models.FriendRequest      // key: id
	sessions      map[string]*models.ConversationSession // key: id
	messages      map[string]*models.Message            // key: id
	sessionMsgs   map[string][]string                   // session id → message ids in creation order
	pending       map[string]*models.PendingMessage     // key: id
	memories      map[int64][]*models.MemoryFact        // user id → facts, newest first
	stats         map[int64]*models.AgentStats          // key: user id
}

type edgeKey struct {
	user int64
	peer int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		relationships: make(map[string]*models.Relationship),
		relByEdge:     make(map[edgeKey]string),
		requests:      make(map[string]*models.FriendRequest),
		sessions:      make(map[string]*models.ConversationSession),
		messages:      make(map[string]*models.Message),
		sessionMsgs:   make(map[string][]string),
		pending:       make(map[string]*models.PendingMessage),
		memories:      make(map[int64][]*models.MemoryFact),
		stats:         make(map[int64]*models.AgentStats),
	}
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// ── Relationships ───────────────────────────────────────────

func (m *MemoryStore) GetRelationship(_ context.Context, userID, peerUserID int64) (*models.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.relByEdge[edgeKey{userID, peerUserID}]
	if !ok {
		return nil, &ErrNotFound{Entity: "relationship", Key: edgeString(userID, peerUserID)}
	}
	return cloneRelationship(m.relationships[id]), nil
}

func (m *MemoryStore) GetMutualRelationship(_ context.Context, userAID, userBID int64) (*models.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	aID, aOK := m.relByEdge[edgeKey{userAID, userBID}]
	bID, bOK := m.relByEdge[edgeKey{userBID, userAID}]
	if !aOK || !bOK {
		return nil, &ErrNotFound{Entity: "relationship", Key: edgeString(userAID, userBID)}
	}
	a, b := m.relationships[aID], m.relationships[bID]
	if a.Status != models.RelationshipActive || b.Status != models.RelationshipActive ||
		!a.IsConnected || !b.IsConnected {
		return nil, &ErrNotFound{Entity: "relationship", Key: edgeString(userAID, userBID)}
	}
	return cloneRelationship(a), nil
}

func (m *MemoryStore) ListFriends(_ context.Context, userID int64) ([]models.Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Relationship
	for _, rel := range m.relationships {
		if rel.UserID == userID && rel.Status == models.RelationshipActive && rel.IsConnected {
			out = append(out, *cloneRelationship(rel))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerUserID < out[j].PeerUserID })
	return out, nil
}

func (m *MemoryStore) CreateRelationship(_ context.Context, rel *models.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := edgeKey{rel.UserID, rel.PeerUserID}
	if _, exists := m.relByEdge[key]; exists {
		return &ErrConflict{Entity: "relationship", Key: edgeString(rel.UserID, rel.PeerUserID), Reason: "already exists"}
	}
	m.relationships[rel.ID] = cloneRelationship(rel)
	m.relByEdge[key] = rel.ID
	return nil
}

func (m *MemoryStore) UpdateRelationship(_ context.Context, rel *models.Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.relationships[rel.ID]; !exists {
		return &ErrNotFound{Entity: "relationship", Key: rel.ID}
	}
	cp := cloneRelationship(rel)
	cp.UpdatedAt = time.Now().UTC()
	m.relationships[rel.ID] = cp
	return nil
}

func (m *MemoryStore) DeleteRelationship(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel, exists := m.relationships[id]
	if !exists {
		return &ErrNotFound{Entity: "relationship", Key: id}
	}
	delete(m.relByEdge, edgeKey{rel.UserID, rel.PeerUserID})
	delete(m.relationships, id)
	return nil
}

// ── Friend requests ─────────────────────────────────────────

func (m *MemoryStore) GetFriendRequest(_ context.Context, id string) (*models.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "friend request", Key: id}
	}
	cp := *req
	return &cp, nil
}

func (m *MemoryStore) GetExistingRequest(_ context.Context, fromUserID, toUserID int64) (*models.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, req := range m.requests {
		if req.FromUserID == fromUserID && req.ToUserID == toUserID && req.Status == models.RequestPending {
			cp := *req
			return &cp, nil
		}
	}
	return nil, &ErrNotFound{Entity: "friend request", Key: edgeString(fromUserID, toUserID)}
}

func (m *MemoryStore) ListPendingRequestsFor(_ context.Context, userID int64) ([]models.FriendRequest, error) {
	return m.listRequests(func(r *models.FriendRequest) bool {
		return r.ToUserID == userID && r.Status == models.RequestPending
	}), nil
}

func (m *MemoryStore) ListSentRequestsBy(_ context.Context, userID int64) ([]models.FriendRequest, error) {
	return m.listRequests(func(r *models.FriendRequest) bool {
		return r.FromUserID == userID && r.Status == models.RequestPending
	}), nil
}

func (m *MemoryStore) ListExpiredRequests(_ context.Context, now time.Time) ([]models.FriendRequest, error) {
	return m.listRequests(func(r *models.FriendRequest) bool {
		return r.Status == models.RequestPending && now.After(r.ExpiresAt)
	}), nil
}

func (m *MemoryStore) listRequests(keep func(*models.FriendRequest) bool) []models.FriendRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.FriendRequest
	for _, req := range m.requests {
		if keep(req) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) CreateFriendRequest(_ context.Context, req *models.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateFriendRequest(_ context.Context, req *models.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.requests[req.ID]; !exists {
		return &ErrNotFound{Entity: "friend request", Key: req.ID}
	}
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

// ── Sessions ────────────────────────────────────────────────

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.ConversationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	cp := *sess
	return &cp, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, session *models.ConversationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return &ErrConflict{Entity: "session", Key: session.ID, Reason: "already exists"}
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, session *models.ConversationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return &ErrNotFound{Entity: "session", Key: session.ID}
	}
	cp := *session
	cp.UpdatedAt = time.Now().UTC()
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) AdvanceSessionTurn(_ context.Context, session *models.ConversationSession, fromTurn int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.sessions[session.ID]
	if !exists {
		return &ErrNotFound{Entity: "session", Key: session.ID}
	}
	if current.TurnCount != fromTurn {
		return &ErrConflict{Entity: "session", Key: session.ID, Reason: "turn already advanced"}
	}
	cp := *session
	cp.UpdatedAt = time.Now().UTC()
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MemoryStore) ListSessionsReadyForTurn(_ context.Context, _ time.Time) ([]models.ConversationSession, error) {
	return m.listSessions(func(s *models.ConversationSession) bool {
		return s.Status == models.SessionInProgress
	}), nil
}

func (m *MemoryStore) ListActiveSessions(_ context.Context) ([]models.ConversationSession, error) {
	return m.listSessions(func(s *models.ConversationSession) bool {
		return !s.Status.Terminal()
	}), nil
}

func (m *MemoryStore) ListSessionsForUser(_ context.Context, userID int64, limit int) ([]models.ConversationSession, error) {
	out := m.listSessions(func(s *models.ConversationSession) bool {
		return s.Participant(userID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) listSessions(keep func(*models.ConversationSession) bool) []models.ConversationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ConversationSession
	for _, sess := range m.sessions {
		if keep(sess) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ── Messages ────────────────────────────────────────────────

func (m *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "message", Key: id}
	}
	return cloneMessage(msg), nil
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.ID]; exists {
		return &ErrConflict{Entity: "message", Key: msg.ID, Reason: "already exists"}
	}
	m.messages[msg.ID] = cloneMessage(msg)
	m.sessionMsgs[msg.SessionID] = append(m.sessionMsgs[msg.SessionID], msg.ID)
	return nil
}

func (m *MemoryStore) UpdateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.messages[msg.ID]; !exists {
		return &ErrNotFound{Entity: "message", Key: msg.ID}
	}
	m.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (m *MemoryStore) ListSessionMessages(_ context.Context, sessionID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.sessionMsgs[sessionID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneMessage(m.messages[id]))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ── Pending messages ────────────────────────────────────────

func (m *MemoryStore) EnqueuePending(_ context.Context, pending *models.PendingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *pending
	m.pending[pending.ID] = &cp
	return nil
}

func (m *MemoryStore) ListPendingForUser(_ context.Context, userID int64) ([]models.PendingMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.PendingMessage
	for _, p := range m.pending {
		if p.RecipientUserID == userID && p.Status == models.PendingQueued {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

func (m *MemoryStore) UpdatePending(_ context.Context, pending *models.PendingMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[pending.ID]; !exists {
		return &ErrNotFound{Entity: "pending message", Key: pending.ID}
	}
	cp := *pending
	m.pending[pending.ID] = &cp
	return nil
}

// ── Memory facts ────────────────────────────────────────────

func (m *MemoryStore) ListRecentMemories(_ context.Context, userID int64, limit int, since time.Time) ([]models.MemoryFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.MemoryFact
	for _, f := range m.memories[userID] {
		if f.CreatedAt.Before(since) {
			continue
		}
		out = append(out, *f)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateMemoryFact(_ context.Context, fact *models.MemoryFact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *fact
	// Newest first so recency reads are a prefix scan.
	m.memories[fact.UserID] = append([]*models.MemoryFact{&cp}, m.memories[fact.UserID]...)
	return nil
}

// ── Stats ───────────────────────────────────────────────────

func (m *MemoryStore) GetStats(_ context.Context, userID int64) (*models.AgentStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stats[userID]
	if !ok {
		return &models.AgentStats{UserID: userID}, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) IncrementStats(_ context.Context, userID int64, sent, received, conversations int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[userID]
	if !ok {
		s = &models.AgentStats{UserID: userID}
		m.stats[userID] = s
	}
	s.MessagesSent += sent
	s.MessagesReceived += received
	s.Conversations += conversations
	return nil
}

func edgeString(a, b int64) string {
	return strconv.FormatInt(a, 10) + "->" + strconv.FormatInt(b, 10)
}

// Struct copies share backing arrays with the caller; the slice fields
// get their own storage so neither side can mutate the other's.

func cloneRelationship(rel *models.Relationship) *models.Relationship {
	cp := *rel
	cp.RestrictedTopics = append([]string(nil), rel.RestrictedTopics...)
	return &cp
}

func cloneMessage(msg *models.Message) *models.Message {
	cp := *msg
	cp.MemoriesUsed = append([]string(nil), msg.MemoriesUsed...)
	return &cp
}
