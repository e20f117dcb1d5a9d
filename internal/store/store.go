// Package store provides the storage interface and implementations for mjnet.
// All service code depends on the Store interface, making it easy to swap
// between in-memory (tests, single-node) and PostgreSQL (production)
// implementations.
package store

import (
	"context"
	"time"

	"github.com/mjnet/mjnet/pkg/models"
)

// Store is the primary storage interface. It is the single source of truth
// for relationship, session, and message state; each call is transactional.
type Store interface {
	RelationshipStore
	FriendRequestStore
	SessionStore
	MessageStore
	PendingMessageStore
	MemoryFactStore
	StatsStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Relationship Store ──────────────────────────────────────

type RelationshipStore interface {
	// GetRelationship returns the directed edge user → peer.
	GetRelationship(ctx context.Context, userID, peerUserID int64) (*models.Relationship, error)

	// GetMutualRelationship returns userA's side of an accepted, connected
	// friendship with userB, or ErrNotFound when the two are not friends.
	GetMutualRelationship(ctx context.Context, userAID, userBID int64) (*models.Relationship, error)

	// ListFriends returns all active connected relationships for a user.
	ListFriends(ctx context.Context, userID int64) ([]models.Relationship, error)

	CreateRelationship(ctx context.Context, rel *models.Relationship) error
	UpdateRelationship(ctx context.Context, rel *models.Relationship) error
	DeleteRelationship(ctx context.Context, id string) error
}

// ── Friend Request Store ────────────────────────────────────

type FriendRequestStore interface {
	GetFriendRequest(ctx context.Context, id string) (*models.FriendRequest, error)

	// GetExistingRequest returns the pending request from → to, if any.
	GetExistingRequest(ctx context.Context, fromUserID, toUserID int64) (*models.FriendRequest, error)

	ListPendingRequestsFor(ctx context.Context, userID int64) ([]models.FriendRequest, error)
	ListSentRequestsBy(ctx context.Context, userID int64) ([]models.FriendRequest, error)

	// ListExpiredRequests returns pending requests whose expiry has passed.
	ListExpiredRequests(ctx context.Context, now time.Time) ([]models.FriendRequest, error)

	CreateFriendRequest(ctx context.Context, req *models.FriendRequest) error
	UpdateFriendRequest(ctx context.Context, req *models.FriendRequest) error
}

// ── Session Store ───────────────────────────────────────────

type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.ConversationSession, error)
	CreateSession(ctx context.Context, session *models.ConversationSession) error
	UpdateSession(ctx context.Context, session *models.ConversationSession) error

	// AdvanceSessionTurn persists the session only if its stored turn count
	// still equals fromTurn, returning ErrConflict otherwise. This is the
	// compare-and-swap that keeps concurrent turn drivers from double
	// advancing a session.
	AdvanceSessionTurn(ctx context.Context, session *models.ConversationSession, fromTurn int) error

	// ListSessionsReadyForTurn returns in-progress sessions whose next turn
	// can be driven now.
	ListSessionsReadyForTurn(ctx context.Context, now time.Time) ([]models.ConversationSession, error)

	// ListActiveSessions returns every non-terminal session.
	ListActiveSessions(ctx context.Context) ([]models.ConversationSession, error)

	ListSessionsForUser(ctx context.Context, userID int64, limit int) ([]models.ConversationSession, error)
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	UpdateMessage(ctx context.Context, msg *models.Message) error

	// ListSessionMessages returns messages for a session in creation order.
	ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

// ── Pending Message Store ───────────────────────────────────

type PendingMessageStore interface {
	EnqueuePending(ctx context.Context, pending *models.PendingMessage) error

	// ListPendingForUser returns queued (undelivered) entries for a recipient.
	ListPendingForUser(ctx context.Context, userID int64) ([]models.PendingMessage, error)

	UpdatePending(ctx context.Context, pending *models.PendingMessage) error
}

// ── Memory Fact Store ───────────────────────────────────────

type MemoryFactStore interface {
	// ListRecentMemories returns up to limit facts about a user recorded
	// after since, newest first.
	ListRecentMemories(ctx context.Context, userID int64, limit int, since time.Time) ([]models.MemoryFact, error)

	CreateMemoryFact(ctx context.Context, fact *models.MemoryFact) error
}

// ── Stats Store ─────────────────────────────────────────────

type StatsStore interface {
	GetStats(ctx context.Context, userID int64) (*models.AgentStats, error)
	IncrementStats(ctx context.Context, userID int64, sent, received, conversations int64) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist. Expected
// absence (no relationship, no pending request) is modeled with this type,
// never with a hard failure.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when an optimistic concurrency check fails, such
// as two drivers advancing the same session turn.
type ErrConflict struct {
	Entity string
	Key    string
	Reason string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " conflict: " + e.Key + ": " + e.Reason
}
