// Package models defines the entities exchanged between the mjnet services
// and the storage layer. All status fields are typed string enums so that
// state machines operate on tagged values, never free-form strings.
package models

import (
	"time"
)

// ProtocolVersion is the agent-to-agent wire protocol version advertised
// during discovery handshakes.
const ProtocolVersion = "1.0"

// ── Agent presence ───────────────────────────────────────────

type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentAway    AgentStatus = "away"
	AgentOffline AgentStatus = "offline"
)

// AgentRecord is the identity of one running agent instance as advertised
// in the presence registry and returned by discovery probes.
type AgentRecord struct {
	AgentID         string      `json:"agent_id"`
	UserID          int64       `json:"user_id"`
	UserName        string      `json:"user_name"`
	Address         string      `json:"address"`
	Capabilities    []string    `json:"capabilities"`
	ProtocolVersion string      `json:"protocol_version"`
	Status          AgentStatus `json:"status"`
	LastSeen        time.Time   `json:"last_seen"`
}

// Online reports whether the record counts as reachable given the registry
// TTL. The registry TTL is the single authoritative staleness window.
func (r *AgentRecord) Online(now time.Time, ttl time.Duration) bool {
	return r.Status == AgentOnline && now.Sub(r.LastSeen) < ttl
}

// AgentStats tracks per-user delivery counters.
type AgentStats struct {
	UserID           int64 `json:"user_id"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	Conversations    int64 `json:"conversations"`
}

// ── Relationships ────────────────────────────────────────────

type ShareLevel string

const (
	ShareBasic    ShareLevel = "basic"
	ShareModerate ShareLevel = "moderate"
	ShareFull     ShareLevel = "full"
)

type RelationshipStatus string

const (
	RelationshipActive  RelationshipStatus = "active"
	RelationshipBlocked RelationshipStatus = "blocked"
)

// Relationship is a directed privacy-scoped edge from a user to a peer.
// An accepted friendship always exists as two rows, one per direction;
// the two rows may diverge in privacy settings but never in IsConnected.
type Relationship struct {
	ID                string             `json:"id"`
	UserID            int64              `json:"user_id"`
	PeerUserID        int64              `json:"peer_user_id"`
	RelationshipType  string             `json:"relationship_type"`
	Status            RelationshipStatus `json:"status"`
	ShareLevel        ShareLevel         `json:"share_level"`
	RestrictedTopics  []string           `json:"restricted_topics"`
	TrustLevel        float64            `json:"trust_level"`
	IsConnected       bool               `json:"is_connected"`
	CanRespondOffline bool               `json:"can_respond_offline"`
	LastInteraction   *time.Time         `json:"last_interaction,omitempty"`
	ConversationCount int                `json:"conversation_count"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// ClampTrust bounds a trust adjustment to [0, 1].
func ClampTrust(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// DefaultShareLevel returns the tier-appropriate default for a newly
// accepted relationship. Family-like ties default broad, professional
// ties default narrow.
func DefaultShareLevel(relationshipType string) ShareLevel {
	switch relationshipType {
	case "family", "parent", "sibling":
		return ShareFull
	case "friend":
		return ShareModerate
	case "colleague", "acquaintance":
		return ShareBasic
	default:
		return ShareModerate
	}
}

// ── Friend requests ──────────────────────────────────────────

type FriendRequestStatus string

const (
	RequestPending   FriendRequestStatus = "pending"
	RequestAccepted  FriendRequestStatus = "accepted"
	RequestRejected  FriendRequestStatus = "rejected"
	RequestCancelled FriendRequestStatus = "cancelled"
	RequestExpired   FriendRequestStatus = "expired"
)

// Terminal reports whether the request can no longer change state.
func (s FriendRequestStatus) Terminal() bool {
	return s != RequestPending
}

// DefaultRequestTTL is how long a pending friend request stays open.
const DefaultRequestTTL = 30 * 24 * time.Hour

type FriendRequest struct {
	ID                        string              `json:"id"`
	FromUserID                int64               `json:"from_user_id"`
	ToUserID                  int64               `json:"to_user_id"`
	Status                    FriendRequestStatus `json:"status"`
	SuggestedRelationshipType string              `json:"suggested_relationship_type"`
	Message                   string              `json:"message,omitempty"`
	ResponseMessage           string              `json:"response_message,omitempty"`
	RespondedAt               *time.Time          `json:"responded_at,omitempty"`
	ExpiresAt                 time.Time           `json:"expires_at"`
	CreatedAt                 time.Time           `json:"created_at"`
}

// ── Conversation sessions ────────────────────────────────────

type SessionStatus string

const (
	SessionPendingApproval SessionStatus = "pending_approval"
	SessionInProgress      SessionStatus = "in_progress"
	SessionCompleted       SessionStatus = "completed"
	SessionRejected        SessionStatus = "rejected"
	SessionExpired         SessionStatus = "expired"
	SessionMaxTurns        SessionStatus = "max_turns_reached"
)

// Terminal reports whether the session has finished. Sessions are never
// deleted, only terminalized, so history stays auditable.
func (s SessionStatus) Terminal() bool {
	return s != SessionPendingApproval && s != SessionInProgress
}

// ConversationSession is one bounded multi-turn exchange between two
// users' agents pursuing a stated objective.
type ConversationSession struct {
	ID            string        `json:"id"`
	UserAID       int64         `json:"user_a_id"`
	UserBID       int64         `json:"user_b_id"`
	InitiatedBy   int64         `json:"initiated_by"`
	Objective     string        `json:"objective"`
	Status        SessionStatus `json:"status"`
	TurnCount     int           `json:"turn_count"`
	MaxTurns      int           `json:"max_turns"`
	NextSpeakerID int64         `json:"next_speaker_id"`
	ExpiresAt     time.Time     `json:"expires_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// OtherParty returns the participant that is not userID.
func (s *ConversationSession) OtherParty(userID int64) int64 {
	if userID == s.UserAID {
		return s.UserBID
	}
	return s.UserAID
}

// Participant reports whether userID is one of the two session parties.
func (s *ConversationSession) Participant(userID int64) bool {
	return userID == s.UserAID || userID == s.UserBID
}

// ── Messages ─────────────────────────────────────────────────

type MessageType string

const (
	MessageText         MessageType = "text"
	MessageStatusUpdate MessageType = "status_update"
	MessageCheckIn      MessageType = "check_in"
	MessageQuestion     MessageType = "question"
	MessageResponse     MessageType = "response"
)

type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "draft"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalSent     ApprovalStatus = "sent"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Message is one generated utterance inside a session. Drafts stay
// mutable until approved; after approval the row is append-only.
type Message struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	FromUserID     int64          `json:"from_user_id"`
	ToUserID       int64          `json:"to_user_id"`
	Content        string         `json:"content"`
	Type           MessageType    `json:"type"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`

	// Generation provenance
	PromptUsed     string   `json:"prompt_used,omitempty"`
	RawResponse    string   `json:"raw_response,omitempty"`
	TokensUsed     int      `json:"tokens_used"`
	MemoriesUsed   []string `json:"memories_used,omitempty"`
	PrivacyApplied string   `json:"privacy_applied,omitempty"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ── Offline queue ────────────────────────────────────────────

type PendingStatus string

const (
	PendingQueued    PendingStatus = "queued"
	PendingDelivered PendingStatus = "delivered"
)

// PendingMessage is a store-and-forward queue entry for a recipient whose
// agent was unreachable at send time.
type PendingMessage struct {
	ID              string        `json:"id"`
	MessageID       string        `json:"message_id"`
	RecipientUserID int64         `json:"recipient_user_id"`
	Status          PendingStatus `json:"status"`
	Attempts        int           `json:"attempts"`
	QueuedAt        time.Time     `json:"queued_at"`
	DeliveredAt     *time.Time    `json:"delivered_at,omitempty"`
}

// ── Memory facts ─────────────────────────────────────────────

// MemoryFact is a remembered statement about a user, used as generation
// context after privacy filtering.
type MemoryFact struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"user_id"`
	Fact       string    `json:"fact"`
	Category   string    `json:"category"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}
