// PostgreSQL Store implementation backed by pgxpool.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mjnet/mjnet/pkg/models"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the schema if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS relationships (
	id                  TEXT PRIMARY KEY,
	user_id             BIGINT NOT NULL,
	peer_user_id        BIGINT NOT NULL,
	relationship_type   TEXT NOT NULL DEFAULT 'friend',
	status              TEXT NOT NULL DEFAULT 'active',
	share_level         TEXT NOT NULL DEFAULT 'moderate',
	restricted_topics   TEXT[] NOT NULL DEFAULT '{}',
	trust_level         DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	is_connected        BOOLEAN NOT NULL DEFAULT FALSE,
	can_respond_offline BOOLEAN NOT NULL DEFAULT TRUE,
	last_interaction    TIMESTAMPTZ,
	conversation_count  INT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, peer_user_id),
	CHECK (user_id <> peer_user_id),
	CHECK (trust_level >= 0 AND trust_level <= 1)
);

CREATE TABLE IF NOT EXISTS friend_requests (
	id                TEXT PRIMARY KEY,
	from_user_id      BIGINT NOT NULL,
	to_user_id        BIGINT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'pending',
	suggested_type    TEXT NOT NULL DEFAULT 'friend',
	message           TEXT NOT NULL DEFAULT '',
	response_message  TEXT NOT NULL DEFAULT '',
	responded_at      TIMESTAMPTZ,
	expires_at        TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (from_user_id <> to_user_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_pending_request
	ON friend_requests (from_user_id, to_user_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	user_a_id       BIGINT NOT NULL,
	user_b_id       BIGINT NOT NULL,
	initiated_by    BIGINT NOT NULL,
	objective       TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending_approval',
	turn_count      INT NOT NULL DEFAULT 0,
	max_turns       INT NOT NULL DEFAULT 10,
	next_speaker_id BIGINT NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (user_a_id <> user_b_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions (status);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL REFERENCES sessions (id),
	from_user_id    BIGINT NOT NULL,
	to_user_id      BIGINT NOT NULL,
	content         TEXT NOT NULL,
	message_type    TEXT NOT NULL DEFAULT 'text',
	approval_status TEXT NOT NULL DEFAULT 'approved',
	delivery_status TEXT NOT NULL DEFAULT 'pending',
	prompt_used     TEXT NOT NULL DEFAULT '',
	raw_response    TEXT NOT NULL DEFAULT '',
	tokens_used     INT NOT NULL DEFAULT 0,
	memories_used   TEXT[] NOT NULL DEFAULT '{}',
	privacy_applied TEXT NOT NULL DEFAULT '',
	delivered_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS pending_messages (
	id                TEXT PRIMARY KEY,
	message_id        TEXT NOT NULL REFERENCES messages (id),
	recipient_user_id BIGINT NOT NULL,
	status            TEXT NOT NULL DEFAULT 'queued',
	attempts          INT NOT NULL DEFAULT 0,
	queued_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	delivered_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_pending_recipient
	ON pending_messages (recipient_user_id) WHERE status = 'queued';

CREATE TABLE IF NOT EXISTS memory_facts (
	id         TEXT PRIMARY KEY,
	user_id    BIGINT NOT NULL,
	fact       TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT 'general',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_memory_user ON memory_facts (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS agent_stats (
	user_id           BIGINT PRIMARY KEY,
	messages_sent     BIGINT NOT NULL DEFAULT 0,
	messages_received BIGINT NOT NULL DEFAULT 0,
	conversations     BIGINT NOT NULL DEFAULT 0
);
`

// ── Relationships ───────────────────────────────────────────

const relationshipColumns = `id, user_id, peer_user_id, relationship_type, status, share_level,
	restricted_topics, trust_level, is_connected, can_respond_offline,
	last_interaction, conversation_count, created_at, updated_at`

func scanRelationship(row pgx.Row) (*models.Relationship, error) {
	var rel models.Relationship
	err := row.Scan(
		&rel.ID, &rel.UserID, &rel.PeerUserID, &rel.RelationshipType, &rel.Status,
		&rel.ShareLevel, &rel.RestrictedTopics, &rel.TrustLevel, &rel.IsConnected,
		&rel.CanRespondOffline, &rel.LastInteraction, &rel.ConversationCount,
		&rel.CreatedAt, &rel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (s *PostgresStore) GetRelationship(ctx context.Context, userID, peerUserID int64) (*models.Relationship, error) {
	rel, err := scanRelationship(s.pool.QueryRow(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE user_id = $1 AND peer_user_id = $2`,
		userID, peerUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "relationship", Key: edgeString(userID, peerUserID)}
	}
	return rel, err
}

func (s *PostgresStore) GetMutualRelationship(ctx context.Context, userAID, userBID int64) (*models.Relationship, error) {
	rel, err := scanRelationship(s.pool.QueryRow(ctx, `
		SELECT `+relationshipColumns+` FROM relationships a
		WHERE a.user_id = $1 AND a.peer_user_id = $2
		  AND a.status = 'active' AND a.is_connected
		  AND EXISTS (
			SELECT 1 FROM relationships b
			WHERE b.user_id = $2 AND b.peer_user_id = $1
			  AND b.status = 'active' AND b.is_connected
		  )`, userAID, userBID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "relationship", Key: edgeString(userAID, userBID)}
	}
	return rel, err
}

func (s *PostgresStore) ListFriends(ctx context.Context, userID int64) ([]models.Relationship, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		 WHERE user_id = $1 AND status = 'active' AND is_connected
		 ORDER BY peer_user_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rel)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateRelationship(ctx context.Context, rel *models.Relationship) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relationships (id, user_id, peer_user_id, relationship_type, status,
			share_level, restricted_topics, trust_level, is_connected, can_respond_offline,
			last_interaction, conversation_count, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rel.ID, rel.UserID, rel.PeerUserID, rel.RelationshipType, rel.Status,
		rel.ShareLevel, rel.RestrictedTopics, rel.TrustLevel, rel.IsConnected,
		rel.CanRespondOffline, rel.LastInteraction, rel.ConversationCount,
		rel.CreatedAt, rel.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateRelationship(ctx context.Context, rel *models.Relationship) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relationships SET relationship_type=$2, status=$3, share_level=$4,
			restricted_topics=$5, trust_level=$6, is_connected=$7, can_respond_offline=$8,
			last_interaction=$9, conversation_count=$10, updated_at=now()
		WHERE id = $1`,
		rel.ID, rel.RelationshipType, rel.Status, rel.ShareLevel,
		rel.RestrictedTopics, rel.TrustLevel, rel.IsConnected, rel.CanRespondOffline,
		rel.LastInteraction, rel.ConversationCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "relationship", Key: rel.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteRelationship(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM relationships WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "relationship", Key: id}
	}
	return nil
}

// ── Friend requests ─────────────────────────────────────────

const requestColumns = `id, from_user_id, to_user_id, status, suggested_type,
	message, response_message, responded_at, expires_at, created_at`

func scanRequest(row pgx.Row) (*models.FriendRequest, error) {
	var req models.FriendRequest
	err := row.Scan(
		&req.ID, &req.FromUserID, &req.ToUserID, &req.Status,
		&req.SuggestedRelationshipType, &req.Message, &req.ResponseMessage,
		&req.RespondedAt, &req.ExpiresAt, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *PostgresStore) GetFriendRequest(ctx context.Context, id string) (*models.FriendRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM friend_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "friend request", Key: id}
	}
	return req, err
}

func (s *PostgresStore) GetExistingRequest(ctx context.Context, fromUserID, toUserID int64) (*models.FriendRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM friend_requests
		 WHERE from_user_id = $1 AND to_user_id = $2 AND status = 'pending'`,
		fromUserID, toUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "friend request", Key: edgeString(fromUserID, toUserID)}
	}
	return req, err
}

func (s *PostgresStore) ListPendingRequestsFor(ctx context.Context, userID int64) ([]models.FriendRequest, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM friend_requests
		 WHERE to_user_id = $1 AND status = 'pending' ORDER BY created_at`, userID)
}

func (s *PostgresStore) ListSentRequestsBy(ctx context.Context, userID int64) ([]models.FriendRequest, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM friend_requests
		 WHERE from_user_id = $1 AND status = 'pending' ORDER BY created_at`, userID)
}

func (s *PostgresStore) ListExpiredRequests(ctx context.Context, now time.Time) ([]models.FriendRequest, error) {
	return s.listRequests(ctx,
		`SELECT `+requestColumns+` FROM friend_requests
		 WHERE status = 'pending' AND expires_at < $1 ORDER BY created_at`, now)
}

func (s *PostgresStore) listRequests(ctx context.Context, query string, args ...any) ([]models.FriendRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FriendRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateFriendRequest(ctx context.Context, req *models.FriendRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO friend_requests (id, from_user_id, to_user_id, status, suggested_type,
			message, response_message, responded_at, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		req.ID, req.FromUserID, req.ToUserID, req.Status, req.SuggestedRelationshipType,
		req.Message, req.ResponseMessage, req.RespondedAt, req.ExpiresAt, req.CreatedAt)
	return err
}

func (s *PostgresStore) UpdateFriendRequest(ctx context.Context, req *models.FriendRequest) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE friend_requests SET status=$2, response_message=$3, responded_at=$4
		WHERE id = $1`,
		req.ID, req.Status, req.ResponseMessage, req.RespondedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "friend request", Key: req.ID}
	}
	return nil
}

// ── Sessions ────────────────────────────────────────────────

const sessionColumns = `id, user_a_id, user_b_id, initiated_by, objective, status,
	turn_count, max_turns, next_speaker_id, expires_at, created_at, updated_at`

func scanSession(row pgx.Row) (*models.ConversationSession, error) {
	var sess models.ConversationSession
	err := row.Scan(
		&sess.ID, &sess.UserAID, &sess.UserBID, &sess.InitiatedBy, &sess.Objective,
		&sess.Status, &sess.TurnCount, &sess.MaxTurns, &sess.NextSpeakerID,
		&sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*models.ConversationSession, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	return sess, err
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.ConversationSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_a_id, user_b_id, initiated_by, objective, status,
			turn_count, max_turns, next_speaker_id, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		session.ID, session.UserAID, session.UserBID, session.InitiatedBy,
		session.Objective, session.Status, session.TurnCount, session.MaxTurns,
		session.NextSpeakerID, session.ExpiresAt, session.CreatedAt, session.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session *models.ConversationSession) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status=$2, turn_count=$3, next_speaker_id=$4,
			expires_at=$5, updated_at=now()
		WHERE id = $1`,
		session.ID, session.Status, session.TurnCount, session.NextSpeakerID,
		session.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "session", Key: session.ID}
	}
	return nil
}

func (s *PostgresStore) AdvanceSessionTurn(ctx context.Context, session *models.ConversationSession, fromTurn int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status=$2, turn_count=$3, next_speaker_id=$4, updated_at=now()
		WHERE id = $1 AND turn_count = $5`,
		session.ID, session.Status, session.TurnCount, session.NextSpeakerID, fromTurn)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrConflict{Entity: "session", Key: session.ID, Reason: "turn already advanced"}
	}
	return nil
}

func (s *PostgresStore) ListSessionsReadyForTurn(ctx context.Context, _ time.Time) ([]models.ConversationSession, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status = 'in_progress' ORDER BY created_at`)
}

func (s *PostgresStore) ListActiveSessions(ctx context.Context) ([]models.ConversationSession, error) {
	return s.listSessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE status IN ('pending_approval','in_progress') ORDER BY created_at`)
}

func (s *PostgresStore) ListSessionsForUser(ctx context.Context, userID int64, limit int) ([]models.ConversationSession, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.listSessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE user_a_id = $1 OR user_b_id = $1 ORDER BY created_at LIMIT $2`,
		userID, limit)
}

func (s *PostgresStore) listSessions(ctx context.Context, query string, args ...any) ([]models.ConversationSession, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConversationSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// ── Messages ────────────────────────────────────────────────

const messageColumns = `id, session_id, from_user_id, to_user_id, content, message_type,
	approval_status, delivery_status, prompt_used, raw_response, tokens_used,
	memories_used, privacy_applied, delivered_at, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID, &msg.SessionID, &msg.FromUserID, &msg.ToUserID, &msg.Content,
		&msg.Type, &msg.ApprovalStatus, &msg.DeliveryStatus, &msg.PromptUsed,
		&msg.RawResponse, &msg.TokensUsed, &msg.MemoriesUsed, &msg.PrivacyApplied,
		&msg.DeliveredAt, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "message", Key: id}
	}
	return msg, err
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, session_id, from_user_id, to_user_id, content,
			message_type, approval_status, delivery_status, prompt_used, raw_response,
			tokens_used, memories_used, privacy_applied, delivered_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		msg.ID, msg.SessionID, msg.FromUserID, msg.ToUserID, msg.Content,
		msg.Type, msg.ApprovalStatus, msg.DeliveryStatus, msg.PromptUsed,
		msg.RawResponse, msg.TokensUsed, msg.MemoriesUsed, msg.PrivacyApplied,
		msg.DeliveredAt, msg.CreatedAt)
	return err
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET content=$2, message_type=$3, approval_status=$4,
			delivery_status=$5, delivered_at=$6
		WHERE id = $1`,
		msg.ID, msg.Content, msg.Type, msg.ApprovalStatus, msg.DeliveryStatus,
		msg.DeliveredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "message", Key: msg.ID}
	}
	return nil
}

func (s *PostgresStore) ListSessionMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		) recent ORDER BY created_at`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

// ── Pending messages ────────────────────────────────────────

func (s *PostgresStore) EnqueuePending(ctx context.Context, pending *models.PendingMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_messages (id, message_id, recipient_user_id, status, attempts, queued_at, delivered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		pending.ID, pending.MessageID, pending.RecipientUserID, pending.Status,
		pending.Attempts, pending.QueuedAt, pending.DeliveredAt)
	return err
}

func (s *PostgresStore) ListPendingForUser(ctx context.Context, userID int64) ([]models.PendingMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, recipient_user_id, status, attempts, queued_at, delivered_at
		FROM pending_messages
		WHERE recipient_user_id = $1 AND status = 'queued' ORDER BY queued_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PendingMessage
	for rows.Next() {
		var p models.PendingMessage
		if err := rows.Scan(&p.ID, &p.MessageID, &p.RecipientUserID, &p.Status,
			&p.Attempts, &p.QueuedAt, &p.DeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePending(ctx context.Context, pending *models.PendingMessage) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE pending_messages SET status=$2, attempts=$3, delivered_at=$4 WHERE id = $1`,
		pending.ID, pending.Status, pending.Attempts, pending.DeliveredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "pending message", Key: pending.ID}
	}
	return nil
}

// ── Memory facts ────────────────────────────────────────────

func (s *PostgresStore) ListRecentMemories(ctx context.Context, userID int64, limit int, since time.Time) ([]models.MemoryFact, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, fact, category, confidence, created_at
		FROM memory_facts
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3`, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MemoryFact
	for rows.Next() {
		var f models.MemoryFact
		if err := rows.Scan(&f.ID, &f.UserID, &f.Fact, &f.Category, &f.Confidence, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateMemoryFact(ctx context.Context, fact *models.MemoryFact) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memory_facts (id, user_id, fact, category, confidence, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		fact.ID, fact.UserID, fact.Fact, fact.Category, fact.Confidence, fact.CreatedAt)
	return err
}

// ── Stats ───────────────────────────────────────────────────

func (s *PostgresStore) GetStats(ctx context.Context, userID int64) (*models.AgentStats, error) {
	var st models.AgentStats
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, messages_sent, messages_received, conversations
		FROM agent_stats WHERE user_id = $1`, userID).
		Scan(&st.UserID, &st.MessagesSent, &st.MessagesReceived, &st.Conversations)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.AgentStats{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) IncrementStats(ctx context.Context, userID int64, sent, received, conversations int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_stats (user_id, messages_sent, messages_received, conversations)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE SET
			messages_sent = agent_stats.messages_sent + EXCLUDED.messages_sent,
			messages_received = agent_stats.messages_received + EXCLUDED.messages_received,
			conversations = agent_stats.conversations + EXCLUDED.conversations`,
		userID, sent, received, conversations)
	return err
}
