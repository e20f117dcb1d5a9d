// Package network implements the agent-to-agent services: friend and
// relationship management, conversation sessions with draft approval,
// store-and-forward delivery and the background session processor.
package network

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mjnet/mjnet/internal/metrics"
	"github.com/mjnet/mjnet/internal/store"
	"github.com/mjnet/mjnet/pkg/contracts"
	"github.com/mjnet/mjnet/pkg/models"
)

// FriendService manages friend requests and the relationship graph.
type FriendService struct {
	store store.Store
	clock contracts.Clock
}

// NewFriendService creates a friend service.
func NewFriendService(s store.Store, clock contracts.Clock) *FriendService {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	return &FriendService{store: s, clock: clock}
}

// SendFriendRequestInput is the request to start a friendship.
type SendFriendRequestInput struct {
	FromUserID    int64  `json:"from_user_id"`
	ToUserID      int64  `json:"to_user_id"`
	Message       string `json:"message,omitempty"`
	SuggestedType string `json:"suggested_relationship_type,omitempty"`
}

// SendFriendRequest creates a pending request after checking every guard:
// no self-requests, no duplicates, no requests across an existing
// friendship or a block, and no racing an open reverse request.
func (f *FriendService) SendFriendRequest(ctx context.Context, in SendFriendRequestInput) (*models.FriendRequest, error) {
	if in.FromUserID == in.ToUserID {
		return nil, validationf("cannot send a friend request to yourself")
	}
	if in.SuggestedType == "" {
		in.SuggestedType = "friend"
	}

	if blocked, err := f.blockedEitherWay(ctx, in.FromUserID, in.ToUserID); err != nil {
		return nil, err
	} else if blocked {
		return nil, validationf("cannot send a friend request to this user")
	}

	if _, err := f.store.GetMutualRelationship(ctx, in.FromUserID, in.ToUserID); err == nil {
		return nil, validationf("users are already friends")
	} else if !isNotFound(err) {
		return nil, err
	}

	if _, err := f.store.GetExistingRequest(ctx, in.FromUserID, in.ToUserID); err == nil {
		return nil, validationf("friend request already sent")
	} else if !isNotFound(err) {
		return nil, err
	}

	if _, err := f.store.GetExistingRequest(ctx, in.ToUserID, in.FromUserID); err == nil {
		return nil, validationf("this user has already sent you a friend request; respond to their request instead")
	} else if !isNotFound(err) {
		return nil, err
	}

	now := f.clock.Now()
	req := &models.FriendRequest{
		ID:                        uuid.NewString(),
		FromUserID:                in.FromUserID,
		ToUserID:                  in.ToUserID,
		Status:                    models.RequestPending,
		SuggestedRelationshipType: in.SuggestedType,
		Message:                   in.Message,
		ExpiresAt:                 now.Add(models.DefaultRequestTTL),
		CreatedAt:                 now,
	}
	if err := f.store.CreateFriendRequest(ctx, req); err != nil {
		return nil, err
	}

	metrics.FriendRequestsSent.Inc()
	log.Info().
		Int64("from", in.FromUserID).
		Int64("to", in.ToUserID).
		Str("request_id", req.ID).
		Msg("Friend request sent")
	return req, nil
}

// AcceptResult is returned by AcceptFriendRequest: the resolved request
// plus both directed relationship rows.
type AcceptResult struct {
	Request            *models.FriendRequest `json:"request"`
	Relationship       *models.Relationship  `json:"relationship"`
	MutualRelationship *models.Relationship  `json:"mutual_relationship"`
}

// AcceptFriendRequest resolves a pending request and creates the mutual
// relationship: one row per direction, both starting from the same
// tier-appropriate privacy defaults.
func (f *FriendService) AcceptFriendRequest(ctx context.Context, requestID string, acceptingUserID int64, relationshipType, responseMessage string) (*AcceptResult, error) {
	req, err := f.store.GetFriendRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ToUserID != acceptingUserID {
		return nil, validationf("only the recipient can accept a friend request")
	}
	if req.Status.Terminal() {
		return nil, validationf("friend request is already %s", req.Status)
	}

	now := f.clock.Now()
	if now.After(req.ExpiresAt) {
		req.Status = models.RequestExpired
		req.RespondedAt = &now
		if err := f.store.UpdateFriendRequest(ctx, req); err != nil {
			return nil, err
		}
		metrics.FriendRequestsResolved.WithLabelValues(string(models.RequestExpired)).Inc()
		return nil, validationf("friend request has expired")
	}

	req.Status = models.RequestAccepted
	req.ResponseMessage = responseMessage
	req.RespondedAt = &now
	if err := f.store.UpdateFriendRequest(ctx, req); err != nil {
		return nil, err
	}

	finalType := relationshipType
	if finalType == "" {
		finalType = req.SuggestedRelationshipType
	}

	relAB := newRelationship(req.FromUserID, req.ToUserID, finalType, now)
	relBA := newRelationship(req.ToUserID, req.FromUserID, finalType, now)
	if err := f.store.CreateRelationship(ctx, relAB); err != nil {
		return nil, err
	}
	if err := f.store.CreateRelationship(ctx, relBA); err != nil {
		return nil, err
	}

	metrics.FriendRequestsResolved.WithLabelValues(string(models.RequestAccepted)).Inc()
	log.Info().
		Int64("user_a", req.FromUserID).
		Int64("user_b", req.ToUserID).
		Str("type", finalType).
		Msg("Friend request accepted")
	return &AcceptResult{Request: req, Relationship: relAB, MutualRelationship: relBA}, nil
}

func newRelationship(userID, peerUserID int64, relationshipType string, now time.Time) *models.Relationship {
	return &models.Relationship{
		ID:                uuid.NewString(),
		UserID:            userID,
		PeerUserID:        peerUserID,
		RelationshipType:  relationshipType,
		Status:            models.RelationshipActive,
		ShareLevel:        models.DefaultShareLevel(relationshipType),
		TrustLevel:        0.5,
		IsConnected:       true,
		CanRespondOffline: true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// RejectFriendRequest resolves a pending request negatively. Only the
// recipient may reject.
func (f *FriendService) RejectFriendRequest(ctx context.Context, requestID string, rejectingUserID int64, responseMessage string) (*models.FriendRequest, error) {
	req, err := f.store.GetFriendRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ToUserID != rejectingUserID {
		return nil, validationf("only the recipient can reject a friend request")
	}
	if req.Status.Terminal() {
		return nil, validationf("friend request is already %s", req.Status)
	}

	now := f.clock.Now()
	req.Status = models.RequestRejected
	req.ResponseMessage = responseMessage
	req.RespondedAt = &now
	if err := f.store.UpdateFriendRequest(ctx, req); err != nil {
		return nil, err
	}
	metrics.FriendRequestsResolved.WithLabelValues(string(models.RequestRejected)).Inc()
	return req, nil
}

// CancelFriendRequest withdraws a request the sender no longer wants
// open. Only the sender may cancel.
func (f *FriendService) CancelFriendRequest(ctx context.Context, requestID string, cancellingUserID int64) (*models.FriendRequest, error) {
	req, err := f.store.GetFriendRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.FromUserID != cancellingUserID {
		return nil, validationf("only the sender can cancel a friend request")
	}
	if req.Status.Terminal() {
		return nil, validationf("friend request is already %s", req.Status)
	}

	now := f.clock.Now()
	req.Status = models.RequestCancelled
	req.RespondedAt = &now
	if err := f.store.UpdateFriendRequest(ctx, req); err != nil {
		return nil, err
	}
	metrics.FriendRequestsResolved.WithLabelValues(string(models.RequestCancelled)).Inc()
	return req, nil
}

// RemoveFriend deletes both directed rows of a friendship. Removing a
// half-broken friendship (one surviving row) still succeeds.
func (f *FriendService) RemoveFriend(ctx context.Context, userID, friendUserID int64) error {
	relAB, errAB := f.store.GetRelationship(ctx, userID, friendUserID)
	relBA, errBA := f.store.GetRelationship(ctx, friendUserID, userID)
	if isNotFound(errAB) && isNotFound(errBA) {
		return validationf("no friendship found between these users")
	}
	if errAB != nil && !isNotFound(errAB) {
		return errAB
	}
	if errBA != nil && !isNotFound(errBA) {
		return errBA
	}

	if relAB != nil {
		if err := f.store.DeleteRelationship(ctx, relAB.ID); err != nil && !isNotFound(err) {
			return err
		}
	}
	if relBA != nil {
		if err := f.store.DeleteRelationship(ctx, relBA.ID); err != nil && !isNotFound(err) {
			return err
		}
	}
	log.Info().Int64("user", userID).Int64("friend", friendUserID).Msg("Friendship removed")
	return nil
}

// BlockUser marks the blocker's directed row blocked, creating one if
// the users were never friends. Blocking is one-sided: the blocked
// user's own row is untouched, but mutual checks fail from then on.
func (f *FriendService) BlockUser(ctx context.Context, blockingUserID, blockedUserID int64) error {
	if blockingUserID == blockedUserID {
		return validationf("cannot block yourself")
	}

	now := f.clock.Now()
	rel, err := f.store.GetRelationship(ctx, blockingUserID, blockedUserID)
	if isNotFound(err) {
		blocked := &models.Relationship{
			ID:               uuid.NewString(),
			UserID:           blockingUserID,
			PeerUserID:       blockedUserID,
			RelationshipType: "blocked",
			Status:           models.RelationshipBlocked,
			ShareLevel:       models.ShareBasic,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return f.store.CreateRelationship(ctx, blocked)
	}
	if err != nil {
		return err
	}

	rel.Status = models.RelationshipBlocked
	rel.IsConnected = false
	return f.store.UpdateRelationship(ctx, rel)
}

// UnblockUser removes the block row. The friendship does not come back;
// the pair must go through a new friend request.
func (f *FriendService) UnblockUser(ctx context.Context, unblockingUserID, unblockedUserID int64) error {
	rel, err := f.store.GetRelationship(ctx, unblockingUserID, unblockedUserID)
	if isNotFound(err) {
		return validationf("user is not blocked")
	}
	if err != nil {
		return err
	}
	if rel.Status != models.RelationshipBlocked {
		return validationf("user is not blocked")
	}
	return f.store.DeleteRelationship(ctx, rel.ID)
}

// UpdateRelationshipType changes the label on both directions. Privacy
// settings are left alone; a relabel never silently widens sharing.
func (f *FriendService) UpdateRelationshipType(ctx context.Context, userID, friendUserID int64, newType string) error {
	relAB, err := f.store.GetRelationship(ctx, userID, friendUserID)
	if err != nil {
		if isNotFound(err) {
			return validationf("friendship not found")
		}
		return err
	}
	relBA, err := f.store.GetRelationship(ctx, friendUserID, userID)
	if err != nil {
		if isNotFound(err) {
			return validationf("friendship not found")
		}
		return err
	}

	relAB.RelationshipType = newType
	relBA.RelationshipType = newType
	if err := f.store.UpdateRelationship(ctx, relAB); err != nil {
		return err
	}
	return f.store.UpdateRelationship(ctx, relBA)
}

// PrivacyUpdate carries the per-relationship privacy controls a user can
// change. Nil fields mean "leave as is".
type PrivacyUpdate struct {
	ShareLevel        *models.ShareLevel `json:"share_level,omitempty"`
	RestrictedTopics  *[]string          `json:"restricted_topics,omitempty"`
	CanRespondOffline *bool              `json:"can_respond_offline,omitempty"`
}

// UpdatePrivacySettings changes the caller's own directed row only. The
// peer's view of the caller is never affected.
func (f *FriendService) UpdatePrivacySettings(ctx context.Context, userID, friendUserID int64, update PrivacyUpdate) (*models.Relationship, error) {
	rel, err := f.store.GetRelationship(ctx, userID, friendUserID)
	if err != nil {
		if isNotFound(err) {
			return nil, validationf("friendship not found")
		}
		return nil, err
	}

	if update.ShareLevel != nil {
		switch *update.ShareLevel {
		case models.ShareBasic, models.ShareModerate, models.ShareFull:
			rel.ShareLevel = *update.ShareLevel
		default:
			return nil, validationf("unknown share level %q", *update.ShareLevel)
		}
	}
	if update.RestrictedTopics != nil {
		rel.RestrictedTopics = *update.RestrictedTopics
	}
	if update.CanRespondOffline != nil {
		rel.CanRespondOffline = *update.CanRespondOffline
	}

	if err := f.store.UpdateRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// AdjustTrust nudges the caller's trust in a friend by delta, clamped to
// [0, 1].
func (f *FriendService) AdjustTrust(ctx context.Context, userID, friendUserID int64, delta float64) (*models.Relationship, error) {
	rel, err := f.store.GetRelationship(ctx, userID, friendUserID)
	if err != nil {
		if isNotFound(err) {
			return nil, validationf("friendship not found")
		}
		return nil, err
	}
	rel.TrustLevel = models.ClampTrust(rel.TrustLevel + delta)
	if err := f.store.UpdateRelationship(ctx, rel); err != nil {
		return nil, err
	}
	return rel, nil
}

// RelationshipStatusInfo summarizes where two users stand.
type RelationshipStatusInfo struct {
	IsFriend           bool     `json:"is_friend"`
	IsBlocked          bool     `json:"is_blocked"`
	RelationshipType   string   `json:"relationship_type,omitempty"`
	TrustLevel         *float64 `json:"trust_level,omitempty"`
	HasSentRequest     bool     `json:"has_sent_request"`
	HasReceivedRequest bool     `json:"has_received_request"`
	CanSendRequest     bool     `json:"can_send_request"`
}

// RelationshipStatus reports the full state between two users: friendship,
// blocks and open requests in both directions.
func (f *FriendService) RelationshipStatus(ctx context.Context, userID, otherUserID int64) (*RelationshipStatusInfo, error) {
	info := &RelationshipStatusInfo{}

	rel, err := f.store.GetRelationship(ctx, userID, otherUserID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if rel != nil {
		info.IsBlocked = rel.Status == models.RelationshipBlocked
		info.RelationshipType = rel.RelationshipType
		trust := rel.TrustLevel
		info.TrustLevel = &trust
	}

	if _, err := f.store.GetMutualRelationship(ctx, userID, otherUserID); err == nil {
		info.IsFriend = true
	} else if !isNotFound(err) {
		return nil, err
	}

	if _, err := f.store.GetExistingRequest(ctx, userID, otherUserID); err == nil {
		info.HasSentRequest = true
	} else if !isNotFound(err) {
		return nil, err
	}
	if _, err := f.store.GetExistingRequest(ctx, otherUserID, userID); err == nil {
		info.HasReceivedRequest = true
	} else if !isNotFound(err) {
		return nil, err
	}

	info.CanSendRequest = rel == nil && !info.IsFriend && !info.HasSentRequest && !info.HasReceivedRequest
	return info, nil
}

// ListFriends returns the caller's active, connected relationships.
func (f *FriendService) ListFriends(ctx context.Context, userID int64) ([]models.Relationship, error) {
	return f.store.ListFriends(ctx, userID)
}

// PendingRequests returns open requests waiting on the caller.
func (f *FriendService) PendingRequests(ctx context.Context, userID int64) ([]models.FriendRequest, error) {
	return f.store.ListPendingRequestsFor(ctx, userID)
}

// SentRequests returns the caller's still-open outgoing requests.
func (f *FriendService) SentRequests(ctx context.Context, userID int64) ([]models.FriendRequest, error) {
	return f.store.ListSentRequestsBy(ctx, userID)
}

// ExpireOldRequests sweeps every pending request past its expiry and
// returns how many were closed. Run by the background processor.
func (f *FriendService) ExpireOldRequests(ctx context.Context) (int, error) {
	now := f.clock.Now()
	expired := 0

	reqs, err := f.store.ListExpiredRequests(ctx, now)
	if err != nil {
		return 0, err
	}
	for i := range reqs {
		req := reqs[i]
		req.Status = models.RequestExpired
		req.RespondedAt = &now
		if err := f.store.UpdateFriendRequest(ctx, &req); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to expire friend request")
			continue
		}
		metrics.FriendRequestsResolved.WithLabelValues(string(models.RequestExpired)).Inc()
		expired++
	}
	return expired, nil
}

// blockedEitherWay reports whether either directed row is a block.
func (f *FriendService) blockedEitherWay(ctx context.Context, userA, userB int64) (bool, error) {
	for _, pair := range [][2]int64{{userA, userB}, {userB, userA}} {
		rel, err := f.store.GetRelationship(ctx, pair[0], pair[1])
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		if rel.Status == models.RelationshipBlocked {
			return true, nil
		}
	}
	return false, nil
}

func isNotFound(err error) bool {
	var notFound *store.ErrNotFound
	return errors.As(err, &notFound)
}
