package network

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mjnet/mjnet/internal/metrics"
	"github.com/mjnet/mjnet/pkg/models"
)

// queueOffline enqueues a message for store-and-forward delivery to an
// unreachable recipient.
func (c *CommsService) queueOffline(ctx context.Context, msg *models.Message) error {
	pending := &models.PendingMessage{
		ID:              uuid.NewString(),
		MessageID:       msg.ID,
		RecipientUserID: msg.ToUserID,
		Status:          models.PendingQueued,
		QueuedAt:        c.clock.Now(),
	}
	if err := c.store.EnqueuePending(ctx, pending); err != nil {
		return err
	}
	log.Info().
		Str("message_id", msg.ID).
		Int64("recipient", msg.ToUserID).
		Msg("Message queued for offline delivery")
	return nil
}

// FlushPending delivers every queued message for a user who just came
// online and returns how many went through. Entries are independent: a
// failure on one is logged and the rest still flush. Because delivered
// entries leave the queue, a second flush is a no-op.
func (c *CommsService) FlushPending(ctx context.Context, userID int64) (int, error) {
	queued, err := c.store.ListPendingForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for i := range queued {
		pending := queued[i]
		if err := c.flushOne(ctx, &pending, userID); err != nil {
			log.Warn().Err(err).
				Str("message_id", pending.MessageID).
				Int64("recipient", userID).
				Msg("Failed to deliver queued message")
			continue
		}
		delivered++
	}

	if delivered > 0 {
		metrics.PendingFlushed.Add(float64(delivered))
		log.Info().Int("count", delivered).Int64("user", userID).Msg("Pending messages delivered")
	}
	return delivered, nil
}

func (c *CommsService) flushOne(ctx context.Context, pending *models.PendingMessage, userID int64) error {
	now := c.clock.Now()

	msg, err := c.store.GetMessage(ctx, pending.MessageID)
	if err != nil {
		return err
	}
	if msg.DeliveryStatus != models.DeliveryDelivered {
		msg.DeliveryStatus = models.DeliveryDelivered
		msg.DeliveredAt = &now
		if err := c.store.UpdateMessage(ctx, msg); err != nil {
			return err
		}
	}

	pending.Status = models.PendingDelivered
	pending.DeliveredAt = &now
	pending.Attempts++
	if err := c.store.UpdatePending(ctx, pending); err != nil {
		return err
	}

	return c.store.IncrementStats(ctx, userID, 0, 1, 0)
}
