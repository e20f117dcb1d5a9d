package network

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mjnet/mjnet/internal/metrics"
	"github.com/mjnet/mjnet/internal/store"
	"github.com/mjnet/mjnet/pkg/contracts"
	"github.com/mjnet/mjnet/pkg/models"
)

// Processor drives active sessions in the background: one turn per tick
// per in-progress session, plus sweeps for expired sessions and stale
// friend requests. A single bad session never blocks the others.
type Processor struct {
	store    store.Store
	comms    *CommsService
	friends  *FriendService
	clock    contracts.Clock
	interval time.Duration
}

// NewProcessor creates the background session processor.
func NewProcessor(s store.Store, comms *CommsService, friends *FriendService, clock contracts.Clock, interval time.Duration) *Processor {
	if clock == nil {
		clock = contracts.SystemClock{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Processor{
		store:    s,
		comms:    comms,
		friends:  friends,
		clock:    clock,
		interval: interval,
	}
}

// Start runs the processor loop. It blocks until ctx is canceled.
func (p *Processor) Start(ctx context.Context) {
	log.Info().Dur("interval", p.interval).Msg("Session processor started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Stale friend requests expire on a much coarser cadence.
	requestSweep := time.NewTicker(time.Hour)
	defer requestSweep.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session processor stopped")
			return
		case <-ticker.C:
			p.Tick(ctx)
		case <-requestSweep.C:
			if n, err := p.friends.ExpireOldRequests(ctx); err != nil {
				log.Warn().Err(err).Msg("Friend request sweep failed")
			} else if n > 0 {
				log.Info().Int("count", n).Msg("Expired stale friend requests")
			}
		}
	}
}

// Tick runs one processor cycle: sweep expired sessions first, then
// drive exactly one turn for every session that is ready.
func (p *Processor) Tick(ctx context.Context) {
	p.SweepExpired(ctx)

	ready, err := p.store.ListSessionsReadyForTurn(ctx, p.clock.Now())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list sessions ready for turn")
		return
	}

	for i := range ready {
		session := ready[i]
		if _, err := p.comms.AdvanceTurn(ctx, session.ID); err != nil {
			// Validation outcomes (expired, turn limit, lost race) are
			// the state machine working, not processor failures.
			if isValidation(err) {
				log.Debug().Err(err).Str("session_id", session.ID).Msg("Session turn not advanced")
			} else {
				log.Warn().Err(err).Str("session_id", session.ID).Msg("Session turn failed")
			}
			continue
		}
	}
}

// SweepExpired terminal-izes every non-terminal session past its expiry,
// regardless of turn readiness.
func (p *Processor) SweepExpired(ctx context.Context) {
	active, err := p.store.ListActiveSessions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list active sessions")
		return
	}

	now := p.clock.Now()
	expired := 0
	for i := range active {
		session := active[i]
		if !now.After(session.ExpiresAt) {
			continue
		}
		session.Status = models.SessionExpired
		if err := p.store.UpdateSession(ctx, &session); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to expire session")
			continue
		}
		metrics.SessionsEnded.WithLabelValues(string(models.SessionExpired)).Inc()
		expired++
	}
	if expired > 0 {
		log.Info().Int("count", expired).Msg("Expired sessions swept")
	}
}

func isValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
