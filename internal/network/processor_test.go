package network_test

import (
	"context"
	"testing"
	"time"

	"github.com/mjnet/mjnet/internal/network"
	"github.com/mjnet/mjnet/pkg/models"
)

func newTestProcessor(h *harness) *network.Processor {
	return network.NewProcessor(h.store, h.comms, h.friends, h.clock, time.Second)
}

func TestProcessorTick_AdvancesReadySessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.befriend(t, 1, 2)
	session := proposeSession(t, h, 1, 2, 6)
	h.comms.ApproveSession(ctx, session.ID, 2)

	p := newTestProcessor(h)
	p.Tick(ctx)
	p.Tick(ctx)

	got, _ := h.store.GetSession(ctx, session.ID)
	if got.TurnCount != 3 {
		t.Errorf("TurnCount after 2 ticks = %d, want 3 (approval turn plus one per tick)", got.TurnCount)
	}
	if got.Status != models.SessionInProgress {
		t.Errorf("status = %q, want in_progress", got.Status)
	}
}

func TestProcessorTick_IgnoresPendingSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.befriend(t, 1, 2)
	session := proposeSession(t, h, 1, 2, 6)

	p := newTestProcessor(h)
	p.Tick(ctx)

	got, _ := h.store.GetSession(ctx, session.ID)
	if got.TurnCount != 0 {
		t.Errorf("TurnCount = %d, want 0 for an unapproved session", got.TurnCount)
	}
	if got.Status != models.SessionPendingApproval {
		t.Errorf("status = %q, want pending_approval", got.Status)
	}
}

func TestProcessorTick_RunsSessionsToTurnLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.befriend(t, 1, 2)
	session := proposeSession(t, h, 1, 2, 3)
	h.comms.ApproveSession(ctx, session.ID, 2)

	p := newTestProcessor(h)
	for i := 0; i < 5; i++ {
		p.Tick(ctx)
	}

	got, _ := h.store.GetSession(ctx, session.ID)
	if got.Status != models.SessionMaxTurns {
		t.Errorf("status = %q, want max_turns_reached", got.Status)
	}
	msgs, _ := h.store.ListSessionMessages(ctx, session.ID, 0)
	if len(msgs) != 3 {
		t.Errorf("messages = %d, want exactly MaxTurns", len(msgs))
	}
}

func TestSweepExpired_TerminalizesPastExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.befriend(t, 1, 2)

	pending := proposeSession(t, h, 1, 2, 6)
	active := proposeSession(t, h, 1, 2, 6)
	h.comms.ApproveSession(ctx, active.ID, 2)

	h.clock.Advance(2 * time.Hour)
	fresh := proposeSession(t, h, 1, 2, 6)

	p := newTestProcessor(h)
	p.SweepExpired(ctx)

	for _, id := range []string{pending.ID, active.ID} {
		got, _ := h.store.GetSession(ctx, id)
		if got.Status != models.SessionExpired {
			t.Errorf("session %s status = %q, want expired", id, got.Status)
		}
	}
	got, _ := h.store.GetSession(ctx, fresh.ID)
	if got.Status != models.SessionPendingApproval {
		t.Errorf("fresh session status = %q, want untouched", got.Status)
	}
}

func TestProcessorTick_ExpirySweepBeforeTurns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.befriend(t, 1, 2)
	session := proposeSession(t, h, 1, 2, 6)
	h.comms.ApproveSession(ctx, session.ID, 2)

	h.clock.Advance(2 * time.Hour)

	p := newTestProcessor(h)
	p.Tick(ctx)

	got, _ := h.store.GetSession(ctx, session.ID)
	if got.Status != models.SessionExpired {
		t.Fatalf("status = %q, want expired", got.Status)
	}
	msgs, _ := h.store.ListSessionMessages(ctx, session.ID, 0)
	if len(msgs) != 1 {
		t.Errorf("messages = %d, want only the pre-expiry turn", len(msgs))
	}
}

func TestProcessorStart_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	p := network.NewProcessor(h.store, h.comms, h.friends, h.clock, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop after context cancellation")
	}
}
