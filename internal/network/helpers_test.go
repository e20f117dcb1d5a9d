package network_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mjnet/mjnet/internal/config"
	"github.com/mjnet/mjnet/internal/network"
	"github.com/mjnet/mjnet/internal/registry"
	"github.com/mjnet/mjnet/internal/store"
	"github.com/mjnet/mjnet/pkg/contracts"
	"github.com/mjnet/mjnet/pkg/models"
)

// fakeClock is a controllable clock for expiry and TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGenerator returns canned content, or an error when failing is set.
type fakeGenerator struct {
	mu      sync.Mutex
	content string
	failing bool
	calls   int
}

func (g *fakeGenerator) Complete(_ context.Context, _ *contracts.CompletionRequest) (*contracts.CompletionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failing {
		return nil, errors.New("generator unavailable")
	}
	content := g.content
	if content == "" {
		content = "Sure, let me pass that along."
	}
	return &contracts.CompletionResult{
		Content: content,
		Tokens:  contracts.TokenUsage{Prompt: 20, Completion: 10, Total: 30},
	}, nil
}

// harness wires the services against in-memory collaborators.
type harness struct {
	store   store.Store
	reg     *registry.MemoryRegistry
	gen     *fakeGenerator
	clock   *fakeClock
	friends *network.FriendService
	comms   *network.CommsService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })

	reg := registry.NewMemoryRegistry(time.Minute)
	gen := &fakeGenerator{}
	clock := newFakeClock()
	sessionCfg := config.SessionConfig{
		ProcessorInterval: time.Second,
		DefaultMaxTurns:   10,
		DefaultTTL:        time.Hour,
	}
	return &harness{
		store:   s,
		reg:     reg,
		gen:     gen,
		clock:   clock,
		friends: network.NewFriendService(s, clock),
		comms:   network.NewCommsService(s, reg, gen, clock, sessionCfg, time.Minute),
	}
}

// befriend runs the full request/accept flow between two users.
func (h *harness) befriend(t *testing.T, userA, userB int64) {
	t.Helper()
	ctx := context.Background()
	req, err := h.friends.SendFriendRequest(ctx, network.SendFriendRequestInput{
		FromUserID: userA, ToUserID: userB,
	})
	if err != nil {
		t.Fatalf("SendFriendRequest() error = %v", err)
	}
	if _, err := h.friends.AcceptFriendRequest(ctx, req.ID, userB, "", ""); err != nil {
		t.Fatalf("AcceptFriendRequest() error = %v", err)
	}
}

// setOnline publishes a live presence record for a user.
func (h *harness) setOnline(t *testing.T, userID int64) {
	t.Helper()
	err := h.reg.Publish(context.Background(), &models.AgentRecord{
		AgentID:  "MJ-test" + string(rune('0'+userID)),
		UserID:   userID,
		Status:   models.AgentOnline,
		LastSeen: h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func isValidationErr(err error) bool {
	var v *network.ValidationError
	return errors.As(err, &v)
}
