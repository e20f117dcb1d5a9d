package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mjnet/mjnet/internal/registry"
	"github.com/mjnet/mjnet/pkg/models"
)

func testRecord(agentID string, userID int64) *models.AgentRecord {
	return &models.AgentRecord{
		AgentID:         agentID,
		UserID:          userID,
		UserName:        "tester",
		Address:         "192.168.1.10:8888",
		Capabilities:    []string{"chat"},
		ProtocolVersion: models.ProtocolVersion,
		Status:          models.AgentOnline,
		LastSeen:        time.Now().UTC(),
	}
}

func TestPublishAndLookup(t *testing.T) {
	r := registry.NewMemoryRegistry(time.Minute)
	ctx := context.Background()

	if err := r.Publish(ctx, testRecord("MJ-abc12345", 1)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got, err := r.Lookup(ctx, "MJ-abc12345")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.UserID != 1 {
		t.Errorf("Lookup().UserID = %d, want 1", got.UserID)
	}

	byUser, err := r.LookupByUser(ctx, 1)
	if err != nil {
		t.Fatalf("LookupByUser() error = %v", err)
	}
	if byUser.AgentID != "MJ-abc12345" {
		t.Errorf("LookupByUser().AgentID = %q, want %q", byUser.AgentID, "MJ-abc12345")
	}
}

func TestLookup_CapabilitiesAreNotShared(t *testing.T) {
	r := registry.NewMemoryRegistry(time.Minute)
	ctx := context.Background()

	rec := testRecord("MJ-caps1234", 5)
	r.Publish(ctx, rec)

	// Mutating either the published record or a returned copy must not
	// leak into the registry.
	rec.Capabilities[0] = "mutated-input"
	got, err := r.Lookup(ctx, "MJ-caps1234")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	got.Capabilities[0] = "mutated-copy"

	again, _ := r.Lookup(ctx, "MJ-caps1234")
	if again.Capabilities[0] != "chat" {
		t.Errorf("Capabilities = %v, want [chat]", again.Capabilities)
	}
}

func TestLookup_NotRegistered(t *testing.T) {
	r := registry.NewMemoryRegistry(time.Minute)

	_, err := r.Lookup(context.Background(), "MJ-missing1")
	var notReg *registry.ErrNotRegistered
	if !errors.As(err, &notReg) {
		t.Fatalf("Lookup() error = %v, want ErrNotRegistered", err)
	}
}

func TestLookup_ExpiredRecord(t *testing.T) {
	r := registry.NewMemoryRegistry(10 * time.Millisecond)
	ctx := context.Background()

	r.Publish(ctx, testRecord("MJ-short123", 2))
	time.Sleep(30 * time.Millisecond)

	if _, err := r.Lookup(ctx, "MJ-short123"); err == nil {
		t.Fatal("Lookup() after TTL = nil error, want ErrNotRegistered")
	}
	list, _ := r.List(ctx)
	if len(list) != 0 {
		t.Errorf("List() after TTL returned %d records, want 0", len(list))
	}
}

func TestPublish_RefreshesTTL(t *testing.T) {
	r := registry.NewMemoryRegistry(40 * time.Millisecond)
	ctx := context.Background()

	rec := testRecord("MJ-beat1234", 3)
	r.Publish(ctx, rec)
	time.Sleep(25 * time.Millisecond)
	r.Publish(ctx, rec) // heartbeat
	time.Sleep(25 * time.Millisecond)

	if _, err := r.Lookup(ctx, "MJ-beat1234"); err != nil {
		t.Fatalf("Lookup() after refresh error = %v", err)
	}
}

func TestRemove(t *testing.T) {
	r := registry.NewMemoryRegistry(time.Minute)
	ctx := context.Background()

	r.Publish(ctx, testRecord("MJ-gone1234", 4))
	if err := r.Remove(ctx, "MJ-gone1234"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := r.Lookup(ctx, "MJ-gone1234"); err == nil {
		t.Fatal("Lookup() after Remove = nil error, want ErrNotRegistered")
	}
	if _, err := r.LookupByUser(ctx, 4); err == nil {
		t.Fatal("LookupByUser() after Remove = nil error, want ErrNotRegistered")
	}
	// Removing twice is a no-op.
	if err := r.Remove(ctx, "MJ-gone1234"); err != nil {
		t.Fatalf("Remove() second call error = %v", err)
	}
}
