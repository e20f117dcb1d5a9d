package registry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mjnet/mjnet/pkg/models"
)

// MemoryRegistry implements Registry in process memory. Used when Redis
// is not configured; presence is then scoped to a single server instance.
type MemoryRegistry struct {
	mu      sync.RWMutex
	ttl     time.Duration
	records map[string]memEntry // agent id → record
	byUser  map[int64]string    // user id → agent id
	now     func() time.Time
}

type memEntry struct {
	rec       models.AgentRecord
	expiresAt time.Time
}

// NewMemoryRegistry creates an in-memory presence registry.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryRegistry{
		ttl:     ttl,
		records: make(map[string]memEntry),
		byUser:  make(map[int64]string),
		now:     time.Now,
	}
}

func (r *MemoryRegistry) Ping(_ context.Context) error { return nil }

func (r *MemoryRegistry) Close() error { return nil }

func (r *MemoryRegistry) Publish(_ context.Context, rec *models.AgentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[rec.AgentID] = memEntry{rec: cloneRecord(rec), expiresAt: r.now().Add(r.ttl)}
	r.byUser[rec.UserID] = rec.AgentID
	return nil
}

func (r *MemoryRegistry) Lookup(_ context.Context, agentID string) (*models.AgentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.records[agentID]
	if !ok || r.now().After(entry.expiresAt) {
		return nil, &ErrNotRegistered{AgentID: agentID}
	}
	cp := cloneRecord(&entry.rec)
	return &cp, nil
}

func (r *MemoryRegistry) LookupByUser(ctx context.Context, userID int64) (*models.AgentRecord, error) {
	r.mu.RLock()
	agentID, ok := r.byUser[userID]
	r.mu.RUnlock()
	if !ok {
		return nil, &ErrNotRegistered{AgentID: "user:" + strconv.FormatInt(userID, 10)}
	}
	return r.Lookup(ctx, agentID)
}

func (r *MemoryRegistry) List(_ context.Context) ([]models.AgentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var out []models.AgentRecord
	for _, entry := range r.records {
		if now.After(entry.expiresAt) {
			continue
		}
		out = append(out, cloneRecord(&entry.rec))
	}
	return out, nil
}

// cloneRecord copies a record with its own Capabilities storage, so the
// registry and its callers never share a backing array.
func cloneRecord(rec *models.AgentRecord) models.AgentRecord {
	cp := *rec
	cp.Capabilities = append([]string(nil), rec.Capabilities...)
	return cp
}

func (r *MemoryRegistry) Remove(_ context.Context, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.records[agentID]; ok {
		delete(r.byUser, entry.rec.UserID)
	}
	delete(r.records, agentID)
	return nil
}
