// Package registry maintains agent presence records with a TTL. A record
// that has not been refreshed within the TTL is treated as offline; the
// TTL is the single authoritative staleness window for reachability.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/mjnet/mjnet/pkg/models"
)

// DefaultTTL is how long a published presence record stays fresh without
// a heartbeat refresh.
const DefaultTTL = 60 * time.Second

// Registry is the presence directory shared by discovery and delivery.
type Registry interface {
	// Publish upserts the record and resets its TTL.
	Publish(ctx context.Context, rec *models.AgentRecord) error
	// Lookup returns the record for an agent ID, or ErrNotRegistered.
	Lookup(ctx context.Context, agentID string) (*models.AgentRecord, error)
	// LookupByUser returns the record for a user ID, or ErrNotRegistered.
	LookupByUser(ctx context.Context, userID int64) (*models.AgentRecord, error)
	// List returns all live records.
	List(ctx context.Context) ([]models.AgentRecord, error)
	// Remove deletes a record, used on graceful shutdown.
	Remove(ctx context.Context, agentID string) error

	Ping(ctx context.Context) error
	Close() error
}

// ErrNotRegistered reports an agent with no live presence record.
type ErrNotRegistered struct {
	AgentID string
}

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("agent %s is not registered", e.AgentID)
}
