package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mjnet/mjnet/pkg/models"
)

// RedisRegistry stores presence records in Redis with a per-key TTL, so
// multiple server instances share one view of who is online.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(ctx context.Context, redisURL string, ttl time.Duration) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRegistry{client: client, ttl: ttl}, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// agentKey returns the presence key for an agent ID.
func agentKey(agentID string) string {
	return fmt.Sprintf("mj_registry:%s", agentID)
}

// userKey returns the user-to-agent index key.
func userKey(userID int64) string {
	return fmt.Sprintf("mj_registry_user:%s", strconv.FormatInt(userID, 10))
}

func (r *RedisRegistry) Publish(ctx context.Context, rec *models.AgentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.SetEx(ctx, agentKey(rec.AgentID), string(data), r.ttl)
	pipe.SetEx(ctx, userKey(rec.UserID), rec.AgentID, r.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Lookup(ctx context.Context, agentID string) (*models.AgentRecord, error) {
	data, err := r.client.Get(ctx, agentKey(agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &ErrNotRegistered{AgentID: agentID}
	}
	if err != nil {
		return nil, err
	}
	var rec models.AgentRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode presence record: %w", err)
	}
	return &rec, nil
}

func (r *RedisRegistry) LookupByUser(ctx context.Context, userID int64) (*models.AgentRecord, error) {
	agentID, err := r.client.Get(ctx, userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, &ErrNotRegistered{AgentID: "user:" + strconv.FormatInt(userID, 10)}
	}
	if err != nil {
		return nil, err
	}
	return r.Lookup(ctx, agentID)
}

func (r *RedisRegistry) List(ctx context.Context) ([]models.AgentRecord, error) {
	var out []models.AgentRecord
	iter := r.client.Scan(ctx, 0, agentKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, err
		}
		var rec models.AgentRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, agentID string) error {
	rec, err := r.Lookup(ctx, agentID)
	var notReg *ErrNotRegistered
	if errors.As(err, &notReg) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Del(ctx, agentKey(agentID))
	pipe.Del(ctx, userKey(rec.UserID))
	_, err = pipe.Exec(ctx)
	return err
}
