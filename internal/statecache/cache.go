// Package statecache implements the Workflow State Cache (spec.md §4.C):
// an ephemeral key-value mapping workflowID -> WorkflowState, TTL 1 hour,
// refreshed on every write. Expiration is delegated to the underlying
// store (Redis), never computed in this package.
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pml-run/gateway/domain"
)

// DefaultTTL is the TTL named in spec.md §4.C.
const DefaultTTL = time.Hour

const keyPrefix = "pml:workflow:"

// ErrNotFound is returned by Get/Update/Delete/Extend when the workflow ID
// is absent (never present or already expired).
var ErrNotFound = errors.New("statecache: workflow state not found")

// redisClient is the narrow surface Cache needs from a Redis connection,
// mirroring the collection/indexView pattern in the teacher's Mongo client
// (features/memory/mongo/clients/mongo/client.go): a small interface in
// front of the concrete driver so tests can substitute a fake without a
// live Redis instance.
type redisClient interface {
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	SetXX(ctx context.Context, key string, payload []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
}

// goRedisClient adapts *redis.Client to redisClient.
type goRedisClient struct{ rdb *redis.Client }

func (g goRedisClient) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return g.rdb.Set(ctx, key, payload, ttl).Err()
}

func (g goRedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := g.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (g goRedisClient) SetXX(ctx context.Context, key string, payload []byte, ttl time.Duration) (bool, error) {
	return g.rdb.SetXX(ctx, key, payload, ttl).Result()
}

func (g goRedisClient) Del(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, key).Err()
}

func (g goRedisClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.rdb.Expire(ctx, key, ttl).Result()
}

func (g goRedisClient) Ping(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}

// Cache is a Redis-backed Workflow State Cache. The zero value is not
// usable; construct with New.
type Cache struct {
	rdb redisClient
	ttl time.Duration
}

// Options configures a Cache.
type Options struct {
	Redis *redis.Client
	// TTL overrides DefaultTTL.
	TTL time.Duration
}

// New constructs a Cache backed by the given Redis client.
func New(opts Options) (*Cache, error) {
	if opts.Redis == nil {
		return nil, errors.New("statecache: redis client is required")
	}
	return newWithClient(goRedisClient{rdb: opts.Redis}, opts.TTL), nil
}

func newWithClient(rdb redisClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func key(workflowID string) string { return keyPrefix + workflowID }

// Save stores state, creating or overwriting the entry and (re)starting its
// TTL.
func (c *Cache) Save(ctx context.Context, state domain.WorkflowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key(state.WorkflowID), payload, c.ttl)
}

// Get loads the state for workflowID. Returns ErrNotFound if absent or
// expired.
func (c *Cache) Get(ctx context.Context, workflowID string) (domain.WorkflowState, error) {
	raw, err := c.rdb.Get(ctx, key(workflowID))
	if errors.Is(err, ErrNotFound) {
		return domain.WorkflowState{}, ErrNotFound
	}
	if err != nil {
		return domain.WorkflowState{}, err
	}
	var state domain.WorkflowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.WorkflowState{}, err
	}
	return state, nil
}

// Update replaces the state for an existing workflowID and refreshes its
// TTL. It fails with ErrNotFound if the key is absent, per spec.md §4.C
// ("update (fails if absent)").
func (c *Cache) Update(ctx context.Context, state domain.WorkflowState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	// SET ... XX only succeeds if the key already exists, giving us the
	// fail-if-absent semantics with a single round trip.
	ok, err := c.rdb.SetXX(ctx, key(state.WorkflowID), payload, c.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete removes the entry for workflowID. Deleting an absent key is not an
// error.
func (c *Cache) Delete(ctx context.Context, workflowID string) error {
	return c.rdb.Del(ctx, key(workflowID))
}

// Extend refreshes the TTL for workflowID without altering its value.
// Returns ErrNotFound if the key is absent.
func (c *Cache) Extend(ctx context.Context, workflowID string) error {
	ok, err := c.rdb.Expire(ctx, key(workflowID), c.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Name identifies this client for health.Pinger.
func (c *Cache) Name() string { return "workflow-state-cache" }

// Ping verifies Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx)
}
