package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go-audit-trail/internal/model"
)

const defaultKeyPrefix = "audit:actor:"

// Directory resolves actor ids to display identities.
type Directory interface {
	LookupActors(ctx context.Context, ids []int64) (map[int64]model.Actor, error)
}

// ActorCache is a read-through Redis cache in front of a Directory. Redis
// failures fall through to the directory; they never fail a lookup.
type ActorCache struct {
	client redis.Cmdable
	next   Directory
	ttl    time.Duration
	prefix string
}

type Option func(*ActorCache)

func WithKeyPrefix(prefix string) Option {
	return func(c *ActorCache) {
		c.prefix = prefix
	}
}

func NewActorCache(client redis.Cmdable, next Directory, ttl time.Duration, opts ...Option) *ActorCache {
	c := &ActorCache{client: client, next: next, ttl: ttl, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ActorCache) key(id int64) string {
	return c.prefix + strconv.FormatInt(id, 10)
}

func (c *ActorCache) LookupActors(ctx context.Context, ids []int64) (map[int64]model.Actor, error) {
	actors := make(map[int64]model.Actor, len(ids))
	if len(ids) == 0 {
		return actors, nil
	}

	misses := c.readCached(ctx, ids, actors)
	if len(misses) == 0 {
		return actors, nil
	}

	loaded, err := c.next.LookupActors(ctx, misses)
	if err != nil {
		return nil, err
	}

	for id, actor := range loaded {
		actors[id] = actor
	}
	c.store(ctx, loaded)

	return actors, nil
}

// Invalidate drops cached identities, e.g. after a rename in the directory.
func (c *ActorCache) Invalidate(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, c.key(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate actors: %w", err)
	}
	return nil
}

func (c *ActorCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// readCached fills actors from Redis and returns the ids it could not serve.
func (c *ActorCache) readCached(ctx context.Context, ids []int64, actors map[int64]model.Actor) []int64 {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, c.key(id))
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Warn("actor cache read failed", "actor_count", len(ids), "error", err)
		return ids
	}

	misses := make([]int64, 0)
	for i, id := range ids {
		raw, ok := values[i].(string)
		if !ok {
			misses = append(misses, id)
			continue
		}

		var actor model.Actor
		if err := json.Unmarshal([]byte(raw), &actor); err != nil {
			slog.Warn("actor cache entry corrupt", "actor_id", id, "error", err)
			misses = append(misses, id)
			continue
		}
		actors[id] = actor
	}

	return misses
}

func (c *ActorCache) store(ctx context.Context, actors map[int64]model.Actor) {
	if len(actors) == 0 {
		return
	}

	pipe := c.client.Pipeline()
	for id, actor := range actors {
		b, err := json.Marshal(actor)
		if err != nil {
			continue
		}
		pipe.Set(ctx, c.key(id), b, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("actor cache write failed", "actor_count", len(actors), "error", err)
	}
}
