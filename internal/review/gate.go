package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// GrantSource answers authorization questions from the source of truth.
type GrantSource interface {
	// HasSystemPermission reports whether the user holds the global
	// permission and it has not been revoked.
	HasSystemPermission(ctx context.Context, userID int64, permission string) (bool, error)
	// HasCapability reports whether the user's active membership in the
	// territory carries the capability and it has not been revoked.
	HasCapability(ctx context.Context, userID, territoryID int64, capability string) (bool, error)
}

// Gate decides whether an actor may decide a work item. Lookups are
// cached in Redis under a per-actor version key; revocations bump the
// version synchronously, so a revoked reviewer never sees a stale "yes".
// Staleness here is a security property, not a performance one.
type Gate struct {
	source GrantSource
	cache  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewGate constructs the authorization gate. The Redis client may be nil,
// in which case every call goes straight to the grant source.
func NewGate(source GrantSource, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *Gate {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Gate{source: source, cache: cache, ttl: ttl, logger: logger}
}

// CanDecide reports whether the actor satisfies the item's requirement.
// Exactly one scheme applies per item; the data model guarantees it.
func (g *Gate) CanDecide(ctx context.Context, actorID int64, item WorkItem) (bool, error) {
	switch item.Requirement.Kind {
	case RequireSystemPermission:
		key := fmt.Sprintf("perm:%s", item.Requirement.Tag)
		return g.cached(ctx, actorID, key, func(ctx context.Context) (bool, error) {
			return g.source.HasSystemPermission(ctx, actorID, item.Requirement.Tag)
		})
	case RequireTerritoryCapability:
		if item.TerritoryID == nil {
			return false, fmt.Errorf("%w: capability item without territory", ErrValidation)
		}
		key := fmt.Sprintf("cap:%d:%s", *item.TerritoryID, item.Requirement.Tag)
		return g.cached(ctx, actorID, key, func(ctx context.Context) (bool, error) {
			return g.source.HasCapability(ctx, actorID, *item.TerritoryID, item.Requirement.Tag)
		})
	default:
		return false, fmt.Errorf("%w: work item has no authorization requirement", ErrValidation)
	}
}

// Invalidate bumps the actor's cache version. Must be called
// synchronously whenever one of the actor's grants is revoked.
func (g *Gate) Invalidate(ctx context.Context, actorID int64) error {
	if g.cache == nil {
		return nil
	}
	return g.cache.Incr(ctx, versionKey(actorID)).Err()
}

func (g *Gate) cached(ctx context.Context, actorID int64, suffix string, loader func(context.Context) (bool, error)) (bool, error) {
	if g.cache == nil {
		return loader(ctx)
	}

	ver, err := g.version(ctx, actorID)
	if err != nil {
		g.warn("authz cache version", err)
		return loader(ctx)
	}
	key := fmt.Sprintf("authz:%d:%d:%s", actorID, ver, suffix)

	val, err := g.cache.Get(ctx, key).Result()
	if err == nil {
		return val == "1", nil
	}
	if err != redis.Nil {
		g.warn("authz cache get", err)
		return loader(ctx)
	}

	// Collapse concurrent misses for the same grant into one lookup.
	result, err, _ := g.group.Do(key, func() (any, error) {
		granted, err := loader(ctx)
		if err != nil {
			return false, err
		}
		payload := "0"
		if granted {
			payload = "1"
		}
		if err := g.cache.Set(ctx, key, payload, g.ttl).Err(); err != nil {
			g.warn("authz cache set", err)
		}
		return granted, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (g *Gate) version(ctx context.Context, actorID int64) (int64, error) {
	ver, err := g.cache.Get(ctx, versionKey(actorID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return ver, err
}

func (g *Gate) warn(msg string, err error) {
	if g.logger != nil {
		g.logger.Warn(msg, slog.Any("error", err))
	}
}

func versionKey(actorID int64) string {
	return fmt.Sprintf("authz:ver:%d", actorID)
}
