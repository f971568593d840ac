package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/models"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps the latest stored visitor, pages included, in redis.
// A nil client or an unreachable server turns every call into a miss.
type SnapshotCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *SnapshotCache {
	return &SnapshotCache{rdb: rdb, ttl: ttl, logger: logger}
}

func cacheKey(visitorID string) string {
	return "visitor:" + visitorID
}

func (c *SnapshotCache) Get(ctx context.Context, visitorID string) (*models.Visitor, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, cacheKey(visitorID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("Snapshot cache read failed", "visitor_id", visitorID, "error", err)
		}
		return nil, false
	}
	var v models.Visitor
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("Discarding corrupt cache entry", "visitor_id", visitorID, "error", err)
		c.Invalidate(ctx, visitorID)
		return nil, false
	}
	return &v, true
}

func (c *SnapshotCache) Set(ctx context.Context, v *models.Visitor) {
	if c == nil || c.rdb == nil || c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode visitor for cache", "visitor_id", v.VisitorID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(v.VisitorID), raw, c.ttl).Err(); err != nil {
		c.logger.Debug("Snapshot cache write failed", "visitor_id", v.VisitorID, "error", err)
	}
}

func (c *SnapshotCache) Invalidate(ctx context.Context, visitorID string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(visitorID)).Err(); err != nil {
		c.logger.Debug("Snapshot cache invalidate failed", "visitor_id", visitorID, "error", err)
	}
}
