package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotCache(t *testing.T) {
	ctx := context.Background()
	v := &models.Visitor{VisitorID: "v-1"}

	t.Run("Nil cache is a permanent miss", func(t *testing.T) {
		var cache *SnapshotCache
		cache.Set(ctx, v)
		cache.Invalidate(ctx, "v-1")
		_, ok := cache.Get(ctx, "v-1")
		assert.False(t, ok)
	})

	t.Run("Nil client", func(t *testing.T) {
		cache := NewSnapshotCache(nil, time.Minute, slog.Default())
		cache.Set(ctx, v)
		_, ok := cache.Get(ctx, "v-1")
		assert.False(t, ok)
	})

	t.Run("Unreachable redis degrades to a miss", func(t *testing.T) {
		logs := &lockedBuffer{}
		logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
		cache := NewSnapshotCache(unreachableRedis(t), time.Minute, logger)

		cache.Set(ctx, v)
		_, ok := cache.Get(ctx, "v-1")
		assert.False(t, ok)
		assert.Contains(t, logs.String(), "Snapshot cache read failed")
		assert.Contains(t, logs.String(), "visitor_id=v-1")
	})

	assert.Equal(t, "visitor:abc", cacheKey("abc"))
}
