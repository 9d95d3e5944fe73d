package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/quantlab/internal/domain"
)

// progressTTL keeps finished runs queryable for a day.
const progressTTL = 24 * time.Hour

// ProgressCache implements domain.ProgressCache with plain string keys.
type ProgressCache struct {
	rdb *redis.Client
}

var _ domain.ProgressCache = (*ProgressCache)(nil)

// NewProgressCache creates a ProgressCache backed by c.
func NewProgressCache(c *Client) *ProgressCache {
	return &ProgressCache{rdb: c.Underlying()}
}

func progressKey(runID string) string {
	return key("progress", runID)
}

// SetProgress stores pct for runID.
func (pc *ProgressCache) SetProgress(ctx context.Context, runID string, pct int) error {
	if err := pc.rdb.Set(ctx, progressKey(runID), pct, progressTTL).Err(); err != nil {
		return fmt.Errorf("redis: set progress %s: %w", runID, err)
	}
	return nil
}

// GetProgress returns the stored value, or domain.ErrNotFound.
func (pc *ProgressCache) GetProgress(ctx context.Context, runID string) (int, error) {
	raw, err := pc.rdb.Get(ctx, progressKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis: get progress %s: %w", runID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get progress %s: %w", runID, err)
	}
	pct, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("redis: decode progress %s: %w", runID, err)
	}
	return pct, nil
}
