package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SummaryCache keeps the latest certificate summary per project in Redis.
// Concurrent cold reads for the same project collapse into one loader call.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewSummaryCache instantiates the cache helper. A nil client disables
// caching while keeping the singleflight collapse.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(projectID int64) string {
	return fmt.Sprintf("billing:summary:latest:%d", projectID)
}

// Latest returns the cached summary or populates it via the loader.
func (c *SummaryCache) Latest(ctx context.Context, projectID int64, loader func(context.Context) (Summary, error)) (Summary, error) {
	key := summaryKey(projectID)
	if c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var s Summary
			if err := json.Unmarshal(payload, &s); err == nil {
				return s, nil
			}
			// Corrupt entry, fall through to reload.
		} else if err != redis.Nil {
			return Summary{}, err
		}
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		s, err := loader(ctx)
		if err != nil {
			return Summary{}, err
		}
		if c.client != nil {
			if raw, err := json.Marshal(s); err == nil {
				_ = c.client.Set(ctx, key, raw, c.ttl).Err()
			}
		}
		return s, nil
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

// Invalidate drops the cached summary after a new certificate is saved.
func (c *SummaryCache) Invalidate(ctx context.Context, projectID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, summaryKey(projectID)).Err()
}
