package tracker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aubravo/earthgazer/catalog"
)

const (
	statusKeyPrefix = "task:status:"
	statusTTL       = 10 * time.Minute
)

// StatusCache mirrors the latest task status into redis so pollers do not hit
// the catalog for every in-flight task.
type StatusCache struct {
	client *redis.Client
}

func NewStatusCache(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func (c *StatusCache) Set(ctx context.Context, taskID string, status catalog.TaskStatus) error {
	return c.client.Set(ctx, statusKeyPrefix+taskID, string(status), statusTTL).Err()
}

// Get returns the cached status, or "" when the key expired or was never set.
func (c *StatusCache) Get(ctx context.Context, taskID string) (catalog.TaskStatus, error) {
	v, err := c.client.Get(ctx, statusKeyPrefix+taskID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return catalog.TaskStatus(v), nil
}
