package cache

import (
	"context"
	"time"
)

const (
	settingsCacheKey = "settings:all"
	settingsCacheTTL = time.Minute
)

// GetSettings returns the cached settings map, or nil on a miss.
func (c *Cache) GetSettings(ctx context.Context) (map[string]string, error) {
	values, err := c.client.HGetAll(ctx, settingsCacheKey).Result()
	if err != nil || len(values) == 0 {
		return nil, nil //nolint:nilerr
	}
	return values, nil
}

// SetSettings replaces the cached settings map.
func (c *Cache) SetSettings(ctx context.Context, settings map[string]string) error {
	if len(settings) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(settings))
	for k, v := range settings {
		fields[k] = v
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, settingsCacheKey)
	pipe.HSet(ctx, settingsCacheKey, fields)
	pipe.Expire(ctx, settingsCacheKey, settingsCacheTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateSettings drops the cached settings after an admin edit.
func (c *Cache) InvalidateSettings(ctx context.Context) error {
	return c.client.Del(ctx, settingsCacheKey).Err()
}
