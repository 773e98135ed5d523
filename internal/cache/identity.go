package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chatquota/chatquota/internal/model"
)

const (
	// identityCachePrefix is the Redis key prefix for resolved identities.
	identityCachePrefix = "auth:user:"
	// identityCacheTTL bounds how long a role or activation change can lag.
	identityCacheTTL = 5 * time.Minute
)

// cachedIdentity is the JSON form stored in Redis.
type cachedIdentity struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// GetIdentity returns the cached identity for userID.
// Returns nil on a miss or a corrupted entry.
func (c *Cache) GetIdentity(ctx context.Context, userID string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, identityCachePrefix+userID).Bytes()
	if err != nil {
		// Cache miss is not an error
		return nil, nil //nolint:nilerr
	}

	var cached cachedIdentity
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil //nolint:nilerr
	}

	return &model.AuthContext{
		UserID:   cached.UserID,
		Email:    cached.Email,
		Role:     cached.Role,
		IsActive: cached.IsActive,
	}, nil
}

// SetIdentity caches a resolved identity.
func (c *Cache) SetIdentity(ctx context.Context, identity *model.AuthContext) error {
	data, err := json.Marshal(cachedIdentity{
		UserID:   identity.UserID,
		Email:    identity.Email,
		Role:     identity.Role,
		IsActive: identity.IsActive,
	})
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	return c.client.Set(ctx, identityCachePrefix+identity.UserID, data, identityCacheTTL).Err()
}

// DeleteIdentity drops the cached identity after an update or deletion.
func (c *Cache) DeleteIdentity(ctx context.Context, userID string) error {
	return c.client.Del(ctx, identityCachePrefix+userID).Err()
}
