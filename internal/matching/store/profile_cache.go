package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"match-workers/internal/common/logger"
	"match-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = "match:profile:"

type profileLoader interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
}

// CachedProfileSource serves profiles from Redis and falls back to the
// wrapped loader on a miss. Cache errors are logged and never surface.
type CachedProfileSource struct {
	next   profileLoader
	client redis.UniversalClient
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedProfileSource(next profileLoader, client redis.UniversalClient, ttl time.Duration, log logger.Logger) *CachedProfileSource {
	return &CachedProfileSource{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "profile-cache"}),
	}
}

func (c *CachedProfileSource) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	key := profileKeyPrefix + userID

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p models.UserProfile
		if jsonErr := json.Unmarshal(data, &p); jsonErr == nil {
			return &p, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("profile cache read failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}

	p, err := c.next.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(p); err == nil {
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Warn("profile cache write failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}
	return p, nil
}
