package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meetscore/platform/pkg/common/logger"
	"github.com/meetscore/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// Cache holds scorecard responses that can no longer change.
type Cache interface {
	Get(ctx context.Context, meetingID int64) (*models.ScorecardRecord, bool)
	Set(ctx context.Context, rec *models.ScorecardRecord)
	Delete(ctx context.Context, meetingID int64)
}

// RedisCache stores scorecards as JSON under scorecard:<meeting id>. Redis
// errors are logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(meetingID int64) string {
	return fmt.Sprintf("scorecard:%d", meetingID)
}

func (c *RedisCache) Get(ctx context.Context, meetingID int64) (*models.ScorecardRecord, bool) {
	raw, err := c.client.Get(ctx, cacheKey(meetingID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.WithField("meeting_id", meetingID).WithError(err).Warn("Scorecard cache read failed")
		}
		return nil, false
	}
	var rec models.ScorecardRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		logger.WithField("meeting_id", meetingID).WithError(err).Warn("Discarding corrupt cached scorecard")
		c.Delete(ctx, meetingID)
		return nil, false
	}
	return &rec, true
}

func (c *RedisCache) Set(ctx context.Context, rec *models.ScorecardRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(rec.MeetingID), raw, c.ttl).Err(); err != nil {
		logger.WithField("meeting_id", rec.MeetingID).WithError(err).Warn("Scorecard cache write failed")
	}
}

func (c *RedisCache) Delete(ctx context.Context, meetingID int64) {
	if err := c.client.Del(ctx, cacheKey(meetingID)).Err(); err != nil {
		logger.WithField("meeting_id", meetingID).WithError(err).Warn("Scorecard cache delete failed")
	}
}

type noCache struct{}

func (noCache) Get(context.Context, int64) (*models.ScorecardRecord, bool) {
	return nil, false
}

func (noCache) Set(context.Context, *models.ScorecardRecord) {}

func (noCache) Delete(context.Context, int64) {}
