package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/models"
)

const (
	notificationsKeyPrefix = "notifications:user:"
	notificationsKeySuffix = ":recent"
	// ReplayLimit bounds how many notifications a reconnecting session receives.
	ReplayLimit      = 50
	notificationsTTL = 7 * 24 * time.Hour
)

func notificationsKey(userID int64) string {
	return notificationsKeyPrefix + strconv.FormatInt(userID, 10) + notificationsKeySuffix
}

// NotificationCache keeps the most recent notifications of each principal
// in a capped Redis list (newest at head).
type NotificationCache struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewNotificationCache(rdb *redis.Client, log *zap.Logger) *NotificationCache {
	return &NotificationCache{rdb: rdb, log: log}
}

// Push adds n to its recipient's list when that list is warm. LPUSHX leaves
// a cold key alone so the next read falls back to Postgres instead of
// trusting a partial list. Cache failures are logged, never returned.
func (c *NotificationCache) Push(ctx context.Context, n *models.Notification) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	key := notificationsKey(n.UserID)
	pipe := c.rdb.Pipeline()
	pipe.LPushX(ctx, key, data)
	pipe.LTrim(ctx, key, 0, ReplayLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("notification cache push failed", zap.Int64("user_id", n.UserID), zap.Error(err))
	}
}

// Recent returns cached unread notifications oldest first. ok is false on a
// miss or when Redis is unavailable.
func (c *NotificationCache) Recent(ctx context.Context, userID int64) ([]models.Notification, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.LRange(ctx, notificationsKey(userID), 0, ReplayLimit-1).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	return decodeRecent(raw), true
}

// Forget invalidates the list after ids were marked read. Removing entries
// in place would leave fewer than ReplayLimit items while older unread rows
// still exist in Postgres, so the next read rebuilds the list instead.
func (c *NotificationCache) Forget(ctx context.Context, userID int64, ids []int64) {
	if c == nil || c.rdb == nil || len(ids) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, notificationsKey(userID)).Err(); err != nil {
		c.log.Warn("notification cache forget failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Warm replaces the list with notifications (oldest first), used after a
// Postgres fallback.
func (c *NotificationCache) Warm(ctx context.Context, userID int64, notifications []models.Notification) {
	if c == nil || c.rdb == nil || len(notifications) == 0 {
		return
	}
	key := notificationsKey(userID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	for i := range notifications {
		data, err := json.Marshal(notifications[i])
		if err != nil {
			continue
		}
		pipe.LPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, 0, ReplayLimit-1)
	pipe.Expire(ctx, key, notificationsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("notification cache warm failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// decodeRecent reverses a newest-first list into oldest-first order,
// skipping read and undecodable entries.
func decodeRecent(raw []string) []models.Notification {
	out := make([]models.Notification, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var n models.Notification
		if json.Unmarshal([]byte(raw[i]), &n) != nil {
			continue
		}
		if n.Status == models.StatusRead {
			continue
		}
		out = append(out, n)
	}
	return out
}
