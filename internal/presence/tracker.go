// Package presence records which users hold an open real-time connection and which
// of them opted into live delivery. Records are a best-effort routing cache with TTL.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix        = "user:"
	connectionSuffix = ":connection"
	subscribedSuffix = ":subscribed"
	scanBatch        = 100
)

// releaseScript deletes both keys only while the connection key still holds the
// disconnecting connection id
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1], KEYS[2])
end
return 0
`)

type Tracker struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

func NewTracker(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{rdb: rdb, ttl: ttl, logger: logger}
}

func ConnectionKey(userID uint) string {
	return fmt.Sprintf("%s%d%s", keyPrefix, userID, connectionSuffix)
}

func SubscribedKey(userID uint) string {
	return fmt.Sprintf("%s%d%s", keyPrefix, userID, subscribedSuffix)
}

// MarkConnected stores connID as the user's current connection. Last write wins.
func (t *Tracker) MarkConnected(ctx context.Context, userID uint, connID string) error {
	return t.rdb.Set(ctx, ConnectionKey(userID), connID, t.ttl).Err()
}

func (t *Tracker) MarkSubscribed(ctx context.Context, userID uint) error {
	return t.rdb.Set(ctx, SubscribedKey(userID), "1", t.ttl).Err()
}

func (t *Tracker) MarkUnsubscribed(ctx context.Context, userID uint) error {
	return t.rdb.Del(ctx, SubscribedKey(userID)).Err()
}

// MarkDisconnected removes the user's presence if connID is still the recorded
// connection. A newer connection for the same user is left untouched.
func (t *Tracker) MarkDisconnected(ctx context.Context, userID uint, connID string) error {
	keys := []string{ConnectionKey(userID), SubscribedKey(userID)}
	return releaseScript.Run(ctx, t.rdb, keys, connID).Err()
}

// Refresh extends both keys' TTL, if they exist
func (t *Tracker) Refresh(ctx context.Context, userID uint) error {
	_, err := t.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Expire(ctx, ConnectionKey(userID), t.ttl)
		p.Expire(ctx, SubscribedKey(userID), t.ttl)
		return nil
	})
	return err
}

// IsConnected reports whether a connection record exists. Errors count as offline.
func (t *Tracker) IsConnected(ctx context.Context, userID uint) bool {
	n, err := t.rdb.Exists(ctx, ConnectionKey(userID)).Result()
	if err != nil {
		t.logger.Warn("presence lookup failed, assuming offline", zap.Uint("user_id", userID), zap.Error(err))
		return false
	}
	return n == 1
}

// IsSubscribed reports whether the user is connected and opted into pushes.
// Errors count as not subscribed.
func (t *Tracker) IsSubscribed(ctx context.Context, userID uint) bool {
	n, err := t.rdb.Exists(ctx, ConnectionKey(userID), SubscribedKey(userID)).Result()
	if err != nil {
		t.logger.Warn("presence lookup failed, assuming offline", zap.Uint("user_id", userID), zap.Error(err))
		return false
	}
	return n == 2
}

// ListOnline scans for every user with a live connection record. Not for hot paths.
func (t *Tracker) ListOnline(ctx context.Context) ([]uint, error) {
	var (
		cursor uint64
		online []uint
	)
	seen := make(map[uint]struct{})
	for {
		keys, next, err := t.rdb.Scan(ctx, cursor, keyPrefix+"*"+connectionSuffix, scanBatch).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			raw := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), connectionSuffix)
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				continue
			}
			// SCAN may return a key more than once
			if _, dup := seen[uint(id)]; dup {
				continue
			}
			seen[uint(id)] = struct{}{}
			online = append(online, uint(id))
		}
		if next == 0 {
			return online, nil
		}
		cursor = next
	}
}
