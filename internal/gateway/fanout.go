package gateway

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultFanoutChannel is the Redis channel gateway instances share
const DefaultFanoutChannel = "notifier:fanout"

// Broadcaster routes a frame to every connection of a user, wherever it is hosted
type Broadcaster interface {
	Publish(ctx context.Context, userID uint, env Envelope) error
}

// LocalFanout delivers straight into this instance's hub
type LocalFanout struct {
	hub *Hub
}

func NewLocalFanout(hub *Hub) *LocalFanout {
	return &LocalFanout{hub: hub}
}

func (f *LocalFanout) Publish(_ context.Context, userID uint, env Envelope) error {
	f.hub.Deliver(userID, env)
	return nil
}

type fanoutMessage struct {
	UserID   uint     `json:"user_id"`
	Envelope Envelope `json:"envelope"`
}

// RedisFanout publishes frames on a shared channel; every instance running Run
// delivers them to its own local connections.
type RedisFanout struct {
	rdb     redis.UniversalClient
	channel string
	hub     *Hub
	logger  *zap.Logger
}

func NewRedisFanout(rdb redis.UniversalClient, channel string, hub *Hub, logger *zap.Logger) *RedisFanout {
	if channel == "" {
		channel = DefaultFanoutChannel
	}
	return &RedisFanout{rdb: rdb, channel: channel, hub: hub, logger: logger}
}

func (f *RedisFanout) Publish(ctx context.Context, userID uint, env Envelope) error {
	payload, err := json.Marshal(fanoutMessage{UserID: userID, Envelope: env})
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.channel, payload).Err()
}

// Run consumes the shared channel until ctx is cancelled
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	// wait for the subscription to be confirmed before consuming
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	f.logger.Info("fan-out subscriber started", zap.String("channel", f.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var m fanoutMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				f.logger.Warn("discarding malformed fan-out message", zap.Error(err))
				continue
			}
			f.hub.Deliver(m.UserID, m.Envelope)
		}
	}
}
