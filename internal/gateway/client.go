package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	presenceCall   = 3 * time.Second
)

// Client is one websocket connection. A single write pump drains send, so frames
// reach the peer in the order they were enqueued.
type Client struct {
	id     string
	userID uint
	conn   *websocket.Conn
	gw     *Gateway

	send      chan Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.RWMutex
	state ConnState

	limiter *rate.Limiter
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() uint { return c.userID }

func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) transition(next ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransition(next) {
		return fmt.Errorf("invalid connection transition %s -> %s", c.state, next)
	}
	c.state = next
	return nil
}

// enqueue never blocks. A connection that cannot keep up is closed.
func (c *Client) enqueue(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		c.gw.logger.Warn("send buffer full, closing connection",
			zap.Uint("user_id", c.userID),
			zap.String("conn_id", c.id))
		c.close()
		return false
	}
}

func (c *Client) reply(event string, data any) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		c.gw.logger.Error("failed to encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(env)
}

func (c *Client) replyError(msg string) {
	c.reply(EventError, errorPayload{Message: msg})
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) readPump() {
	defer c.disconnect()

	c.conn.SetReadLimit(maxMessageSize)
	pongWait := c.gw.cfg.PongWait
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.keepAlive()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg IncomingMessage
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.logger.Debug("websocket read error", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.replyError("malformed message")
			continue
		}
		if !c.limiter.Allow() {
			c.replyError("rate limit exceeded")
			continue
		}
		c.handleAction(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.gw.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.gw.logger.Debug("websocket write error", zap.String("conn_id", c.id), zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// keepAlive extends the presence TTL while the peer answers pings. Keys that
// already expired under a live connection are written again.
func (c *Client) keepAlive() {
	ctx, cancel := context.WithTimeout(context.Background(), presenceCall)
	defer cancel()

	var err error
	switch c.State() {
	case StateSubscribed:
		if c.gw.presence.IsSubscribed(ctx, c.userID) {
			err = c.gw.presence.Refresh(ctx, c.userID)
		} else {
			err = errors.Join(
				c.gw.presence.MarkConnected(ctx, c.userID, c.id),
				c.gw.presence.MarkSubscribed(ctx, c.userID),
			)
		}
	case StateAuthenticated:
		if c.gw.presence.IsConnected(ctx, c.userID) {
			err = c.gw.presence.Refresh(ctx, c.userID)
		} else {
			err = c.gw.presence.MarkConnected(ctx, c.userID, c.id)
		}
	default:
		return
	}
	if err != nil {
		c.gw.logger.Warn("presence keep-alive failed", zap.Uint("user_id", c.userID), zap.Error(err))
	}
}

func (c *Client) handleAction(msg IncomingMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceCall)
	defer cancel()

	switch msg.Action {
	case ActionSubscribe:
		c.subscribe(ctx)
	case ActionUnsubscribe:
		c.unsubscribe(ctx)
	case ActionGetSubscriptionStatus:
		c.reply(EventSubscriptionStatus, subscriptionStatusPayload{
			Subscribed: c.State() == StateSubscribed,
			Connected:  true,
		})
	case ActionPing:
		if err := c.gw.presence.Refresh(ctx, c.userID); err != nil {
			c.gw.logger.Warn("presence refresh failed", zap.Uint("user_id", c.userID), zap.Error(err))
		}
		c.reply(EventPong, struct{}{})
	default:
		c.replyError("unknown action: " + msg.Action)
	}
}

func (c *Client) subscribe(ctx context.Context) {
	if c.State() == StateSubscribed {
		c.reply(EventSubscriptionStatus, subscriptionStatusPayload{Subscribed: true, Connected: true})
		return
	}
	if err := c.transition(StateSubscribed); err != nil {
		c.replyError(err.Error())
		return
	}
	err := errors.Join(
		c.gw.presence.MarkConnected(ctx, c.userID, c.id),
		c.gw.presence.MarkSubscribed(ctx, c.userID),
	)
	if err != nil {
		c.gw.logger.Warn("failed to record subscription", zap.Uint("user_id", c.userID), zap.Error(err))
		_ = c.transition(StateAuthenticated)
		c.replyError("subscription unavailable, retry later")
		return
	}
	c.reply(EventSubscriptionStatus, subscriptionStatusPayload{Subscribed: true, Connected: true})
}

func (c *Client) unsubscribe(ctx context.Context) {
	if c.State() == StateSubscribed {
		if err := c.transition(StateAuthenticated); err != nil {
			c.replyError(err.Error())
			return
		}
		// another tab of the same user may still want pushes
		if !c.gw.hub.HasSubscribed(c.userID, c) {
			if err := c.gw.presence.MarkUnsubscribed(ctx, c.userID); err != nil {
				c.gw.logger.Warn("failed to clear subscription", zap.Uint("user_id", c.userID), zap.Error(err))
			}
		}
	}
	c.reply(EventSubscriptionStatus, subscriptionStatusPayload{Subscribed: false, Connected: true})
}

func (c *Client) disconnect() {
	c.close()
	_ = c.transition(StateDisconnected)

	ctx, cancel := context.WithTimeout(context.Background(), presenceCall)
	defer cancel()

	remaining := c.gw.hub.Leave(c)
	if err := c.gw.presence.MarkDisconnected(ctx, c.userID, c.id); err != nil {
		c.gw.logger.Warn("failed to clear presence", zap.Uint("user_id", c.userID), zap.Error(err))
	}
	if len(remaining) > 0 {
		c.gw.restorePresence(ctx, c.userID, remaining)
	}
	c.gw.logger.Info("websocket client disconnected", zap.Uint("user_id", c.userID), zap.String("conn_id", c.id))
}
