// Package gateway owns real-time websocket connections, per-user rooms and
// presence-gated delivery of notification frames.
package gateway

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/notifier/internal/auth"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Presence is the presence tracker as seen by the gateway
type Presence interface {
	MarkConnected(ctx context.Context, userID uint, connID string) error
	MarkSubscribed(ctx context.Context, userID uint) error
	MarkUnsubscribed(ctx context.Context, userID uint) error
	MarkDisconnected(ctx context.Context, userID uint, connID string) error
	Refresh(ctx context.Context, userID uint) error
	IsConnected(ctx context.Context, userID uint) bool
	IsSubscribed(ctx context.Context, userID uint) bool
}

// UnreadCounter supplies the catch-up count pushed right after a connection authenticates
type UnreadCounter interface {
	GetUnreadCount(ctx context.Context, userID uint) (int64, error)
}

// Config tunes connections. PongWait is how long a silent peer stays open;
// PingInterval must be shorter and also paces the presence keep-alive.
type Config struct {
	SendBuffer       int
	ActionsPerSecond float64
	PongWait         time.Duration
	PingInterval     time.Duration
}

type Gateway struct {
	hub      *Hub
	presence Presence
	fanout   Broadcaster
	verifier auth.Verifier
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger

	counterMu sync.RWMutex
	counter   UnreadCounter
}

func New(hub *Hub, presence Presence, fanout Broadcaster, verifier auth.Verifier, cfg Config, logger *zap.Logger) *Gateway {
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 64
	}
	if cfg.ActionsPerSecond <= 0 {
		cfg.ActionsPerSecond = 5
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	return &Gateway{
		hub:      hub,
		presence: presence,
		fanout:   fanout,
		verifier: verifier,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// SetUnreadCounter binds the unread-count source. It is set after construction
// because the notification service itself depends on the gateway.
func (g *Gateway) SetUnreadCounter(counter UnreadCounter) {
	g.counterMu.Lock()
	defer g.counterMu.Unlock()
	g.counter = counter
}

func (g *Gateway) unreadCounter() UnreadCounter {
	g.counterMu.RLock()
	defer g.counterMu.RUnlock()
	return g.counter
}

// PushNotification sends a new notification to the user's subscribed connections.
// It is a no-op when the user is not subscribed.
func (g *Gateway) PushNotification(ctx context.Context, userID uint, n *models.Notification) error {
	return g.push(ctx, userID, EventNotification, n)
}

// PushUpdate sends an edited or grouped notification, with the same gating
func (g *Gateway) PushUpdate(ctx context.Context, userID uint, n *models.Notification) error {
	return g.push(ctx, userID, EventNotificationUpdate, n)
}

func (g *Gateway) PushUnreadCount(ctx context.Context, userID uint, count int64) error {
	return g.push(ctx, userID, EventUnreadCount, unreadCountPayload{Count: count})
}

func (g *Gateway) push(ctx context.Context, userID uint, event string, data any) error {
	if !g.presence.IsSubscribed(ctx, userID) {
		return nil
	}
	env, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return g.fanout.Publish(ctx, userID, env)
}

// ServeWS upgrades the request and authenticates it with the token from the
// "token" query parameter or the Authorization header. A bad credential closes
// the socket before the connection reaches AUTHENTICATED.
func (g *Gateway) ServeWS(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token, _ = auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}

	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}

	client := &Client{
		id:      uuid.NewString(),
		conn:    conn,
		gw:      g,
		send:    make(chan Envelope, g.cfg.SendBuffer),
		done:    make(chan struct{}),
		state:   StateConnecting,
		limiter: rate.NewLimiter(rate.Limit(g.cfg.ActionsPerSecond), int(math.Ceil(g.cfg.ActionsPerSecond*2))),
	}

	ctx := c.Request().Context()
	userID, err := g.authenticate(ctx, token)
	if err != nil {
		g.reject(client)
		return nil
	}
	client.userID = userID
	_ = client.transition(StateAuthenticated)

	g.hub.Join(client)
	if err := g.presence.MarkConnected(ctx, userID, client.id); err != nil {
		g.logger.Warn("failed to record presence", zap.Uint("user_id", userID), zap.Error(err))
	}
	g.catchUp(ctx, client)

	g.logger.Info("websocket client connected", zap.Uint("user_id", userID), zap.String("conn_id", client.id))

	go client.writePump()
	go client.readPump()
	return nil
}

func (g *Gateway) authenticate(ctx context.Context, token string) (uint, error) {
	if token == "" || g.verifier == nil {
		return 0, auth.ErrInvalidCredential
	}
	return g.verifier.Verify(ctx, token)
}

func (g *Gateway) reject(client *Client) {
	_ = client.transition(StateDisconnected)
	_ = client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"))
	_ = client.conn.Close()
	g.logger.Info("websocket connection rejected", zap.String("conn_id", client.id))
}

// catchUp enqueues the current unread count regardless of subscription state
func (g *Gateway) catchUp(ctx context.Context, client *Client) {
	counter := g.unreadCounter()
	if counter == nil {
		return
	}
	count, err := counter.GetUnreadCount(ctx, client.userID)
	if err != nil {
		g.logger.Warn("catch-up unread count failed", zap.Uint("user_id", client.userID), zap.Error(err))
		return
	}
	client.reply(EventUnreadCount, unreadCountPayload{Count: count})
}

// restorePresence re-points presence at a surviving connection after another
// connection of the same user closed
func (g *Gateway) restorePresence(ctx context.Context, userID uint, remaining []*Client) {
	if err := g.presence.MarkConnected(ctx, userID, remaining[0].id); err != nil {
		g.logger.Warn("failed to restore presence", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	for _, c := range remaining {
		if c.State() == StateSubscribed {
			if err := g.presence.MarkSubscribed(ctx, userID); err != nil {
				g.logger.Warn("failed to restore subscription", zap.Uint("user_id", userID), zap.Error(err))
			}
			return
		}
	}
	// the closed connection may have been the only subscribed one
	if err := g.presence.MarkUnsubscribed(ctx, userID); err != nil {
		g.logger.Warn("failed to clear subscription", zap.Uint("user_id", userID), zap.Error(err))
	}
}
