package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newDetachedClient builds a client with no socket; frames stay in its send buffer
func newDetachedClient(userID uint, state ConnState, buffer int) *Client {
	return &Client{
		id:     "conn-" + time.Now().Format("150405.000000000"),
		userID: userID,
		gw:     &Gateway{logger: zap.NewNop()},
		send:   make(chan Envelope, buffer),
		done:   make(chan struct{}),
		state:  state,
	}
}

func isClosed(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func mustEnvelope(t *testing.T, event string, data any) Envelope {
	t.Helper()
	env, err := NewEnvelope(event, data)
	require.NoError(t, err)
	return env
}

func TestHub_DeliversOnlyToSubscribedConnections(t *testing.T) {
	hub := NewHub(zap.NewNop())
	subscribed := newDetachedClient(1, StateSubscribed, 4)
	passive := newDetachedClient(1, StateAuthenticated, 4)
	other := newDetachedClient(2, StateSubscribed, 4)
	hub.Join(subscribed)
	hub.Join(passive)
	hub.Join(other)

	n := hub.Deliver(1, mustEnvelope(t, EventUnreadCount, unreadCountPayload{Count: 2}))

	assert.Equal(t, 1, n)
	assert.Len(t, subscribed.send, 1)
	assert.Empty(t, passive.send)
	assert.Empty(t, other.send)
	assert.Equal(t, 2, hub.RoomSize(1))
}

func TestHub_SlowConsumerIsClosed(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := newDetachedClient(1, StateSubscribed, 1)
	hub.Join(c)

	env := mustEnvelope(t, EventPong, struct{}{})
	assert.Equal(t, 1, hub.Deliver(1, env))
	assert.Equal(t, 0, hub.Deliver(1, env))
	assert.True(t, isClosed(c))

	// closed clients are skipped without blocking
	assert.Equal(t, 0, hub.Deliver(1, env))
}

func TestHub_LeaveReturnsRemaining(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := newDetachedClient(1, StateSubscribed, 1)
	b := newDetachedClient(1, StateAuthenticated, 1)
	hub.Join(a)
	hub.Join(b)

	assert.True(t, hub.HasSubscribed(1, b))
	assert.False(t, hub.HasSubscribed(1, a))

	remaining := hub.Leave(a)
	assert.Equal(t, []*Client{b}, remaining)
	assert.Nil(t, hub.Leave(b))
	assert.Zero(t, hub.RoomSize(1))
}

func TestLocalFanout(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := newDetachedClient(5, StateSubscribed, 2)
	hub.Join(c)

	require.NoError(t, NewLocalFanout(hub).Publish(context.Background(), 5, mustEnvelope(t, EventNotification, map[string]string{"id": "n1"})))

	env := <-c.send
	assert.Equal(t, EventNotification, env.Event)
	assert.JSONEq(t, `{"id":"n1"}`, string(env.Data))
}

func TestRedisFanout_DeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// the receiving instance owns the connection, the sending one only publishes
	receivingHub := NewHub(zap.NewNop())
	c := newDetachedClient(9, StateSubscribed, 4)
	receivingHub.Join(c)
	receiver := NewRedisFanout(rdb, "", receivingHub, zap.NewNop())
	sender := NewRedisFanout(rdb, "", NewHub(zap.NewNop()), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- receiver.Run(ctx) }()

	require.Eventually(t, func() bool {
		subs, err := rdb.PubSubNumSub(ctx, DefaultFanoutChannel).Result()
		return err == nil && subs[DefaultFanoutChannel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sender.Publish(ctx, 9, mustEnvelope(t, EventUnreadCount, unreadCountPayload{Count: 3})))
	require.NoError(t, sender.Publish(ctx, 10, mustEnvelope(t, EventUnreadCount, unreadCountPayload{Count: 1})))

	select {
	case env := <-c.send:
		assert.Equal(t, EventUnreadCount, env.Event)
		var p unreadCountPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.EqualValues(t, 3, p.Count)
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out message not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out subscriber did not stop")
	}
}
