package services

import (
	"context"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testPostID = "65f0c0a1b2c3d4e5f6a7b8c9"

var (
	alice = events.Actor{ID: 1, Name: "Alice"}
	bob   = events.Actor{ID: 2, Name: "Bob"}
	carol = events.Actor{ID: 3, Name: "Carol"}
)

func newEngine(store *memStore, clk *clock) *GroupingEngine {
	return NewGroupingEngine(store, 30*time.Minute, 24*time.Hour, 3, zap.NewNop(), WithClock(clk.Now))
}

func TestGroupingEngine_MergesWithinWindow(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)
	ctx := context.Background()

	first, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)
	assert.False(t, first.Merged)
	assert.Equal(t, 1, first.Notification.GroupCount)
	assert.False(t, first.Notification.IsGrouped)

	clk.Advance(10 * time.Minute)
	second, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)

	assert.True(t, second.Merged)
	assert.Equal(t, first.Notification.ID, second.Notification.ID)
	assert.Equal(t, 2, second.Notification.GroupCount)
	assert.True(t, second.Notification.IsGrouped)
	assert.Equal(t, 1, store.len())
}

func TestGroupingEngine_NewRowOutsideWindow(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)
	ctx := context.Background()

	_, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)

	// still inside the lookback window, but past the grouping window
	clk.Advance(31 * time.Minute)
	second, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)
	assert.False(t, second.Merged)

	rows := store.all()
	require.Len(t, rows, 2)
	for _, n := range rows {
		assert.Equal(t, 1, n.GroupCount)
		assert.False(t, n.IsGrouped)
	}
}

func TestGroupingEngine_WindowMeasuredFromFirstEvent(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
		require.NoError(t, err)
		clk.Advance(12 * time.Minute)
	}

	// events at 0, 12 and 24 minutes share a row; the one at 36 starts a new one
	rows := store.all()
	require.Len(t, rows, 2)
	counts := []int{rows[0].GroupCount, rows[1].GroupCount}
	assert.ElementsMatch(t, []int{3, 1}, counts)
}

func TestGroupingEngine_KeyedByTypeAndActor(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)
	ctx := context.Background()

	_, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)
	_, err = engine.Process(ctx, events.PostLiked(carol, alice.ID, testPostID, "my post"))
	require.NoError(t, err)
	_, err = engine.Process(ctx, events.Followed(bob, alice.ID))
	require.NoError(t, err)

	assert.Equal(t, 3, store.len())
}

func TestGroupingEngine_ReadNotificationIsNotMergeTarget(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)
	ctx := context.Background()

	first, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)
	_, err = store.MarkAllRead(ctx, alice.ID, clk.Now())
	require.NoError(t, err)

	clk.Advance(time.Minute)
	second, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)
	assert.False(t, second.Merged)
	assert.NotEqual(t, first.Notification.ID, second.Notification.ID)
}

func TestGroupingEngine_RetriesAfterLostRace(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)
	ctx := context.Background()

	_, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)

	store.mergeConflicts = 2
	res, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, 2, res.Notification.GroupCount)
	assert.Equal(t, 1, store.len())
}

func TestGroupingEngine_CreatesWhenMergeAttemptsExhausted(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)
	ctx := context.Background()

	_, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)

	store.mergeConflicts = 10
	res, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "my post"))
	require.NoError(t, err)
	assert.False(t, res.Merged)
	assert.Equal(t, 2, store.len())
}

func TestGroupingEngine_MergeKeepsTextAndOverlaysMetadata(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)
	ctx := context.Background()

	first, err := engine.Process(ctx, events.PostLiked(bob, alice.ID, testPostID, "first preview"))
	require.NoError(t, err)

	clk.Advance(time.Minute)
	renamed := events.Actor{ID: bob.ID, Name: "Bobby"}
	second, err := engine.Process(ctx, events.PostLiked(renamed, alice.ID, testPostID, "second preview"))
	require.NoError(t, err)

	assert.Equal(t, first.Notification.Title, second.Notification.Title)
	assert.Equal(t, first.Notification.Message, second.Notification.Message)
	assert.Equal(t, "Bobby", second.Notification.Metadata["actor_name"])
	assert.Equal(t, "second preview", second.Notification.Metadata["post_preview"])
}

func TestGroupingEngine_GroupIDIsDeterministic(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)

	res, err := engine.Process(context.Background(), events.PostLiked(bob, alice.ID, testPostID, "x"))
	require.NoError(t, err)
	assert.Equal(t, "1:POST_LIKE:2", res.Notification.GroupID)

	sys, err := engine.Process(context.Background(), events.SystemAnnouncement(alice.ID, "Maintenance", "Down at 2am"))
	require.NoError(t, err)
	assert.Equal(t, "1:SYSTEM:system", sys.Notification.GroupID)
	assert.Equal(t, models.StatusUnread, sys.Notification.Status)
}

func TestGroupingEngine_PropagatesStoreErrors(t *testing.T) {
	store, clk := newMemStore(), newClock()
	engine := newEngine(store, clk)

	store.findErr = errStoreDown
	_, err := engine.Process(context.Background(), events.Followed(bob, alice.ID))
	assert.ErrorIs(t, err, errStoreDown)

	store.findErr = nil
	store.insertErr = errStoreDown
	_, err = engine.Process(context.Background(), events.Followed(bob, alice.ID))
	assert.ErrorIs(t, err, errStoreDown)
}
