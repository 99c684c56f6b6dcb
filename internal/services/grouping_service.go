package services

import (
	"context"
	"errors"
	"time"

	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/repositories"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// GroupingResult is the outcome of processing one event
type GroupingResult struct {
	Notification *models.Notification
	Merged       bool
}

// GroupingEngine decides whether an event folds into a recent unread notification
// or becomes a new one. The lookback window bounds the candidate search and the
// grouping window gates the merge itself.
type GroupingEngine struct {
	store       repositories.NotificationStore
	window      time.Duration
	lookback    time.Duration
	maxAttempts int
	now         func() time.Time
	logger      *zap.Logger
}

type GroupingOption func(*GroupingEngine)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) GroupingOption {
	return func(g *GroupingEngine) { g.now = now }
}

func NewGroupingEngine(store repositories.NotificationStore, window, lookback time.Duration, maxAttempts int, logger *zap.Logger, opts ...GroupingOption) *GroupingEngine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	g := &GroupingEngine{
		store:       store,
		window:      window,
		lookback:    lookback,
		maxAttempts: maxAttempts,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Process persists the event, either merged into an existing row or as a new one.
// Store errors are returned as-is.
func (g *GroupingEngine) Process(ctx context.Context, event events.NotificationEvent) (*GroupingResult, error) {
	groupID := event.GroupID()

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		now := g.now()
		candidate, err := g.store.FindMatching(ctx, groupID, now.Add(-g.lookback))
		if err != nil {
			return nil, err
		}
		if candidate == nil || !g.shouldMerge(candidate, event, now) {
			break
		}

		merged, err := g.store.MergeInto(ctx, candidate.ID, candidate.GroupCount, mergeMetadata(candidate.Metadata, event.Metadata), now)
		if errors.Is(err, repositories.ErrOptimisticLock) {
			g.logger.Debug("merge lost race, re-reading candidate",
				zap.String("group_id", groupID),
				zap.String("notification_id", candidate.ID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}
		return &GroupingResult{Notification: merged, Merged: true}, nil
	}

	n := newNotification(event, groupID, g.now())
	if err := g.store.Insert(ctx, n); err != nil {
		return nil, err
	}
	return &GroupingResult{Notification: n}, nil
}

func (g *GroupingEngine) shouldMerge(candidate *models.Notification, event events.NotificationEvent, now time.Time) bool {
	if now.Sub(candidate.CreatedAt) > g.window {
		return false
	}
	return candidate.Type == event.Type && sameActor(candidate.ActorID, event.ActorID)
}

func sameActor(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// mergeMetadata overlays incoming keys onto existing ones
func mergeMetadata(existing datatypes.JSONMap, incoming map[string]any) map[string]any {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

func newNotification(event events.NotificationEvent, groupID string, now time.Time) *models.Notification {
	n := &models.Notification{
		RecipientID:     event.RecipientID,
		ActorID:         event.ActorID,
		Type:            event.Type,
		Title:           event.Title,
		Message:         event.Message,
		Status:          models.StatusUnread,
		Priority:        event.Priority,
		PostID:          event.PostID,
		CommentID:       event.CommentID,
		ReactionID:      event.ReactionID,
		FriendRequestID: event.FriendRequestID,
		GroupID:         groupID,
		GroupCount:      1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(event.Metadata) > 0 {
		n.Metadata = datatypes.JSONMap(event.Metadata)
	}
	return n
}
