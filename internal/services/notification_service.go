package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/repositories"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	olderBucketSize = 50
)

// UserDirectory answers whether a user id exists
type UserDirectory interface {
	UserExists(ctx context.Context, id uint) (bool, error)
}

// PresenceChecker reports whether a user wants live pushes right now. Implementations
// treat lookup failures as offline.
type PresenceChecker interface {
	IsSubscribed(ctx context.Context, userID uint) bool
}

// Pusher delivers real-time payloads to a user's room
type Pusher interface {
	PushNotification(ctx context.Context, userID uint, n *models.Notification) error
	PushUpdate(ctx context.Context, userID uint, n *models.Notification) error
	PushUnreadCount(ctx context.Context, userID uint, count int64) error
}

// ListQuery selects a page of notifications
type ListQuery struct {
	Status models.NotificationStatus
	Type   models.NotificationType
	Page   int
	Limit  int
}

func (q ListQuery) normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > maxPageSize {
		q.Limit = defaultPageSize
	}
	return q
}

// NotificationPage is one page of results plus paging metadata
type NotificationPage struct {
	Notifications []models.Notification
	Page          int
	Limit         int
	Total         int64
	TotalPages    int
}

// UpdateInput is the recipient-editable part of a notification
type UpdateInput struct {
	Title    *string
	Message  *string
	Priority *models.NotificationPriority
	Metadata map[string]any
}

// Timeline buckets notifications by when they were created
type Timeline struct {
	Today     []models.Notification `json:"today"`
	Yesterday []models.Notification `json:"yesterday"`
	ThisWeek  []models.Notification `json:"thisWeek"`
	Older     []models.Notification `json:"older"`
}

// NotificationService is the entry point the rest of the application uses for notifications
type NotificationService struct {
	store    repositories.NotificationStore
	grouping *GroupingEngine
	users    UserDirectory
	presence PresenceChecker
	pusher   Pusher
	now      func() time.Time
	logger   *zap.Logger
}

func NewNotificationService(
	store repositories.NotificationStore,
	grouping *GroupingEngine,
	users UserDirectory,
	presence PresenceChecker,
	pusher Pusher,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		store:    store,
		grouping: grouping,
		users:    users,
		presence: presence,
		pusher:   pusher,
		now:      time.Now,
		logger:   logger,
	}
}

// Create runs the event through the grouping engine and then, only if the recipient
// is subscribed, pushes the result and the refreshed unread count.
func (s *NotificationService) Create(ctx context.Context, event events.NotificationEvent) (*models.Notification, error) {
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.checkUsers(ctx, event); err != nil {
		return nil, err
	}

	result, err := s.grouping.Process(ctx, event)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("notification stored",
		zap.String("notification_id", result.Notification.ID),
		zap.Uint("recipient_id", event.RecipientID),
		zap.String("type", string(event.Type)),
		zap.Bool("merged", result.Merged),
		zap.Int("group_count", result.Notification.GroupCount))

	if !s.presence.IsSubscribed(ctx, event.RecipientID) {
		return result.Notification, nil
	}
	if result.Merged {
		s.logPush(s.pusher.PushUpdate(ctx, event.RecipientID, result.Notification), "notificationUpdate", event.RecipientID)
	} else {
		s.logPush(s.pusher.PushNotification(ctx, event.RecipientID, result.Notification), "notification", event.RecipientID)
	}
	s.pushUnreadCount(ctx, event.RecipientID)
	return result.Notification, nil
}

func (s *NotificationService) checkUsers(ctx context.Context, event events.NotificationEvent) error {
	ids := []uint{event.RecipientID}
	if event.ActorID != nil {
		ids = append(ids, *event.ActorID)
	}
	for _, id := range ids {
		ok, err := s.users.UserExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Warn("dropping notification event for unknown user",
				zap.Uint("user_id", id),
				zap.String("type", string(event.Type)))
			return ErrUnknownUser
		}
	}
	return nil
}

// FindAll lists the recipient's notifications, newest first. Deleted rows are never returned.
func (s *NotificationService) FindAll(ctx context.Context, userID uint, q ListQuery) (*NotificationPage, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	if q.Status == models.StatusDeleted || (q.Status != "" && !q.Status.Valid()) {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrValidation, q.Status)
	}
	if q.Type != "" && !q.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrValidation, q.Type)
	}

	filter := models.NotificationFilter{RecipientID: userID, Type: q.Type}
	if q.Status != "" {
		filter.Statuses = []models.NotificationStatus{q.Status}
	}
	return s.page(ctx, filter, q.normalize())
}

// FindByType lists non-deleted notifications of one type
func (s *NotificationService) FindByType(ctx context.Context, userID uint, t models.NotificationType, page, limit int) (*NotificationPage, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrValidation, t)
	}
	filter := models.NotificationFilter{RecipientID: userID, Type: t}
	return s.page(ctx, filter, ListQuery{Page: page, Limit: limit}.normalize())
}

// GetGroupedNotifications lists notifications that represent more than one event
func (s *NotificationService) GetGroupedNotifications(ctx context.Context, userID uint, page, limit int) (*NotificationPage, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	filter := models.NotificationFilter{RecipientID: userID, OnlyGrouped: true}
	return s.page(ctx, filter, ListQuery{Page: page, Limit: limit}.normalize())
}

func (s *NotificationService) page(ctx context.Context, filter models.NotificationFilter, q ListQuery) (*NotificationPage, error) {
	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	items, err := s.store.List(ctx, filter, q.Limit, (q.Page-1)*q.Limit)
	if err != nil {
		return nil, err
	}
	return &NotificationPage{
		Notifications: items,
		Page:          q.Page,
		Limit:         q.Limit,
		Total:         total,
		TotalPages:    int(math.Ceil(float64(total) / float64(q.Limit))),
	}, nil
}

func (s *NotificationService) FindOne(ctx context.Context, id string, userID uint) (*models.Notification, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	n, err := s.store.FindByID(ctx, id, userID)
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		return nil, ErrNotFound
	}
	return n, err
}

// Update edits title, message or priority and merges metadata keys
func (s *NotificationService) Update(ctx context.Context, id string, userID uint, in UpdateInput) (*models.Notification, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	if in.Priority != nil {
		switch *in.Priority {
		case models.PriorityNormal, models.PriorityHigh, models.PriorityUrgent:
		default:
			return nil, fmt.Errorf("%w: unknown priority %q", ErrValidation, *in.Priority)
		}
	}

	patch := models.NotificationPatch{Title: in.Title, Message: in.Message, Priority: in.Priority}
	if len(in.Metadata) > 0 {
		current, err := s.FindOne(ctx, id, userID)
		if err != nil {
			return nil, err
		}
		patch.Metadata = datatypes.JSONMap(mergeMetadata(current.Metadata, in.Metadata))
	}

	n, err := s.apply(ctx, "update", id, userID, patch)
	if err != nil {
		return nil, err
	}
	if s.presence.IsSubscribed(ctx, userID) {
		s.logPush(s.pusher.PushUpdate(ctx, userID, n), "notificationUpdate", userID)
	}
	return n, nil
}

// MarkAsRead transitions one owned, non-deleted notification to READ.
// A notification that is already READ is returned untouched.
func (s *NotificationService) MarkAsRead(ctx context.Context, id string, userID uint) (*models.Notification, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	current, err := s.FindOne(ctx, id, userID)
	if errors.Is(err, ErrNotFound) {
		s.logMiss(ctx, "mark_read", id, userID)
	}
	if err != nil {
		return nil, err
	}
	// first read time is kept
	if current.Status == models.StatusRead {
		return current, nil
	}
	now := s.now()
	status := models.StatusRead
	n, err := s.apply(ctx, "mark_read", id, userID, models.NotificationPatch{Status: &status, ReadAt: &now})
	if err != nil {
		return nil, err
	}
	s.pushUnreadCountIfSubscribed(ctx, userID)
	return n, nil
}

// MarkAllAsRead moves every UNREAD notification to READ and returns how many changed
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uint) (int64, error) {
	if userID == 0 {
		return 0, ErrUnauthenticated
	}
	affected, err := s.store.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, err
	}
	s.pushUnreadCountIfSubscribed(ctx, userID)
	return affected, nil
}

func (s *NotificationService) Archive(ctx context.Context, id string, userID uint) (*models.Notification, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	status := models.StatusArchived
	n, err := s.apply(ctx, "archive", id, userID, models.NotificationPatch{Status: &status})
	if err != nil {
		return nil, err
	}
	s.pushUnreadCountIfSubscribed(ctx, userID)
	return n, nil
}

// Remove soft-deletes the notification. The row stays in storage.
func (s *NotificationService) Remove(ctx context.Context, id string, userID uint) error {
	if userID == 0 {
		return ErrUnauthenticated
	}
	now := s.now()
	status := models.StatusDeleted
	if _, err := s.apply(ctx, "remove", id, userID, models.NotificationPatch{Status: &status, DeletedAt: &now}); err != nil {
		return err
	}
	s.pushUnreadCountIfSubscribed(ctx, userID)
	return nil
}

// UngroupNotification collapses a grouped notification back to a single event
func (s *NotificationService) UngroupNotification(ctx context.Context, id string, userID uint) (*models.Notification, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	grouped := false
	count := 1
	n, err := s.apply(ctx, "ungroup", id, userID, models.NotificationPatch{IsGrouped: &grouped, GroupCount: &count})
	if err != nil {
		return nil, err
	}
	if s.presence.IsSubscribed(ctx, userID) {
		s.logPush(s.pusher.PushUpdate(ctx, userID, n), "notificationUpdate", userID)
	}
	return n, nil
}

// apply runs an ownership-scoped update and maps a miss to ErrNotFound
func (s *NotificationService) apply(ctx context.Context, op, id string, userID uint, patch models.NotificationPatch) (*models.Notification, error) {
	n, err := s.store.Update(ctx, id, userID, patch, s.now())
	if errors.Is(err, repositories.ErrNotificationNotFound) {
		s.logMiss(ctx, op, id, userID)
		return nil, ErrNotFound
	}
	return n, err
}

// logMiss records why an update touched no rows. The caller sees ErrNotFound either way.
func (s *NotificationService) logMiss(ctx context.Context, op, id string, userID uint) {
	fields := []zap.Field{zap.String("op", op), zap.String("notification_id", id), zap.Uint("user_id", userID)}

	row, err := s.store.FindByIDUnscoped(ctx, id)
	switch {
	case err != nil:
		s.logger.Debug("notification not found", fields...)
	case row.RecipientID != userID:
		s.logger.Debug("notification not owned by caller", fields...)
	case row.Status == models.StatusDeleted:
		s.logger.Debug("notification already deleted", fields...)
	default:
		s.logger.Info("notification changed concurrently, no rows updated", fields...)
	}
}

// GetUnreadCount is the single source for both polling and pushed counts
func (s *NotificationService) GetUnreadCount(ctx context.Context, userID uint) (int64, error) {
	if userID == 0 {
		return 0, ErrUnauthenticated
	}
	return s.store.Count(ctx, models.NotificationFilter{
		RecipientID: userID,
		Statuses:    []models.NotificationStatus{models.StatusUnread},
	})
}

func (s *NotificationService) GetNotificationStats(ctx context.Context, userID uint) (*models.NotificationStats, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	stats := &models.NotificationStats{}
	counts := []struct {
		status models.NotificationStatus
		dst    *int64
	}{
		{models.StatusUnread, &stats.Unread},
		{models.StatusRead, &stats.Read},
		{models.StatusArchived, &stats.Archived},
	}
	for _, c := range counts {
		n, err := s.store.Count(ctx, models.NotificationFilter{
			RecipientID: userID,
			Statuses:    []models.NotificationStatus{c.status},
		})
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	stats.Total = stats.Unread + stats.Read + stats.Archived

	byType, err := s.store.CountByType(ctx, models.NotificationFilter{RecipientID: userID})
	if err != nil {
		return nil, err
	}
	stats.ByType = byType
	return stats, nil
}

// GetGroupingStats reports grouped vs ungrouped rows and the mean size of grouped rows
func (s *NotificationService) GetGroupingStats(ctx context.Context, userID uint) (*models.GroupingStats, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	all := models.NotificationFilter{RecipientID: userID}
	grouped := models.NotificationFilter{RecipientID: userID, OnlyGrouped: true}

	total, err := s.store.Count(ctx, all)
	if err != nil {
		return nil, err
	}
	groupedCount, err := s.store.Count(ctx, grouped)
	if err != nil {
		return nil, err
	}
	totalEvents, err := s.store.SumGroupCount(ctx, all)
	if err != nil {
		return nil, err
	}
	groupedEvents, err := s.store.SumGroupCount(ctx, grouped)
	if err != nil {
		return nil, err
	}

	stats := &models.GroupingStats{
		TotalNotifications:   total,
		GroupedNotifications: groupedCount,
		UngroupedCount:       total - groupedCount,
		TotalEvents:          totalEvents,
	}
	if groupedCount > 0 {
		stats.AverageGroupSize = float64(groupedEvents) / float64(groupedCount)
	}
	return stats, nil
}

// GetTimeline buckets non-deleted notifications into today, yesterday, the rest of
// the past week, and a capped older bucket.
func (s *NotificationService) GetTimeline(ctx context.Context, userID uint) (*Timeline, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	now := s.now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterdayStart := todayStart.AddDate(0, 0, -1)
	weekStart := todayStart.AddDate(0, 0, -7)

	timeline := &Timeline{}
	buckets := []struct {
		from, before *time.Time
		limit        int
		dst          *[]models.Notification
	}{
		{&todayStart, nil, 0, &timeline.Today},
		{&yesterdayStart, &todayStart, 0, &timeline.Yesterday},
		{&weekStart, &yesterdayStart, 0, &timeline.ThisWeek},
		{nil, &weekStart, olderBucketSize, &timeline.Older},
	}

	for _, b := range buckets {
		items, err := s.store.List(ctx, models.NotificationFilter{
			RecipientID:   userID,
			CreatedFrom:   b.from,
			CreatedBefore: b.before,
		}, b.limit, 0)
		if err != nil {
			return nil, err
		}
		*b.dst = items
	}
	return timeline, nil
}

func (s *NotificationService) pushUnreadCountIfSubscribed(ctx context.Context, userID uint) {
	if s.presence.IsSubscribed(ctx, userID) {
		s.pushUnreadCount(ctx, userID)
	}
}

func (s *NotificationService) pushUnreadCount(ctx context.Context, userID uint) {
	count, err := s.GetUnreadCount(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to recompute unread count for push", zap.Uint("user_id", userID), zap.Error(err))
		return
	}
	s.logPush(s.pusher.PushUnreadCount(ctx, userID, count), "unreadCount", userID)
}

func (s *NotificationService) logPush(err error, event string, userID uint) {
	if err != nil {
		s.logger.Warn("real-time push failed",
			zap.String("event", event),
			zap.Uint("user_id", userID),
			zap.Error(err))
	}
}
