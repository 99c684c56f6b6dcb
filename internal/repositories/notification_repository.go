package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	// ErrNotificationNotFound is returned when no row matches the id and recipient scope
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrOptimisticLock is returned when a conditional update matched no row because
	// the record changed after it was read
	ErrOptimisticLock = errors.New("notification was modified concurrently")
)

// NotificationStore is the persistence boundary for notification rows.
// Every read and write is scoped to a recipient, except FindByIDUnscoped.
type NotificationStore interface {
	FindMatching(ctx context.Context, groupID string, since time.Time) (*models.Notification, error)
	Insert(ctx context.Context, n *models.Notification) error
	MergeInto(ctx context.Context, id string, expectedCount int, metadata map[string]any, now time.Time) (*models.Notification, error)
	FindByID(ctx context.Context, id string, recipientID uint) (*models.Notification, error)
	FindByIDUnscoped(ctx context.Context, id string) (*models.Notification, error)
	Update(ctx context.Context, id string, recipientID uint, patch models.NotificationPatch, now time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID uint, now time.Time) (int64, error)
	Count(ctx context.Context, filter models.NotificationFilter) (int64, error)
	CountByType(ctx context.Context, filter models.NotificationFilter) (map[models.NotificationType]int64, error)
	SumGroupCount(ctx context.Context, filter models.NotificationFilter) (int64, error)
	List(ctx context.Context, filter models.NotificationFilter, limit, offset int) ([]models.Notification, error)
}

type postgresNotificationRepository struct {
	db *gorm.DB
}

func NewPostgresNotificationRepository(db *gorm.DB) NotificationStore {
	return &postgresNotificationRepository{db: db}
}

// FindMatching returns the most recent unread notification in the group created at or after since
func (r *postgresNotificationRepository) FindMatching(ctx context.Context, groupID string, since time.Time) (*models.Notification, error) {
	var n models.Notification
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND status = ? AND created_at >= ?", groupID, models.StatusUnread, since).
		Order("created_at DESC").
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *postgresNotificationRepository) Insert(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(n).Error
}

// MergeInto folds one more event into an existing row. The write only lands if the row
// is still unread and still carries expectedCount, otherwise ErrOptimisticLock.
func (r *postgresNotificationRepository) MergeInto(ctx context.Context, id string, expectedCount int, metadata map[string]any, now time.Time) (*models.Notification, error) {
	updates := map[string]any{
		"group_count": expectedCount + 1,
		"is_grouped":  true,
		"updated_at":  now,
	}
	if metadata != nil {
		updates["metadata"] = datatypes.JSONMap(metadata)
	}

	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND status = ? AND group_count = ?", id, models.StatusUnread, expectedCount).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrOptimisticLock
	}
	return r.FindByIDUnscoped(ctx, id)
}

// FindByID returns a non-deleted notification owned by recipientID
func (r *postgresNotificationRepository) FindByID(ctx context.Context, id string, recipientID uint) (*models.Notification, error) {
	var n models.Notification
	err := r.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ? AND status <> ?", id, recipientID, models.StatusDeleted).
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FindByIDUnscoped bypasses ownership and status filters. Administrative use only.
func (r *postgresNotificationRepository) FindByIDUnscoped(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Update applies patch to a non-deleted notification owned by recipientID.
// Zero affected rows is reported as ErrNotificationNotFound.
func (r *postgresNotificationRepository) Update(ctx context.Context, id string, recipientID uint, patch models.NotificationPatch, now time.Time) (*models.Notification, error) {
	updates := patchColumns(patch)
	updates["updated_at"] = now

	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ? AND status <> ?", id, recipientID, models.StatusDeleted).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotificationNotFound
	}
	return r.FindByIDUnscoped(ctx, id)
}

func (r *postgresNotificationRepository) MarkAllRead(ctx context.Context, recipientID uint, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND status = ?", recipientID, models.StatusUnread).
		Updates(map[string]any{
			"status":     models.StatusRead,
			"read_at":    now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *postgresNotificationRepository) Count(ctx context.Context, filter models.NotificationFilter) (int64, error) {
	var count int64
	err := r.scoped(ctx, filter).Model(&models.Notification{}).Count(&count).Error
	return count, err
}

func (r *postgresNotificationRepository) CountByType(ctx context.Context, filter models.NotificationFilter) (map[models.NotificationType]int64, error) {
	var rows []struct {
		Type  models.NotificationType
		Total int64
	}
	err := r.scoped(ctx, filter).Model(&models.Notification{}).
		Select("type, COUNT(*) AS total").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[models.NotificationType]int64, len(rows))
	for _, row := range rows {
		out[row.Type] = row.Total
	}
	return out, nil
}

func (r *postgresNotificationRepository) SumGroupCount(ctx context.Context, filter models.NotificationFilter) (int64, error) {
	var sum int64
	err := r.scoped(ctx, filter).Model(&models.Notification{}).
		Select("COALESCE(SUM(group_count), 0)").
		Scan(&sum).Error
	return sum, err
}

func (r *postgresNotificationRepository) List(ctx context.Context, filter models.NotificationFilter, limit, offset int) ([]models.Notification, error) {
	var notifications []models.Notification
	q := r.scoped(ctx, filter).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *postgresNotificationRepository) scoped(ctx context.Context, f models.NotificationFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Where("recipient_id = ?", f.RecipientID)
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	} else if !f.IncludeDeleted {
		q = q.Where("status <> ?", models.StatusDeleted)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.OnlyGrouped {
		q = q.Where("is_grouped = ?", true)
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedBefore != nil {
		q = q.Where("created_at < ?", *f.CreatedBefore)
	}
	return q
}

func patchColumns(p models.NotificationPatch) map[string]any {
	cols := make(map[string]any)
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.Message != nil {
		cols["message"] = *p.Message
	}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.Priority != nil {
		cols["priority"] = *p.Priority
	}
	if p.Metadata != nil {
		cols["metadata"] = p.Metadata
	}
	if p.IsGrouped != nil {
		cols["is_grouped"] = *p.IsGrouped
	}
	if p.GroupCount != nil {
		cols["group_count"] = *p.GroupCount
	}
	if p.ReadAt != nil {
		cols["read_at"] = *p.ReadAt
	}
	if p.DeletedAt != nil {
		cols["deleted_at"] = *p.DeletedAt
	}
	return cols
}
