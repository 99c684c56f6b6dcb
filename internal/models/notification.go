package models

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// NotificationType is the closed set of interaction kinds that produce notifications
type NotificationType string

const (
	TypePostLike              NotificationType = "POST_LIKE"
	TypePostComment           NotificationType = "POST_COMMENT"
	TypeCommentReply          NotificationType = "COMMENT_REPLY"
	TypeCommentLike           NotificationType = "COMMENT_LIKE"
	TypeMention               NotificationType = "MENTION"
	TypeFriendRequest         NotificationType = "FRIEND_REQUEST"
	TypeFriendRequestAccepted NotificationType = "FRIEND_REQUEST_ACCEPTED"
	TypeNewFollower           NotificationType = "NEW_FOLLOWER"
	TypeSecurityAlert         NotificationType = "SECURITY_ALERT"
	TypeBirthdayReminder      NotificationType = "BIRTHDAY_REMINDER"
	TypeSystem                NotificationType = "SYSTEM"
)

var notificationTypes = map[NotificationType]struct{}{
	TypePostLike:              {},
	TypePostComment:           {},
	TypeCommentReply:          {},
	TypeCommentLike:           {},
	TypeMention:               {},
	TypeFriendRequest:         {},
	TypeFriendRequestAccepted: {},
	TypeNewFollower:           {},
	TypeSecurityAlert:         {},
	TypeBirthdayReminder:      {},
	TypeSystem:                {},
}

// Valid reports whether t belongs to the known set of types
func (t NotificationType) Valid() bool {
	_, ok := notificationTypes[t]
	return ok
}

// NotificationStatus is the lifecycle state of a notification
type NotificationStatus string

const (
	StatusUnread   NotificationStatus = "UNREAD"
	StatusRead     NotificationStatus = "READ"
	StatusArchived NotificationStatus = "ARCHIVED"
	StatusDeleted  NotificationStatus = "DELETED"
)

// Valid reports whether s is a known status
func (s NotificationStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusRead, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// NotificationPriority controls how prominently a client renders a notification
type NotificationPriority string

const (
	PriorityNormal NotificationPriority = "NORMAL"
	PriorityHigh   NotificationPriority = "HIGH"
	PriorityUrgent NotificationPriority = "URGENT"
)

// Notification represents a user notification (PostgreSQL)
type Notification struct {
	ID          string           `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RecipientID uint             `json:"recipient_id" gorm:"not null;index:idx_notifications_recipient_status"`
	ActorID     *uint            `json:"actor_id,omitempty" gorm:"index"`
	Type        NotificationType `json:"type" gorm:"size:40;not null;index"`
	Title       string           `json:"title" gorm:"size:255"`
	Message     string           `json:"message" gorm:"type:text"`

	Status   NotificationStatus   `json:"status" gorm:"size:20;not null;default:UNREAD;index:idx_notifications_recipient_status"`
	Priority NotificationPriority `json:"priority" gorm:"size:20;not null;default:NORMAL"`

	// Correlation fields; only the ones relevant to Type are set
	PostID          *string `json:"post_id,omitempty" gorm:"size:24"`
	CommentID       *uint   `json:"comment_id,omitempty"`
	ReactionID      *uint   `json:"reaction_id,omitempty"`
	FriendRequestID *uint   `json:"friend_request_id,omitempty"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`

	GroupID    string `json:"group_id" gorm:"size:120;not null;index:idx_notifications_group_created"`
	IsGrouped  bool   `json:"is_grouped" gorm:"not null;default:false"`
	GroupCount int    `json:"group_count" gorm:"not null;default:1"`

	CreatedAt time.Time  `json:"created_at" gorm:"index:idx_notifications_group_created"`
	UpdatedAt time.Time  `json:"updated_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// GroupIDFor derives the grouping bucket key for a recipient, type and optional actor.
// The value is computed once at creation and never recomputed.
func GroupIDFor(recipientID uint, t NotificationType, actorID *uint) string {
	actor := "system"
	if actorID != nil {
		actor = fmt.Sprintf("%d", *actorID)
	}
	return fmt.Sprintf("%d:%s:%s", recipientID, t, actor)
}

// NotificationPatch is a partial update applied by the store. Nil fields are left untouched.
type NotificationPatch struct {
	Title      *string
	Message    *string
	Status     *NotificationStatus
	Priority   *NotificationPriority
	Metadata   datatypes.JSONMap
	IsGrouped  *bool
	GroupCount *int
	ReadAt     *time.Time
	DeletedAt  *time.Time
}

// NotificationFilter narrows store queries. RecipientID is always required.
type NotificationFilter struct {
	RecipientID    uint
	Statuses       []NotificationStatus
	Type           NotificationType
	OnlyGrouped    bool
	IncludeDeleted bool
	CreatedFrom    *time.Time
	CreatedBefore  *time.Time
}

// NotificationStats summarises a recipient's notifications by status and type
type NotificationStats struct {
	Total    int64                      `json:"total"`
	Unread   int64                      `json:"unread"`
	Read     int64                      `json:"read"`
	Archived int64                      `json:"archived"`
	ByType   map[NotificationType]int64 `json:"by_type"`
}

// GroupingStats describes how much merging happened for a recipient
type GroupingStats struct {
	TotalNotifications   int64   `json:"total_notifications"`
	GroupedNotifications int64   `json:"grouped_notifications"`
	UngroupedCount       int64   `json:"ungrouped_notifications"`
	TotalEvents          int64   `json:"total_events"`
	AverageGroupSize     float64 `json:"average_group_size"`
}
