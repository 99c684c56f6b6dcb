// Package events turns domain actions into canonical notification events and
// hands them to the notification pipeline off the caller's goroutine.
package events

import (
	"errors"
	"fmt"

	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/validators"
)

// ErrInvalidEvent wraps every validation failure of a NotificationEvent
var ErrInvalidEvent = errors.New("invalid notification event")

// NotificationEvent is the normalized input of the grouping engine. Constructors in
// this package set exactly the correlation fields relevant to Type.
type NotificationEvent struct {
	Type        models.NotificationType     `validate:"required,notification_type"`
	RecipientID uint                        `validate:"required"`
	ActorID     *uint                       `validate:"omitempty,gt=0"`
	Title       string                      `validate:"required,max=255"`
	Message     string                      `validate:"required"`
	Priority    models.NotificationPriority `validate:"required,oneof=NORMAL HIGH URGENT"`

	PostID          *string `validate:"omitempty,len=24,hexadecimal"`
	CommentID       *uint
	ReactionID      *uint
	FriendRequestID *uint

	Metadata map[string]any
}

// actorless types are emitted by the system rather than by another user
var actorless = map[models.NotificationType]bool{
	models.TypeSecurityAlert: true,
	models.TypeSystem:        true,
}

// Validate checks field constraints and the per-type shape of the event
func (e NotificationEvent) Validate() error {
	if err := validators.Engine().Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.ActorID == nil && !actorless[e.Type] {
		return fmt.Errorf("%w: %s requires an actor", ErrInvalidEvent, e.Type)
	}
	if e.ActorID != nil && *e.ActorID == e.RecipientID {
		return fmt.Errorf("%w: actor and recipient are the same user", ErrInvalidEvent)
	}
	return nil
}

// GroupID is the grouping bucket this event falls into
func (e NotificationEvent) GroupID() string {
	return models.GroupIDFor(e.RecipientID, e.Type, e.ActorID)
}
