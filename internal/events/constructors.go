package events

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anonto42/nano-midea/notifier/internal/models"
)

const previewLength = 50

// Actor is the user an interaction originates from
type Actor struct {
	ID   uint
	Name string
}

func (a Actor) displayName() string {
	if strings.TrimSpace(a.Name) == "" {
		return "Someone"
	}
	return a.Name
}

func (a Actor) metadata(extra map[string]any) map[string]any {
	md := map[string]any{"actor_name": a.displayName()}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func uintPtr(v uint) *uint { return &v }

func strPtr(v string) *string { return &v }

// Preview shortens text to a single-line excerpt for titles and metadata
func Preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "..."
}

func PostLiked(actor Actor, recipientID uint, postID, postContent string) NotificationEvent {
	preview := Preview(postContent)
	return NotificationEvent{
		Type:        models.TypePostLike,
		RecipientID: recipientID,
		ActorID:     uintPtr(actor.ID),
		Title:       "New like",
		Message:     fmt.Sprintf("%s liked your post: %q", actor.displayName(), preview),
		Priority:    models.PriorityNormal,
		PostID:      strPtr(postID),
		Metadata:    actor.metadata(map[string]any{"post_preview": preview}),
	}
}

func PostCommented(actor Actor, recipientID uint, postID string, commentID uint, commentContent string) NotificationEvent {
	preview := Preview(commentContent)
	return NotificationEvent{
		Type:        models.TypePostComment,
		RecipientID: recipientID,
		ActorID:     uintPtr(actor.ID),
		Title:       "New comment",
		Message:     fmt.Sprintf("%s commented on your post: %q", actor.displayName(), preview),
		Priority:    models.PriorityNormal,
		PostID:      strPtr(postID),
		CommentID:   uintPtr(commentID),
		Metadata:    actor.metadata(map[string]any{"comment_preview": preview}),
	}
}

// CommentReplied notifies the author of parent about a reply; commentID is the reply
func CommentReplied(actor Actor, recipientID uint, postID string, commentID uint, replyContent string) NotificationEvent {
	preview := Preview(replyContent)
	return NotificationEvent{
		Type:        models.TypeCommentReply,
		RecipientID: recipientID,
		ActorID:     uintPtr(actor.ID),
		Title:       "New reply",
		Message:     fmt.Sprintf("%s replied to your comment: %q", actor.displayName(), preview),
		Priority:    models.PriorityNormal,
		PostID:      strPtr(postID),
		CommentID:   uintPtr(commentID),
		Metadata:    actor.metadata(map[string]any{"reply_preview": preview}),
	}
}

func CommentLiked(actor Actor, recipientID uint, commentID, reactionID uint, commentContent string) NotificationEvent {
	preview := Preview(commentContent)
	return NotificationEvent{
		Type:        models.TypeCommentLike,
		RecipientID: recipientID,
		ActorID:     uintPtr(actor.ID),
		Title:       "New like on your comment",
		Message:     fmt.Sprintf("%s liked your comment: %q", actor.displayName(), preview),
		Priority:    models.PriorityNormal,
		CommentID:   uintPtr(commentID),
		ReactionID:  uintPtr(reactionID),
		Metadata:    actor.metadata(map[string]any{"comment_preview": preview}),
	}
}

// Mentioned covers mentions in a post (commentID nil) or in a comment
func Mentioned(actor Actor, recipientID uint, postID string, commentID *uint, content string) NotificationEvent {
	preview := Preview(content)
	where := "a post"
	if commentID != nil {
		where = "a comment"
	}
	return NotificationEvent{
		Type:        models.TypeMention,
		RecipientID: recipientID,
		ActorID:     uintPtr(actor.ID),
		Title:       "You were mentioned",
		Message:     fmt.Sprintf("%s mentioned you in %s: %q", actor.displayName(), where, preview),
		Priority:    models.PriorityNormal,
		PostID:      strPtr(postID),
		CommentID:   commentID,
		Metadata:    actor.metadata(map[string]any{"preview": preview}),
	}
}

func FriendRequested(actor Actor, recipientID, requestID uint) NotificationEvent {
	return NotificationEvent{
		Type:            models.TypeFriendRequest,
		RecipientID:     recipientID,
		ActorID:         uintPtr(actor.ID),
		Title:           "New friend request",
		Message:         fmt.Sprintf("%s sent you a friend request", actor.displayName()),
		Priority:        models.PriorityHigh,
		FriendRequestID: uintPtr(requestID),
		Metadata:        actor.metadata(nil),
	}
}

func FriendRequestAccepted(actor Actor, recipientID, requestID uint) NotificationEvent {
	return NotificationEvent{
		Type:            models.TypeFriendRequestAccepted,
		RecipientID:     recipientID,
		ActorID:         uintPtr(actor.ID),
		Title:           "Friend request accepted",
		Message:         fmt.Sprintf("%s accepted your friend request", actor.displayName()),
		Priority:        models.PriorityNormal,
		FriendRequestID: uintPtr(requestID),
		Metadata:        actor.metadata(nil),
	}
}

func Followed(actor Actor, recipientID uint) NotificationEvent {
	return NotificationEvent{
		Type:        models.TypeNewFollower,
		RecipientID: recipientID,
		ActorID:     uintPtr(actor.ID),
		Title:       "New follower",
		Message:     fmt.Sprintf("%s started following you", actor.displayName()),
		Priority:    models.PriorityNormal,
		Metadata:    actor.metadata(nil),
	}
}

// BirthdayReminder tells recipientID that friend has a birthday today
func BirthdayReminder(friend Actor, recipientID uint) NotificationEvent {
	return NotificationEvent{
		Type:        models.TypeBirthdayReminder,
		RecipientID: recipientID,
		ActorID:     uintPtr(friend.ID),
		Title:       "Birthday today",
		Message:     fmt.Sprintf("It's %s's birthday today", friend.displayName()),
		Priority:    models.PriorityNormal,
		Metadata:    friend.metadata(nil),
	}
}

// SecurityAlert is a system notification without an actor, e.g. a login from a new device
func SecurityAlert(recipientID uint, detail string, metadata map[string]any) NotificationEvent {
	md := map[string]any{}
	for k, v := range metadata {
		md[k] = v
	}
	return NotificationEvent{
		Type:        models.TypeSecurityAlert,
		RecipientID: recipientID,
		Title:       "Security alert",
		Message:     detail,
		Priority:    models.PriorityUrgent,
		Metadata:    md,
	}
}

func SystemAnnouncement(recipientID uint, title, message string) NotificationEvent {
	return NotificationEvent{
		Type:        models.TypeSystem,
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Priority:    models.PriorityNormal,
	}
}
