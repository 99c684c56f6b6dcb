package models

import "gorm.io/gorm"

// CommentLike is one user's like on a comment. Its ID is the reaction id carried by COMMENT_LIKE notifications.
type CommentLike struct {
	gorm.Model
	CommentID uint `json:"comment_id" gorm:"index;uniqueIndex:idx_comment_like_user"`
	UserID    uint `json:"user_id" gorm:"index;uniqueIndex:idx_comment_like_user"`
}
