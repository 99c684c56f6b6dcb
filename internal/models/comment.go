package models

import "gorm.io/gorm"

// Comment represents a comment on a post, or a reply when ParentID is set
type Comment struct {
	gorm.Model
	PostID   string `json:"post_id" gorm:"index"`
	UserID   uint   `json:"user_id" gorm:"index"`
	ParentID *uint  `json:"parent_id,omitempty" gorm:"index"`
	Content  string `json:"content"`
}

type CreateCommentRequest struct {
	Content  string `json:"content" validate:"required,min=1,max=500"`
	ParentID *uint  `json:"parent_id,omitempty"`
}
