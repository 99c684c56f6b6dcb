package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Post is the slice of a MongoDB post document the notification producers read:
// the owner becomes the recipient and the content becomes the preview text.
type Post struct {
	ID            primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`
	UserID        uint               `json:"user_id" bson:"user_id"`
	Content       string             `json:"content" bson:"content"`
	LikesCount    int                `json:"likes_count" bson:"likes_count"`
	CommentsCount int                `json:"comments_count" bson:"comments_count"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" bson:"updated_at"`
}

// CreatePostRequest is the body of POST /posts. Mentions are user ids resolved by the client.
type CreatePostRequest struct {
	Content  string `json:"content" validate:"required,min=1,max=280"`
	Mentions []uint `json:"mentions,omitempty" validate:"omitempty,max=20,dive,required"`
}
