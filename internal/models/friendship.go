package models

import "gorm.io/gorm"

const (
	FriendRequestPending  = "pending"
	FriendRequestAccepted = "accepted"
	FriendRequestRejected = "rejected"
)

// FriendRequest represents a friend request between two users
type FriendRequest struct {
	gorm.Model
	SenderID   uint   `json:"sender_id" gorm:"index"`
	ReceiverID uint   `json:"receiver_id" gorm:"index"`
	Status     string `json:"status" gorm:"type:varchar(20);default:'pending'"`
}

type CreateFriendRequest struct {
	ReceiverID uint `json:"receiver_id" validate:"required"`
}

type UpdateFriendRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted rejected"`
}
