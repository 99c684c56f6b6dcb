package models

import (
	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Name        string  `json:"name"`
	Email       string  `json:"email" gorm:"uniqueIndex"`
	Age         int     `json:"age"`
	Password    string  `json:"-"`
	FirebaseUID *string `json:"firebase_uid,omitempty" gorm:"uniqueIndex"`
}

// UserCompact is the actor shape attached to notifications in API responses
type UserCompact struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func (u *User) ToCompact() UserCompact {
	return UserCompact{ID: u.ID, Name: u.Name}
}

type CreateLocalUserRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Age      int    `json:"age" validate:"min=0,max=150"`
	Password string `json:"password" validate:"required,min=8"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// JwtCustomClaims are custom claims extending standard jwt.RegisteredClaims
type JwtCustomClaims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
