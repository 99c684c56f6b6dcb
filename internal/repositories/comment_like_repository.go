package repositories

import (
	"context"
	"errors"

	"github.com/anonto42/nano-midea/notifier/internal/models"
	"gorm.io/gorm"
)

// ErrCommentLikeNotFound is returned when unliking a comment the user never liked
var ErrCommentLikeNotFound = errors.New("comment like not found")

// CommentLikeRepository defines the interface for comment like operations
type CommentLikeRepository interface {
	CreateCommentLike(ctx context.Context, like *models.CommentLike) error
	DeleteCommentLike(ctx context.Context, commentID, userID uint) error
	HasUserLikedComment(ctx context.Context, commentID, userID uint) (bool, error)
	GetLikesCount(ctx context.Context, commentID uint) (int64, error)
}

type postgresCommentLikeRepository struct {
	db *gorm.DB
}

func NewPostgresCommentLikeRepository(db *gorm.DB) CommentLikeRepository {
	return &postgresCommentLikeRepository{db: db}
}

func (r *postgresCommentLikeRepository) CreateCommentLike(ctx context.Context, like *models.CommentLike) error {
	return r.db.WithContext(ctx).Create(like).Error
}

// DeleteCommentLike hard-deletes, like DeleteLike, so the unique index allows liking again
func (r *postgresCommentLikeRepository) DeleteCommentLike(ctx context.Context, commentID, userID uint) error {
	res := r.db.WithContext(ctx).Unscoped().
		Where("comment_id = ? AND user_id = ?", commentID, userID).
		Delete(&models.CommentLike{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCommentLikeNotFound
	}
	return nil
}

func (r *postgresCommentLikeRepository) HasUserLikedComment(ctx context.Context, commentID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CommentLike{}).
		Where("comment_id = ? AND user_id = ?", commentID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *postgresCommentLikeRepository) GetLikesCount(ctx context.Context, commentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CommentLike{}).Where("comment_id = ?", commentID).Count(&count).Error
	return count, err
}
