package repositories

import (
	"context"
	"errors"

	"github.com/anonto42/nano-midea/notifier/internal/models"
	"gorm.io/gorm"
)

var (
	ErrFriendRequestPending = errors.New("a pending friend request already exists between these users")
	ErrAlreadyFriends       = errors.New("users are already friends")
)

// FriendshipRepository defines the interface for friendship data operations
type FriendshipRepository interface {
	SendFriendRequest(ctx context.Context, req *models.FriendRequest) error
	GetFriendRequestByID(ctx context.Context, id uint) (*models.FriendRequest, error)
	GetUserPendingFriendRequests(ctx context.Context, userID uint) ([]models.FriendRequest, error)
	UpdateFriendRequestStatus(ctx context.Context, id uint, status string) error
}

// PostgresFriendshipRepository implements FriendshipRepository for PostgreSQL
type PostgresFriendshipRepository struct {
	db *gorm.DB
}

// NewPostgresFriendshipRepository creates a new PostgresFriendshipRepository
func NewPostgresFriendshipRepository(db *gorm.DB) *PostgresFriendshipRepository {
	return &PostgresFriendshipRepository{db: db}
}

// SendFriendRequest refuses a second request while one is pending or accepted in either direction
func (r *PostgresFriendshipRepository) SendFriendRequest(ctx context.Context, req *models.FriendRequest) error {
	var existing models.FriendRequest
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			req.SenderID, req.ReceiverID, req.ReceiverID, req.SenderID).
		Where("status IN ?", []string{models.FriendRequestPending, models.FriendRequestAccepted}).
		First(&existing).Error

	switch {
	case err == nil && existing.Status == models.FriendRequestPending:
		return ErrFriendRequestPending
	case err == nil:
		return ErrAlreadyFriends
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	req.Status = models.FriendRequestPending
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *PostgresFriendshipRepository) GetFriendRequestByID(ctx context.Context, id uint) (*models.FriendRequest, error) {
	var req models.FriendRequest
	if err := r.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *PostgresFriendshipRepository) GetUserPendingFriendRequests(ctx context.Context, userID uint) ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	err := r.db.WithContext(ctx).
		Where("receiver_id = ? AND status = ?", userID, models.FriendRequestPending).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *PostgresFriendshipRepository) UpdateFriendRequestStatus(ctx context.Context, id uint, status string) error {
	return r.db.WithContext(ctx).Model(&models.FriendRequest{}).Where("id = ?", id).Update("status", status).Error
}
