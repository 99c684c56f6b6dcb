package handlers

import (
	"context"
	"sync"

	"github.com/anonto42/nano-midea/notifier/internal/auth"
	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gorm.io/gorm"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.NotificationEvent
}

func (e *recordingEmitter) Emit(ev events.NotificationEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

func (e *recordingEmitter) emitted() []events.NotificationEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]events.NotificationEvent(nil), e.events...)
}

type userTable map[uint]string

func (u userTable) GetUserByID(_ context.Context, id uint) (*models.User, error) {
	name, ok := u[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.User{Model: gorm.Model{ID: id}, Name: name}, nil
}

type postTable map[string]*models.Post

func (p postTable) CreatePost(_ context.Context, post *models.Post) error {
	post.ID = primitive.NewObjectID()
	p[post.ID.Hex()] = post
	return nil
}

func (p postTable) GetPostByID(_ context.Context, id string) (*models.Post, error) {
	post, ok := p[id]
	if !ok {
		return nil, repositories.ErrPostNotFound
	}
	return post, nil
}

func (p postTable) IncrementLikesCount(_ context.Context, id string, delta int) error {
	p[id].LikesCount += delta
	return nil
}

func (p postTable) IncrementCommentsCount(_ context.Context, id string, delta int) error {
	p[id].CommentsCount += delta
	return nil
}

type likeKey struct {
	post string
	user uint
}

type likeSet map[likeKey]bool

func (l likeSet) CreateLike(_ context.Context, like *models.Like) error {
	l[likeKey{like.PostID, like.UserID}] = true
	return nil
}

func (l likeSet) DeleteLike(_ context.Context, postID string, userID uint) error {
	k := likeKey{postID, userID}
	if !l[k] {
		return repositories.ErrLikeNotFound
	}
	delete(l, k)
	return nil
}

func (l likeSet) HasUserLikedPost(_ context.Context, postID string, userID uint) (bool, error) {
	return l[likeKey{postID, userID}], nil
}

func (l likeSet) GetLikesCountByPostID(_ context.Context, postID string) (int64, error) {
	var n int64
	for k := range l {
		if k.post == postID {
			n++
		}
	}
	return n, nil
}

type followSet map[[2]uint]bool

func (f followSet) CreateFollow(_ context.Context, follow *models.Follow) error {
	f[[2]uint{follow.FollowerID, follow.FollowingID}] = true
	return nil
}

func (f followSet) DeleteFollow(_ context.Context, followerID, followingID uint) error {
	k := [2]uint{followerID, followingID}
	if !f[k] {
		return repositories.ErrFollowNotFound
	}
	delete(f, k)
	return nil
}

func (f followSet) IsFollowing(_ context.Context, followerID, followingID uint) (bool, error) {
	return f[[2]uint{followerID, followingID}], nil
}

// tokenTable accepts a fixed set of bearer tokens
type tokenTable map[string]uint

func (t tokenTable) Verify(_ context.Context, token string) (uint, error) {
	if id, ok := t[token]; ok {
		return id, nil
	}
	return 0, auth.ErrInvalidCredential
}

type commentStore struct {
	rows []models.Comment
}

func (s *commentStore) add(c models.Comment) models.Comment {
	c.ID = uint(len(s.rows) + 1)
	s.rows = append(s.rows, c)
	return c
}

func (s *commentStore) CreateComment(_ context.Context, c *models.Comment) error {
	*c = s.add(*c)
	return nil
}

func (s *commentStore) GetCommentByID(_ context.Context, id uint) (*models.Comment, error) {
	for i := range s.rows {
		if s.rows[i].ID == id {
			return &s.rows[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *commentStore) GetCommentsByPostID(_ context.Context, postID string) ([]models.Comment, error) {
	var out []models.Comment
	for _, c := range s.rows {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	return out, nil
}

type commentLikeSet map[[2]uint]uint

func (s commentLikeSet) CreateCommentLike(_ context.Context, like *models.CommentLike) error {
	like.ID = uint(len(s) + 1)
	s[[2]uint{like.CommentID, like.UserID}] = like.ID
	return nil
}

func (s commentLikeSet) DeleteCommentLike(_ context.Context, commentID, userID uint) error {
	k := [2]uint{commentID, userID}
	if _, ok := s[k]; !ok {
		return repositories.ErrCommentLikeNotFound
	}
	delete(s, k)
	return nil
}

func (s commentLikeSet) HasUserLikedComment(_ context.Context, commentID, userID uint) (bool, error) {
	_, ok := s[[2]uint{commentID, userID}]
	return ok, nil
}

func (s commentLikeSet) GetLikesCount(_ context.Context, commentID uint) (int64, error) {
	var n int64
	for k := range s {
		if k[0] == commentID {
			n++
		}
	}
	return n, nil
}

type friendRequests struct {
	rows []models.FriendRequest
}

func (f *friendRequests) SendFriendRequest(_ context.Context, req *models.FriendRequest) error {
	for _, r := range f.rows {
		same := (r.SenderID == req.SenderID && r.ReceiverID == req.ReceiverID) ||
			(r.SenderID == req.ReceiverID && r.ReceiverID == req.SenderID)
		if same && r.Status == models.FriendRequestPending {
			return repositories.ErrFriendRequestPending
		}
	}
	req.ID = uint(len(f.rows) + 1)
	f.rows = append(f.rows, *req)
	return nil
}

func (f *friendRequests) GetFriendRequestByID(_ context.Context, id uint) (*models.FriendRequest, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			r := f.rows[i]
			return &r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *friendRequests) GetUserPendingFriendRequests(_ context.Context, userID uint) ([]models.FriendRequest, error) {
	var out []models.FriendRequest
	for _, r := range f.rows {
		if r.ReceiverID == userID && r.Status == models.FriendRequestPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *friendRequests) UpdateFriendRequestStatus(_ context.Context, id uint, status string) error {
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].Status = status
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}
