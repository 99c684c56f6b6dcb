package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommentHandler handles HTTP requests related to comments
type CommentHandler struct {
	commentRepository repositories.CommentRepository
	postRepository    repositories.PostRepository
	userRepository    UserLookup
	emitter           EventEmitter
	logger            *zap.Logger
}

// NewCommentHandler creates a new CommentHandler
func NewCommentHandler(commentRepo repositories.CommentRepository, postRepo repositories.PostRepository, userRepo UserLookup, emitter EventEmitter, logger *zap.Logger) *CommentHandler {
	return &CommentHandler{
		commentRepository: commentRepo,
		postRepository:    postRepo,
		userRepository:    userRepo,
		emitter:           emitter,
		logger:            logger,
	}
}

// RegisterCommentRoutes registers comment-related routes
func (h *CommentHandler) RegisterCommentRoutes(g *echo.Group) {
	g.POST("/posts/:post_id/comments", h.CreateComment)
	g.GET("/posts/:post_id/comments", h.GetCommentsByPostID)
}

// CreateComment adds a comment or a reply. The post owner gets POST_COMMENT and,
// for replies, the parent comment's author gets COMMENT_REPLY.
func (h *CommentHandler) CreateComment(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	ctx := c.Request().Context()
	postID := c.Param("post_id")

	var req models.CreateCommentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	post, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Post not found")
	}

	var parent *models.Comment
	if req.ParentID != nil {
		parent, err = h.commentRepository.GetCommentByID(ctx, *req.ParentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "Parent comment not found")
			}
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if parent.PostID != postID {
			return echo.NewHTTPError(http.StatusBadRequest, "Parent comment belongs to another post")
		}
	}

	comment := &models.Comment{
		PostID:   postID,
		UserID:   currentUserID,
		ParentID: req.ParentID,
		Content:  req.Content,
	}
	if err := h.commentRepository.CreateComment(ctx, comment); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := h.postRepository.IncrementCommentsCount(ctx, postID, 1); err != nil {
		h.logger.Warn("failed to increment comments count", zap.String("post_id", postID), zap.Error(err))
	}

	actor := actorFor(ctx, h.userRepository, currentUserID)
	if post.UserID != currentUserID {
		_ = h.emitter.Emit(events.PostCommented(actor, post.UserID, postID, comment.ID, comment.Content))
	}
	// the post owner already heard about this comment
	if parent != nil && parent.UserID != currentUserID && parent.UserID != post.UserID {
		_ = h.emitter.Emit(events.CommentReplied(actor, parent.UserID, postID, comment.ID, comment.Content))
	}

	return c.JSON(http.StatusCreated, comment)
}

// GetCommentsByPostID retrieves all comments for a specific post
func (h *CommentHandler) GetCommentsByPostID(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("post_id")

	if _, err := h.postRepository.GetPostByID(ctx, postID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Post not found")
	}

	comments, err := h.commentRepository.GetCommentsByPostID(ctx, postID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, comments)
}
