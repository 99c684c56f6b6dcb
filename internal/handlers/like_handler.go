package handlers

import (
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/repositories"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// LikeHandler handles HTTP requests related to likes
type LikeHandler struct {
	likeRepository repositories.LikeRepository
	postRepository repositories.PostRepository
	userRepository UserLookup
	emitter        EventEmitter
	logger         *zap.Logger
}

// NewLikeHandler creates a new LikeHandler
func NewLikeHandler(likeRepo repositories.LikeRepository, postRepo repositories.PostRepository, userRepo UserLookup, emitter EventEmitter, logger *zap.Logger) *LikeHandler {
	return &LikeHandler{
		likeRepository: likeRepo,
		postRepository: postRepo,
		userRepository: userRepo,
		emitter:        emitter,
		logger:         logger,
	}
}

// RegisterLikeRoutes registers like-related routes
func (h *LikeHandler) RegisterLikeRoutes(g *echo.Group) {
	g.POST("/posts/:post_id/likes", h.LikePost)
	g.DELETE("/posts/:post_id/likes", h.UnlikePost)
	g.GET("/posts/:post_id/likes/count", h.GetLikesCountForPost)
	g.GET("/posts/:post_id/likes/status", h.GetUserLikeStatusForPost)
}

// LikePost likes a post and notifies its owner
func (h *LikeHandler) LikePost(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	ctx := c.Request().Context()
	postID := c.Param("post_id")

	post, err := h.postRepository.GetPostByID(ctx, postID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Post not found")
	}

	hasLiked, err := h.likeRepository.HasUserLikedPost(ctx, postID, currentUserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hasLiked {
		return echo.NewHTTPError(http.StatusConflict, "Post already liked by this user")
	}

	like := &models.Like{
		PostID: postID,
		UserID: currentUserID,
	}
	if err := h.likeRepository.CreateLike(ctx, like); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := h.postRepository.IncrementLikesCount(ctx, postID, 1); err != nil {
		h.logger.Warn("failed to increment likes count", zap.String("post_id", postID), zap.Error(err))
	}

	if post.UserID != currentUserID {
		actor := actorFor(ctx, h.userRepository, currentUserID)
		_ = h.emitter.Emit(events.PostLiked(actor, post.UserID, postID, post.Content))
	}

	return c.JSON(http.StatusCreated, like)
}

// UnlikePost removes the caller's like
func (h *LikeHandler) UnlikePost(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	ctx := c.Request().Context()
	postID := c.Param("post_id")

	if _, err := h.postRepository.GetPostByID(ctx, postID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Post not found")
	}

	if err := h.likeRepository.DeleteLike(ctx, postID, currentUserID); err != nil {
		if errors.Is(err, repositories.ErrLikeNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Like not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if err := h.postRepository.IncrementLikesCount(ctx, postID, -1); err != nil {
		h.logger.Warn("failed to decrement likes count", zap.String("post_id", postID), zap.Error(err))
	}

	return c.NoContent(http.StatusNoContent)
}

// GetLikesCountForPost retrieves the total number of likes for a specific post
func (h *LikeHandler) GetLikesCountForPost(c echo.Context) error {
	ctx := c.Request().Context()
	postID := c.Param("post_id")

	if _, err := h.postRepository.GetPostByID(ctx, postID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Post not found")
	}

	count, err := h.likeRepository.GetLikesCountByPostID(ctx, postID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{"post_id": postID, "likes_count": count})
}

// GetUserLikeStatusForPost reports whether the caller liked the post
func (h *LikeHandler) GetUserLikeStatusForPost(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	postID := c.Param("post_id")

	liked, err := h.likeRepository.HasUserLikedPost(c.Request().Context(), postID, currentUserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, echo.Map{"post_id": postID, "liked": liked})
}
