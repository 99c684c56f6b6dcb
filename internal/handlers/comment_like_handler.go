package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/repositories"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// CommentLikeHandler handles likes on comments
type CommentLikeHandler struct {
	commentLikeRepository repositories.CommentLikeRepository
	commentRepository     repositories.CommentRepository
	userRepository        UserLookup
	emitter               EventEmitter
}

// NewCommentLikeHandler creates a new CommentLikeHandler
func NewCommentLikeHandler(commentLikeRepo repositories.CommentLikeRepository, commentRepo repositories.CommentRepository, userRepo UserLookup, emitter EventEmitter) *CommentLikeHandler {
	return &CommentLikeHandler{
		commentLikeRepository: commentLikeRepo,
		commentRepository:     commentRepo,
		userRepository:        userRepo,
		emitter:               emitter,
	}
}

// RegisterCommentLikeRoutes registers comment like routes
func (h *CommentLikeHandler) RegisterCommentLikeRoutes(g *echo.Group) {
	g.POST("/comments/:comment_id/likes", h.LikeComment)
	g.DELETE("/comments/:comment_id/likes", h.UnlikeComment)
	g.GET("/comments/:comment_id/likes/count", h.GetLikesCount)
}

func (h *CommentLikeHandler) loadComment(c echo.Context) (*models.Comment, error) {
	id, err := strconv.ParseUint(c.Param("comment_id"), 10, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "Invalid comment ID")
	}
	comment, err := h.commentRepository.GetCommentByID(c.Request().Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "Comment not found")
		}
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return comment, nil
}

// LikeComment likes a comment and notifies its author
func (h *CommentLikeHandler) LikeComment(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	ctx := c.Request().Context()

	comment, err := h.loadComment(c)
	if err != nil {
		return err
	}

	liked, err := h.commentLikeRepository.HasUserLikedComment(ctx, comment.ID, currentUserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if liked {
		return echo.NewHTTPError(http.StatusConflict, "Comment already liked by this user")
	}

	like := &models.CommentLike{CommentID: comment.ID, UserID: currentUserID}
	if err := h.commentLikeRepository.CreateCommentLike(ctx, like); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if comment.UserID != currentUserID {
		actor := actorFor(ctx, h.userRepository, currentUserID)
		_ = h.emitter.Emit(events.CommentLiked(actor, comment.UserID, comment.ID, like.ID, comment.Content))
	}

	return c.JSON(http.StatusCreated, like)
}

func (h *CommentLikeHandler) UnlikeComment(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	comment, err := h.loadComment(c)
	if err != nil {
		return err
	}

	if err := h.commentLikeRepository.DeleteCommentLike(c.Request().Context(), comment.ID, currentUserID); err != nil {
		if errors.Is(err, repositories.ErrCommentLikeNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Like not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *CommentLikeHandler) GetLikesCount(c echo.Context) error {
	comment, err := h.loadComment(c)
	if err != nil {
		return err
	}
	count, err := h.commentLikeRepository.GetLikesCount(c.Request().Context(), comment.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"comment_id": comment.ID, "likes_count": count})
}
