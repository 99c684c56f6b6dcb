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

// FriendshipHandler handles HTTP requests related to friendships
type FriendshipHandler struct {
	friendshipRepository repositories.FriendshipRepository
	userRepository       UserLookup
	emitter              EventEmitter
}

// NewFriendshipHandler creates a new FriendshipHandler
func NewFriendshipHandler(friendshipRepo repositories.FriendshipRepository, userRepo UserLookup, emitter EventEmitter) *FriendshipHandler {
	return &FriendshipHandler{
		friendshipRepository: friendshipRepo,
		userRepository:       userRepo,
		emitter:              emitter,
	}
}

// RegisterFriendshipRoutes registers friendship-related routes
func (h *FriendshipHandler) RegisterFriendshipRoutes(g *echo.Group) {
	g.POST("/friends/request", h.SendFriendRequest)
	g.GET("/friends/requests/pending", h.GetPendingFriendRequests)
	g.PUT("/friends/request/:id/status", h.UpdateFriendRequestStatus)
}

// SendFriendRequest creates a pending request and notifies the receiver
func (h *FriendshipHandler) SendFriendRequest(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	ctx := c.Request().Context()

	var req models.CreateFriendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if currentUserID == req.ReceiverID {
		return echo.NewHTTPError(http.StatusBadRequest, "Cannot send a friend request to yourself")
	}

	if _, err := h.userRepository.GetUserByID(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Receiver user not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	friendRequest := &models.FriendRequest{
		SenderID:   currentUserID,
		ReceiverID: req.ReceiverID,
		Status:     models.FriendRequestPending,
	}
	if err := h.friendshipRepository.SendFriendRequest(ctx, friendRequest); err != nil {
		if errors.Is(err, repositories.ErrFriendRequestPending) || errors.Is(err, repositories.ErrAlreadyFriends) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	actor := actorFor(ctx, h.userRepository, currentUserID)
	_ = h.emitter.Emit(events.FriendRequested(actor, req.ReceiverID, friendRequest.ID))

	return c.JSON(http.StatusCreated, friendRequest)
}

// GetPendingFriendRequests retrieves pending friend requests for the authenticated user
func (h *FriendshipHandler) GetPendingFriendRequests(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}

	requests, err := h.friendshipRepository.GetUserPendingFriendRequests(c.Request().Context(), currentUserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, requests)
}

// UpdateFriendRequestStatus accepts or rejects a request addressed to the caller.
// Accepting notifies the sender.
func (h *FriendshipHandler) UpdateFriendRequestStatus(c echo.Context) error {
	currentUserID := getUserIDFromContext(c)
	if currentUserID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	ctx := c.Request().Context()

	requestID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request ID")
	}

	var req models.UpdateFriendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	friendRequest, err := h.friendshipRepository.GetFriendRequestByID(ctx, uint(requestID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Friend request not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if friendRequest.ReceiverID != currentUserID {
		return echo.NewHTTPError(http.StatusForbidden, "You are not authorized to modify this friend request")
	}
	if friendRequest.Status != models.FriendRequestPending {
		return echo.NewHTTPError(http.StatusConflict, "Friend request already answered")
	}

	if err := h.friendshipRepository.UpdateFriendRequestStatus(ctx, friendRequest.ID, req.Status); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	friendRequest.Status = req.Status

	if req.Status == models.FriendRequestAccepted {
		actor := actorFor(ctx, h.userRepository, currentUserID)
		_ = h.emitter.Emit(events.FriendRequestAccepted(actor, friendRequest.SenderID, friendRequest.ID))
	}

	return c.JSON(http.StatusOK, friendRequest)
}
