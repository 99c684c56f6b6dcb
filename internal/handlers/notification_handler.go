package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/anonto42/nano-midea/notifier/internal/middleware"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/services"
	"github.com/labstack/echo/v4"
)

// NotificationAPI is the notification service surface served over REST
type NotificationAPI interface {
	FindAll(ctx context.Context, userID uint, q services.ListQuery) (*services.NotificationPage, error)
	FindOne(ctx context.Context, id string, userID uint) (*models.Notification, error)
	FindByType(ctx context.Context, userID uint, t models.NotificationType, page, limit int) (*services.NotificationPage, error)
	Update(ctx context.Context, id string, userID uint, in services.UpdateInput) (*models.Notification, error)
	MarkAsRead(ctx context.Context, id string, userID uint) (*models.Notification, error)
	MarkAllAsRead(ctx context.Context, userID uint) (int64, error)
	Archive(ctx context.Context, id string, userID uint) (*models.Notification, error)
	Remove(ctx context.Context, id string, userID uint) error
	GetUnreadCount(ctx context.Context, userID uint) (int64, error)
	GetNotificationStats(ctx context.Context, userID uint) (*models.NotificationStats, error)
	GetGroupedNotifications(ctx context.Context, userID uint, page, limit int) (*services.NotificationPage, error)
	UngroupNotification(ctx context.Context, id string, userID uint) (*models.Notification, error)
	GetGroupingStats(ctx context.Context, userID uint) (*models.GroupingStats, error)
	GetTimeline(ctx context.Context, userID uint) (*services.Timeline, error)
}

// OnlineLister lists users with a live real-time connection
type OnlineLister interface {
	ListOnline(ctx context.Context) ([]uint, error)
}

// NotificationHandler handles notification-related HTTP requests
type NotificationHandler struct {
	service        NotificationAPI
	userRepository UserLookup
	presence       OnlineLister
	adminIDs       []uint
}

// NewNotificationHandler creates a new NotificationHandler. adminIDs may use the
// online-users endpoint; nobody else can.
func NewNotificationHandler(service NotificationAPI, userRepo UserLookup, presence OnlineLister, adminIDs []uint) *NotificationHandler {
	return &NotificationHandler{
		service:        service,
		userRepository: userRepo,
		presence:       presence,
		adminIDs:       adminIDs,
	}
}

// RegisterNotificationRoutes registers notification routes
func (h *NotificationHandler) RegisterNotificationRoutes(g *echo.Group) {
	g.GET("/notifications", h.GetNotifications)
	g.GET("/notifications/timeline", h.GetTimeline)
	g.GET("/notifications/unread-count", h.GetUnreadCount)
	g.GET("/notifications/stats", h.GetStats)
	g.GET("/notifications/grouped", h.GetGroupedNotifications)
	g.GET("/notifications/grouping-stats", h.GetGroupingStats)
	g.GET("/notifications/type/:type", h.GetByType)
	g.GET("/notifications/online", h.GetOnlineUsers, middleware.RequireAdmin(h.adminIDs))
	g.PUT("/notifications/read-all", h.MarkAllAsRead)
	g.GET("/notifications/:id", h.GetNotification)
	g.PATCH("/notifications/:id", h.UpdateNotification)
	g.PUT("/notifications/:id/read", h.MarkAsRead)
	g.PUT("/notifications/:id/archive", h.Archive)
	g.POST("/notifications/:id/ungroup", h.Ungroup)
	g.DELETE("/notifications/:id", h.Remove)
}

// EnrichedNotification includes actor info
type EnrichedNotification struct {
	models.Notification
	Actor *models.UserCompact `json:"actor,omitempty"`
}

func (h *NotificationHandler) enrichNotifications(ctx context.Context, notifications []models.Notification) []EnrichedNotification {
	enriched := make([]EnrichedNotification, len(notifications))
	userCache := make(map[uint]*models.UserCompact)

	for i, n := range notifications {
		enriched[i] = EnrichedNotification{Notification: n}
		if n.ActorID == nil {
			continue
		}
		if actor, ok := userCache[*n.ActorID]; ok {
			enriched[i].Actor = actor
			continue
		}
		var compact *models.UserCompact
		if user, err := h.userRepository.GetUserByID(ctx, *n.ActorID); err == nil {
			c := user.ToCompact()
			compact = &c
		}
		userCache[*n.ActorID] = compact
		enriched[i].Actor = compact
	}
	return enriched
}

func (h *NotificationHandler) pageResponse(c echo.Context, page *services.NotificationPage) error {
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"data": echo.Map{
			"notifications": h.enrichNotifications(c.Request().Context(), page.Notifications),
		},
		"meta": echo.Map{
			"currentPage":     page.Page,
			"totalPages":      page.TotalPages,
			"totalItems":      page.Total,
			"itemsPerPage":    page.Limit,
			"hasNextPage":     page.Page < page.TotalPages,
			"hasPreviousPage": page.Page > 1,
		},
	})
}

func pagingParams(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return page, limit
}

func ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, echo.Map{"success": true, "data": data})
}

// GetNotifications returns paginated notifications, optionally filtered by status and type
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	page, limit := pagingParams(c)
	result, err := h.service.FindAll(c.Request().Context(), getUserIDFromContext(c), services.ListQuery{
		Status: models.NotificationStatus(c.QueryParam("status")),
		Type:   models.NotificationType(c.QueryParam("type")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return serviceError(err)
	}
	return h.pageResponse(c, result)
}

// GetTimeline returns notifications grouped by time period
func (h *NotificationHandler) GetTimeline(c echo.Context) error {
	ctx := c.Request().Context()
	userID := getUserIDFromContext(c)

	timeline, err := h.service.GetTimeline(ctx, userID)
	if err != nil {
		return serviceError(err)
	}
	unreadCount, err := h.service.GetUnreadCount(ctx, userID)
	if err != nil {
		return serviceError(err)
	}

	return ok(c, echo.Map{
		"notifications": echo.Map{
			"today":     h.enrichNotifications(ctx, timeline.Today),
			"yesterday": h.enrichNotifications(ctx, timeline.Yesterday),
			"thisWeek":  h.enrichNotifications(ctx, timeline.ThisWeek),
			"older":     h.enrichNotifications(ctx, timeline.Older),
		},
		"unreadCount": unreadCount,
	})
}

// GetUnreadCount returns the unread notification count
func (h *NotificationHandler) GetUnreadCount(c echo.Context) error {
	count, err := h.service.GetUnreadCount(c.Request().Context(), getUserIDFromContext(c))
	if err != nil {
		return serviceError(err)
	}
	return ok(c, echo.Map{"count": count})
}

func (h *NotificationHandler) GetStats(c echo.Context) error {
	stats, err := h.service.GetNotificationStats(c.Request().Context(), getUserIDFromContext(c))
	if err != nil {
		return serviceError(err)
	}
	return ok(c, stats)
}

// GetGroupedNotifications returns notifications that merged more than one event
func (h *NotificationHandler) GetGroupedNotifications(c echo.Context) error {
	page, limit := pagingParams(c)
	result, err := h.service.GetGroupedNotifications(c.Request().Context(), getUserIDFromContext(c), page, limit)
	if err != nil {
		return serviceError(err)
	}
	return h.pageResponse(c, result)
}

func (h *NotificationHandler) GetGroupingStats(c echo.Context) error {
	stats, err := h.service.GetGroupingStats(c.Request().Context(), getUserIDFromContext(c))
	if err != nil {
		return serviceError(err)
	}
	return ok(c, stats)
}

func (h *NotificationHandler) GetByType(c echo.Context) error {
	page, limit := pagingParams(c)
	t := models.NotificationType(c.Param("type"))
	result, err := h.service.FindByType(c.Request().Context(), getUserIDFromContext(c), t, page, limit)
	if err != nil {
		return serviceError(err)
	}
	return h.pageResponse(c, result)
}

// GetOnlineUsers lists users with a live connection. Admins only.
func (h *NotificationHandler) GetOnlineUsers(c echo.Context) error {
	if getUserIDFromContext(c) == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	}
	users, err := h.presence.ListOnline(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if users == nil {
		users = []uint{}
	}
	return ok(c, echo.Map{"users": users, "count": len(users)})
}

func (h *NotificationHandler) GetNotification(c echo.Context) error {
	ctx := c.Request().Context()
	n, err := h.service.FindOne(ctx, c.Param("id"), getUserIDFromContext(c))
	if err != nil {
		return serviceError(err)
	}
	return ok(c, h.enrichNotifications(ctx, []models.Notification{*n})[0])
}

// UpdateNotificationRequest is the body of PATCH /notifications/:id
type UpdateNotificationRequest struct {
	Title    *string                      `json:"title" validate:"omitempty,min=1,max=255"`
	Message  *string                      `json:"message" validate:"omitempty,min=1"`
	Priority *models.NotificationPriority `json:"priority" validate:"omitempty,oneof=NORMAL HIGH URGENT"`
	Metadata map[string]any               `json:"metadata"`
}

func (h *NotificationHandler) UpdateNotification(c echo.Context) error {
	var req UpdateNotificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	n, err := h.service.Update(c.Request().Context(), c.Param("id"), getUserIDFromContext(c), services.UpdateInput{
		Title:    req.Title,
		Message:  req.Message,
		Priority: req.Priority,
		Metadata: req.Metadata,
	})
	if err != nil {
		return serviceError(err)
	}
	return ok(c, n)
}

// MarkAsRead marks a notification as read
func (h *NotificationHandler) MarkAsRead(c echo.Context) error {
	n, err := h.service.MarkAsRead(c.Request().Context(), c.Param("id"), getUserIDFromContext(c))
	if err != nil {
		return serviceError(err)
	}
	return ok(c, n)
}

// MarkAllAsRead marks all notifications as read
func (h *NotificationHandler) MarkAllAsRead(c echo.Context) error {
	updated, err := h.service.MarkAllAsRead(c.Request().Context(), getUserIDFromContext(c))
	if err != nil {
		return serviceError(err)
	}
	return ok(c, echo.Map{"updated": updated})
}

func (h *NotificationHandler) Archive(c echo.Context) error {
	n, err := h.service.Archive(c.Request().Context(), c.Param("id"), getUserIDFromContext(c))
	if err != nil {
		return serviceError(err)
	}
	return ok(c, n)
}

func (h *NotificationHandler) Ungroup(c echo.Context) error {
	n, err := h.service.UngroupNotification(c.Request().Context(), c.Param("id"), getUserIDFromContext(c))
	if err != nil {
		return serviceError(err)
	}
	return ok(c, n)
}

// Remove soft-deletes a notification
func (h *NotificationHandler) Remove(c echo.Context) error {
	if err := h.service.Remove(c.Request().Context(), c.Param("id"), getUserIDFromContext(c)); err != nil {
		return serviceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
