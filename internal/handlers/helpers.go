package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/middleware"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/services"
	"github.com/labstack/echo/v4"
)

// EventEmitter hands notification events to the pipeline without blocking the request
type EventEmitter interface {
	Emit(event events.NotificationEvent) error
}

// UserLookup resolves user ids to accounts for actor names and enrichment
type UserLookup interface {
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
}

func getUserIDFromContext(c echo.Context) uint {
	return middleware.UserIDFromContext(c)
}

// actorFor loads the display name of userID. A failed lookup yields an anonymous actor.
func actorFor(ctx context.Context, users UserLookup, userID uint) events.Actor {
	actor := events.Actor{ID: userID}
	if user, err := users.GetUserByID(ctx, userID); err == nil {
		actor.Name = user.Name
	}
	return actor
}

// serviceError maps notification service errors to HTTP errors
func serviceError(err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Notification not found")
	case errors.Is(err, services.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
	case errors.Is(err, services.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
