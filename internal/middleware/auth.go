package middleware

import (
	"net/http"

	"github.com/anonto42/nano-midea/notifier/internal/auth"
	"github.com/labstack/echo/v4"
)

// UserIDKey is the echo context key holding the authenticated user id
const UserIDKey = "userID"

// AuthMiddleware requires a bearer credential accepted by verifier (local JWT or
// Firebase ID token) and stores the resolved user id in the context.
func AuthMiddleware(verifier auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing Authorization header")
			}

			token, ok := auth.BearerToken(authHeader)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid Authorization header format")
			}

			userID, err := verifier.Verify(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(UserIDKey, userID)
			return next(c)
		}
	}
}

// UserIDFromContext returns the authenticated user id, or 0 when none is set
func UserIDFromContext(c echo.Context) uint {
	id, _ := c.Get(UserIDKey).(uint)
	return id
}

// RequireAdmin lets through only the listed user ids. It must run after AuthMiddleware.
func RequireAdmin(adminIDs []uint) echo.MiddlewareFunc {
	allowed := make(map[uint]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		allowed[id] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := allowed[UserIDFromContext(c)]; !ok {
				return echo.NewHTTPError(http.StatusForbidden, "Admin access required")
			}
			return next(c)
		}
	}
}
