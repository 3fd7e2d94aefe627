package middleware // middleware provides reusable HTTP middleware functions

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eventdesk/seat-reservation/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access
// token and injects the caller's identity and role claims into the
// request context.  The provided secret must match the one the auth
// service signs with.  This middleware wraps protected routes so
// handlers can read the caller via c.Get("identity") and c.Get("role").
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			id, err := utils.ParseIdentity(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			c.Set("identity", id.Subject)
			c.Set("role", id.Role)
			return next(c)
		}
	}
}
