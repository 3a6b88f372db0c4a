package middleware

import (
	"smartfolio-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const userLocal = "user"

// RequireAuth ensures a user is in the session. Returns 401 with standard error format if not.
func RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if CurrentUserID(c) == "" {
			return response.Unauthorized(c, "Unauthorized")
		}
		return c.Next()
	}
}

// GetUser returns the session user from Locals (nil if not logged in).
func GetUser(c *fiber.Ctx) interface{} {
	return c.Locals(userLocal)
}

// CurrentUserID returns the caller's user id, or "" for anonymous requests. Token-only routes
// call it too since a signed-in viewer gets bound to the token.
func CurrentUserID(c *fiber.Ctx) string {
	switch u := c.Locals(userLocal).(type) {
	case map[string]interface{}:
		id, _ := u["user_id"].(string)
		return id
	case SessionUser:
		return u.UserID
	case *SessionUser:
		if u != nil {
			return u.UserID
		}
	}
	return ""
}
