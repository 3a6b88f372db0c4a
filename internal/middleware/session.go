package middleware

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	SessionCookieName  = "smartfolio.sid"
	SessionRedisPrefix = "session:"
)

// SessionUser is the shape the identity service stores in the session under "user".
type SessionUser struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Session loads the session written by the identity service from Redis and exposes its user in
// Locals. Sessions are read-only here; login and logout live elsewhere. A nil client disables
// sessions and every request is anonymous.
func Session(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(userLocal, nil)
		if rdb == nil {
			return c.Next()
		}
		sessionID := c.Cookies(SessionCookieName)
		// connect-style cookies are "s:id.signature"
		if strings.HasPrefix(sessionID, "s:") {
			sessionID = strings.SplitN(sessionID[2:], ".", 2)[0]
		}
		if sessionID == "" {
			return c.Next()
		}

		b, err := rdb.Get(c.UserContext(), SessionRedisPrefix+sessionID).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Warn().Err(err).Str("trace_id", GetTraceID(c)).Msg("session lookup failed")
			}
			return c.Next()
		}
		var data struct {
			User *SessionUser `json:"user"`
		}
		if err := json.Unmarshal(b, &data); err != nil {
			log.Warn().Err(err).Str("trace_id", GetTraceID(c)).Msg("session payload unreadable")
			return c.Next()
		}
		if data.User != nil && data.User.UserID != "" {
			c.Locals(userLocal, *data.User)
		}
		return c.Next()
	}
}
