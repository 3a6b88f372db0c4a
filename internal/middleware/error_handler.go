package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"smartfolio-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const errorLogSize = 50

// NewErrorHandler returns the global error handler. It renders the standard error envelope and,
// for 5xx errors, appends an entry to the Redis error log served by /health/errors.
func NewErrorHandler(rdb *redis.Client) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		if code >= fiber.StatusInternalServerError {
			log.Error().Err(err).Str("trace_id", GetTraceID(c)).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
			if rdb != nil {
				pushErrorLog(rdb, map[string]interface{}{
					"time":     time.Now().UTC(),
					"path":     c.Path(),
					"method":   c.Method(),
					"message":  err.Error(),
					"trace_id": GetTraceID(c),
				})
			}
		}
		return response.Error(c, message, code, nil)
	}
}

// pushErrorLog keeps the newest errorLogSize entries.
func pushErrorLog(rdb *redis.Client, entry map[string]interface{}) {
	b, err := json.Marshal(entry)
	if err != nil {
		return
	}
	ctx := context.Background()
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, KeyErrorLog, b)
	pipe.LTrim(ctx, KeyErrorLog, 0, errorLogSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("error log push failed")
	}
}
