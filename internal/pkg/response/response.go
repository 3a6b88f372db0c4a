package response

import (
	"errors"
	"strings"

	"smartfolio-backend/internal/domain"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

// SuccessBody is the standardized success JSON shape.
type SuccessBody struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// ErrorBody is the standardized error JSON shape.
type ErrorBody struct {
	Status string      `json:"status"`
	Error  ErrorDetail `json:"error"`
}

// ErrorDetail is the nested error object.
type ErrorDetail struct {
	Message    string      `json:"message"`
	StatusCode int         `json:"statusCode"`
	Details    interface{} `json:"details,omitempty"`
}

const statusSuccess = "success"
const statusError = "error"

// Success sends a 200 OK response with the standard success format.
func Success(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	return send(c, fiber.StatusOK, message, data, metadata)
}

// SuccessCreated sends a 201 Created response with the standard success format.
func SuccessCreated(c *fiber.Ctx, message string, data interface{}, metadata interface{}) error {
	return send(c, fiber.StatusCreated, message, data, metadata)
}

func send(c *fiber.Ctx, code int, message string, data interface{}, metadata interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return c.Status(code).JSON(SuccessBody{
		Status:   statusSuccess,
		Message:  message,
		Data:     data,
		Metadata: metadata,
	})
}

// Error sends a response with the standard error format.
func Error(c *fiber.Ctx, message string, statusCode int, details interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	return c.Status(statusCode).JSON(ErrorBody{
		Status: statusError,
		Error: ErrorDetail{
			Message:    message,
			StatusCode: statusCode,
			Details:    details,
		},
	})
}

// Unauthorized sends 401 with the same shape as other errors (status "error", error.message).
// Use this for auth middleware so all errors are consistent.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, message, fiber.StatusUnauthorized, nil)
}

// FromError maps service errors onto status codes. Share failures of any kind read as a plain
// 404 so callers cannot tell revoked, expired and unknown tokens apart.
func FromError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidationFailed):
		return Error(c, validationMessage(err), fiber.StatusBadRequest, nil)
	case errors.Is(err, domain.ErrNotOwner):
		return Error(c, domain.ErrNotOwner.Error(), fiber.StatusForbidden, nil)
	case errors.Is(err, domain.ErrInvalidShare):
		return Error(c, domain.ErrInvalidShare.Error(), fiber.StatusNotFound, nil)
	case errors.Is(err, domain.ErrNotFound):
		return Error(c, "Portfolio not found", fiber.StatusNotFound, nil)
	}
	log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
	return Error(c, "Internal Server Error", fiber.StatusInternalServerError, nil)
}

// validationMessage strips the sentinel prefix so clients see only the field message.
func validationMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), domain.ErrValidationFailed.Error()+": ")
	if msg == "" {
		return domain.ErrValidationFailed.Error()
	}
	return msg
}
