package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// ErrorDetail is the machine readable part of an error response.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// WriteError renders an error envelope with the given status.
func WriteError(c *fiber.Ctx, status int, kind, message string) error {
	return c.Status(status).JSON(ErrorBody{Error: ErrorDetail{Kind: kind, Message: message}})
}

// ErrorHandler renders errors escaping the handlers as JSON envelopes. Messages of
// unexpected errors are not exposed to the client.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		message := "internal error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
			if status < fiber.StatusInternalServerError || status == fiber.StatusServiceUnavailable {
				message = fe.Message
			}
		}
		if status == fiber.StatusInternalServerError {
			logger.Error("unhandled request error",
				slog.String("path", c.Path()),
				slog.String("request_id", RequestIDFrom(c)),
				slog.Any("error", err),
			)
		}
		return WriteError(c, status, kindForStatus(status), message)
	}
}

func kindForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "invalid_input"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	case fiber.StatusConflict:
		return "conflict"
	case fiber.StatusUnprocessableEntity:
		return "unprocessable"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	case fiber.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status < fiber.StatusInternalServerError {
			return "client_error"
		}
		return "internal"
	}
}
