package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"

	perrors "github.com/newmanjulien/overbase/internal/errors"
)

const problemType = "application/problem+json"

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Field    string `json:"field,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	}, problemType)
}

// classify maps a domain error onto a status code and problem type.
func classify(err error) (status int, errType, title string) {
	var fe *fiber.Error
	switch {
	case errors.Is(err, perrors.ErrValidation):
		return fiber.StatusUnprocessableEntity, "validation_failed", "Unprocessable Entity"
	case errors.Is(err, perrors.ErrNotFound):
		return fiber.StatusNotFound, "not_found", "Not Found"
	case errors.Is(err, perrors.ErrInvalidTransition):
		return fiber.StatusConflict, "invalid_transition", "Conflict"
	case errors.Is(err, perrors.ErrConflict):
		return fiber.StatusConflict, "conflict", "Conflict"
	case errors.Is(err, perrors.ErrRemoteWrite), errors.Is(err, perrors.ErrUnavailable):
		return fiber.StatusServiceUnavailable, "remote_write_failed", "Service Unavailable"
	case errors.Is(err, perrors.ErrRateLimit):
		return fiber.StatusTooManyRequests, "rate_limit_exceeded", "Too Many Requests"
	case errors.As(err, &fe):
		return fe.Code, "http_error", utils.StatusMessage(fe.Code)
	}
	return fiber.StatusInternalServerError, "internal_error", "Internal Server Error"
}

// errorHandler renders every error returned by a handler as a problem
// detail. Internal errors are logged and their text is not exposed.
func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, errType, title := classify(err)
		detail := err.Error()

		var verr *perrors.ValidationError
		field := ""
		if errors.As(err, &verr) {
			field = verr.Field
		}

		if status >= fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Int("status", status).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			if status == fiber.StatusInternalServerError {
				detail = "An internal error occurred"
			}
		}

		return c.Status(status).JSON(ProblemDetail{
			Type:     errType,
			Title:    title,
			Status:   status,
			Detail:   detail,
			Instance: c.Path(),
			Field:    field,
		}, problemType)
	}
}
