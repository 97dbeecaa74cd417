package handler

import (
	"context"
	"errors"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/api"
	"github.com/noah-isme/jobby-messaging/internal/middleware"
	"github.com/noah-isme/jobby-messaging/internal/realtime"
	"github.com/noah-isme/jobby-messaging/internal/service"
)

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

// statusForError maps session and backend failures onto bridge status codes.
func statusForError(err error) int {
	var statusErr *api.StatusError
	var urlErr *url.Error

	switch {
	case err == nil:
		return fiber.StatusOK
	case isValidationError(err),
		errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrNoActiveConversation):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrNotSignedIn):
		return fiber.StatusUnauthorized
	case errors.Is(err, api.ErrUnavailable), errors.Is(err, realtime.ErrNotConnected), errors.Is(err, realtime.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.As(err, &statusErr):
		if statusErr.Code >= fiber.StatusBadRequest && statusErr.Code < fiber.StatusInternalServerError {
			return statusErr.Code
		}
		return fiber.StatusBadGateway
	case errors.As(err, &urlErr), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
