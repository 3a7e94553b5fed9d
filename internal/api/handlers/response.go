package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/pkg/logger"
)

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals("requestid").(string)
	return id
}

func requestLogger(c *fiber.Ctx) *zap.Logger {
	return logger.WithRequestID(requestID(c))
}

// errorMessage prefers the client-facing message carried by an AppError.
func errorMessage(err error, fallback string) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return fallback
}
