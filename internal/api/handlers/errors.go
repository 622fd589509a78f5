package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/pkg/logger"
)

// ErrorHandler renders errors returned from handlers in the same JSON shape
// the handlers use themselves.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		logger.Error("Unhandled request error", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(code).JSON(fiber.Map{
		"error": msg,
	})
}
