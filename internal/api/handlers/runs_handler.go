package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/pkg/logger"
)

type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
}

type RunsHandler struct {
	store RunStore
}

func NewRunsHandler(store RunStore) *RunsHandler {
	return &RunsHandler{store: store}
}

func (h *RunsHandler) ListRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
		})
	}

	runs, err := h.store.ListRuns(c.UserContext(), limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}
	if runs == nil {
		runs = []models.Run{}
	}

	return c.JSON(fiber.Map{
		"runs": runs,
	})
}
