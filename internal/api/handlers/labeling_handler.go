package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/labeling"
	"github.com/ticket-classifier/backend/internal/pipeline"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

type LabelingService interface {
	Label(ctx context.Context, tickets []models.Ticket) (*labeling.Outcome, error)
}

type LabelingHandler struct {
	service LabelingService
}

func NewLabelingHandler(service LabelingService) *LabelingHandler {
	return &LabelingHandler{
		service: service,
	}
}

// Label sends a batch to the external labeler and stores the results as
// training data.
func (h *LabelingHandler) Label(c *fiber.Ctx) error {
	log := requestLogger(c)
	log.Info("Request to label tickets with LLM model received")

	tickets, err := pipeline.ParseBatch(c.Body())
	if err != nil {
		log.Warn("Invalid labeling batch", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message":            errorMessage(err, "No tickets found for classification"),
			"classified_tickets": []models.ClassificationRecord{},
		})
	}

	outcome, err := h.service.Label(c.Context(), tickets)
	if err != nil {
		log.Error("Ticket labeling failed", zap.Error(err))
		resp := fiber.Map{
			"message":            "Ticket classification by LLM Model failed",
			"classified_tickets": []models.ClassificationRecord{},
		}
		if outcome != nil {
			resp["failed_clusters"] = outcome.Failed
		}
		return c.Status(apperrors.HTTPStatusCode(err)).JSON(resp)
	}

	log.Info("Tickets labeled",
		zap.Int("labeled", len(outcome.Labeled)),
		zap.Int("failed_clusters", len(outcome.Failed)),
	)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":            "Ticket classified with LLM Model",
		"classified_tickets": outcome.Labeled,
		"failed_clusters":    outcome.Failed,
	})
}
