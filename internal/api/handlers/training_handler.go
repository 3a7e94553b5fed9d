package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/training"
)

type Trainer interface {
	Retrain(ctx context.Context) (*training.Result, error)
}

type TrainingHandler struct {
	trainer Trainer
}

func NewTrainingHandler(trainer Trainer) *TrainingHandler {
	return &TrainingHandler{
		trainer: trainer,
	}
}

func (h *TrainingHandler) Retrain(c *fiber.Ctx) error {
	log := requestLogger(c)
	log.Info("Request to train model received")

	result, err := h.trainer.Retrain(c.Context())
	if errors.Is(err, apperrors.ErrNoTrainingData) {
		log.Info("No new training data")
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err != nil {
		log.Error("Model training failed", zap.Error(err))
		return c.Status(apperrors.HTTPStatusCode(err)).JSON(fiber.Map{
			"message": "Model training failed",
		})
	}

	return c.JSON(fiber.Map{
		"message":       "Model trained",
		"accuracy":      result.Accuracy,
		"num_examples":  result.NumExamples,
		"skipped":       result.Skipped,
		"model_version": result.ModelVersion,
		"trained_at":    result.TrainedAt,
	})
}
