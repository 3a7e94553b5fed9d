package handlers

import (
	"context"
	"errors"
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/apperrors"
	"github.com/ticket-classifier/backend/internal/middleware/validation"
	"github.com/ticket-classifier/backend/internal/pipeline"
	"github.com/ticket-classifier/backend/internal/storage/models"
)

// ClassificationService is implemented by *pipeline.Pipeline.
type ClassificationService interface {
	Submit(ctx context.Context, requestID string, tickets []models.Ticket) (string, error)
	JobStatus(ctx context.Context, jobID string) (*pipeline.JobResult, error)
	Correct(ctx context.Context, ticketID int64, category string) (*models.ClassificationRecord, error)
}

type ClassificationHandler struct {
	service ClassificationService
}

func NewClassificationHandler(service ClassificationService) *ClassificationHandler {
	return &ClassificationHandler{
		service: service,
	}
}

// Classify accepts a batch either as a multipart "file" upload or as a raw
// JSON body, and starts a classification job for it.
func (h *ClassificationHandler) Classify(c *fiber.Ctx) error {
	log := requestLogger(c)

	body, err := h.readBatch(c)
	if err != nil {
		log.Warn("Rejected classification upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": errorMessage(err, "Invalid upload"),
			"job_id":  "",
		})
	}

	tickets, err := pipeline.ParseBatch(body)
	if err != nil {
		log.Warn("Invalid classification batch", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": errorMessage(err, "Invalid batch"),
			"job_id":  "",
		})
	}

	jobID, err := h.service.Submit(c.Context(), requestID(c), tickets)
	if err != nil {
		log.Error("Failed to start classification job", zap.Error(err))
		return c.Status(apperrors.HTTPStatusCode(err)).JSON(fiber.Map{
			"message": errorMessage(err, "Failed to start classification"),
			"job_id":  "",
		})
	}

	log.Info("Classification job started",
		zap.String("job_id", jobID),
		zap.Int("tickets", len(tickets)),
	)

	return c.JSON(fiber.Map{
		"message": "Ticket Classification Started",
		"job_id":  jobID,
	})
}

func (h *ClassificationHandler) readBatch(c *fiber.Ctx) ([]byte, error) {
	if !c.Is("json") {
		file, err := c.FormFile("file")
		if err == nil {
			if !validation.IsJSONFile(file) {
				return nil, apperrors.New(apperrors.ErrInvalidBatch, fiber.StatusBadRequest, "Invalid file format. Please upload a JSON file.")
			}
			f, err := file.Open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return io.ReadAll(f)
		}
	}
	if len(c.Body()) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidBatch, fiber.StatusBadRequest, "Uploaded file is empty")
	}
	return c.Body(), nil
}

func (h *ClassificationHandler) GetJob(c *fiber.Ctx) error {
	jobID := c.Params("id")

	result, err := h.service.JobStatus(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"message": "No Classification Job Found",
			})
		}
		requestLogger(c).Error("Failed to get job status", zap.String("job_id", jobID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "Failed to get job status",
		})
	}

	return c.JSON(fiber.Map{
		"job_id": jobID,
		"status": result.Status,
	})
}

func (h *ClassificationHandler) GetJobTickets(c *fiber.Ctx) error {
	jobID := c.Params("id")
	requestLogger(c).Info("Request for classification result received", zap.String("job_id", jobID))

	result, err := h.service.JobStatus(c.Context(), jobID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		requestLogger(c).Error("Failed to load classified tickets", zap.String("job_id", jobID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message":            "Failed to load classified tickets",
			"classified_tickets": []models.ClassificationRecord{},
		})
	}
	if err != nil || len(result.Results) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message":            "No Classified ticket found with this job",
			"classified_tickets": []models.ClassificationRecord{},
		})
	}

	return c.JSON(fiber.Map{
		"message":            "Classified Tickets Fetched",
		"classified_tickets": result.Results,
	})
}

func (h *ClassificationHandler) UpdateCategory(c *fiber.Ctx) error {
	log := requestLogger(c)

	ticketID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "ticket id must be an integer",
		})
	}

	var req struct {
		Category string `json:"category"`
	}
	if err := c.BodyParser(&req); err != nil {
		log.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
		})
	}

	record, err := h.service.Correct(c.Context(), ticketID, req.Category)
	if err != nil {
		log.Warn("Couldn't update category", zap.Int64("ticket_id", ticketID), zap.Error(err))
		return c.Status(apperrors.HTTPStatusCode(err)).JSON(fiber.Map{
			"message": errorMessage(err, "Couldn't update category"),
		})
	}

	return c.JSON(fiber.Map{
		"message":       "Saved Ticket Classification",
		"updatedTicket": record,
	})
}
