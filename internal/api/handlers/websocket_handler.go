package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/ticket-classifier/backend/internal/jobs"
	"github.com/ticket-classifier/backend/internal/storage/models"
	"github.com/ticket-classifier/backend/pkg/logger"
)

// WebSocketHandler pushes the status of one classification job to the
// client on every poll until the job finishes.
type WebSocketHandler struct {
	tracker  *jobs.Tracker
	service  ClassificationService
	interval time.Duration
}

func NewWebSocketHandler(tracker *jobs.Tracker, service ClassificationService, interval time.Duration) *WebSocketHandler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &WebSocketHandler{
		tracker:  tracker,
		service:  service,
		interval: interval,
	}
}

// Upgrade only lets websocket handshakes through to HandleConnection.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	jobID := c.Params("id")
	requestID, _ := c.Locals("requestid").(string)
	log := logger.WithRequestID(requestID).With(zap.String("job_id", jobID))
	log.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.Close()
		log.Info("WebSocket connection closed")
	}()

	// The client never sends anything useful; reading only detects a disconnect.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err := jobs.Watch(ctx, h.tracker, jobID, h.interval, func(job *models.Job, err error) {
		if werr := c.WriteJSON(h.message(ctx, jobID, job, err)); werr != nil {
			log.Warn("Failed to push job status", zap.Error(werr))
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Job status watch stopped", zap.Error(err))
	}
}

func (h *WebSocketHandler) message(ctx context.Context, jobID string, job *models.Job, err error) fiber.Map {
	empty := []models.ClassificationRecord{}

	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return fiber.Map{"message": "No Classification Job Found", "classified_tickets": empty}
	case err != nil:
		return fiber.Map{"error": "Internal Error"}
	}

	switch job.Status {
	case models.JobCompleted:
		result, err := h.service.JobStatus(ctx, jobID)
		if err != nil {
			return fiber.Map{"error": "Internal Error"}
		}
		return fiber.Map{"message": "Classification Completed", "classified_tickets": result.Results}
	case models.JobFailed:
		return fiber.Map{"message": "Classification FAILED", "classified_tickets": empty}
	default:
		return fiber.Map{"message": "Classification In Progress", "status": job.Status}
	}
}
