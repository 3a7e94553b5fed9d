package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"

	"github.com/ticket-classifier/backend/internal/api/handlers"
	"github.com/ticket-classifier/backend/internal/app"
	"github.com/ticket-classifier/backend/internal/metrics"
	"github.com/ticket-classifier/backend/internal/middleware/ratelimit"
	"github.com/ticket-classifier/backend/internal/middleware/validation"
	"github.com/ticket-classifier/backend/pkg/logger"
)

// NewServer builds the fiber app with every route registered.
func NewServer(a *app.App) (*fiber.App, error) {
	cfg := a.Config

	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods: "GET, POST, PUT, OPTIONS",
	}))

	limiter, err := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.RateLimitPerMinute,
		Logger:               logger.Named("ratelimit"),
	})
	if err != nil {
		return nil, err
	}

	classification := handlers.NewClassificationHandler(a.Pipeline)
	labelingHandler := handlers.NewLabelingHandler(a.Labeling)
	trainingHandler := handlers.NewTrainingHandler(a.Trainer)
	ws := handlers.NewWebSocketHandler(a.Tracker, a.Pipeline, time.Duration(cfg.Server.WSPollSec)*time.Second)

	deps := map[string]handlers.Pinger{"sqlite": a.DB}
	if a.Redis != nil {
		deps["redis"] = a.Redis
	}
	health := handlers.NewHealthHandler(deps)

	server.Get("/metrics", metrics.MetricsHandler())

	api := server.Group("/api/v1")
	api.Use(validation.Middleware(validation.Config{
		MaxUploadSize: cfg.Server.BodyLimit,
		Logger:        logger.Named("validation"),
	}))

	api.Post("/tickets/classify", classification.Classify)
	api.Put("/tickets/:id/category", classification.UpdateCategory)
	api.Get("/jobs/:id", classification.GetJob)
	api.Get("/jobs/:id/tickets", classification.GetJobTickets)

	api.Post("/labeling", limiter.Middleware(), labelingHandler.Label)
	api.Post("/training", limiter.Middleware(), trainingHandler.Retrain)

	api.Get("/health", health.Health)
	api.Get("/ready", health.Ready)

	server.Use("/ws", ws.Upgrade)
	server.Get("/ws/classification/:id", websocket.New(ws.HandleConnection))

	return server, nil
}
