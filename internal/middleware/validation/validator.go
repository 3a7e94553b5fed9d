package validation

import (
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxUploadSize       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects write requests whose body is neither JSON nor a
// multipart upload.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxUploadSize == 0 {
		cfg.MaxUploadSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON, fiber.MIMEMultipartForm}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowed(contentType, cfg.AllowedContentTypes) {
			cfg.Logger.Warn("Unsupported content type",
				zap.String("content_type", contentType),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"message": "Unsupported content type",
			})
		}

		if len(c.Body()) > cfg.MaxUploadSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"message": "Request body exceeds maximum size",
			})
		}

		return c.Next()
	}
}

func allowed(contentType string, types []string) bool {
	for _, t := range types {
		if strings.HasPrefix(strings.ToLower(contentType), t) {
			return true
		}
	}
	return false
}

// IsJSONFile reports whether an uploaded file looks like a JSON document by
// name and declared type.
func IsJSONFile(file *multipart.FileHeader) bool {
	if file == nil {
		return false
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".json") {
		return false
	}
	ct := file.Header.Get(fiber.HeaderContentType)
	return ct == "" || strings.HasPrefix(ct, fiber.MIMEApplicationJSON) || strings.HasPrefix(ct, fiber.MIMEOctetStream)
}
