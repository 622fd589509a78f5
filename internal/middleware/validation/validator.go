package validation

import (
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// UploadKey is the fiber.Ctx local holding the validated *multipart.FileHeader.
const UploadKey = "upload"

type Config struct {
	FieldName         string
	MaxFileSize       int64
	AllowedExtensions []string
	Logger            *zap.Logger
}

// UploadMiddleware rejects requests that do not carry exactly the expected
// file part before the handler reads it.
func UploadMiddleware(cfg Config) fiber.Handler {
	if cfg.FieldName == "" {
		cfg.FieldName = "file"
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".csv", ".xlsx"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Expected a multipart/form-data upload",
			})
		}

		fh, err := c.FormFile(cfg.FieldName)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing upload field '" + cfg.FieldName + "'",
			})
		}

		if !allowedExtension(fh.Filename, cfg.AllowedExtensions) {
			cfg.Logger.Warn("Rejected upload with unsupported extension",
				zap.String("ip", c.IP()),
				zap.String("filename", fh.Filename),
			)
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported file type, expected one of " + strings.Join(cfg.AllowedExtensions, ", "),
			})
		}

		if fh.Size == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Uploaded file is empty",
			})
		}
		if fh.Size > cfg.MaxFileSize {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Uploaded file exceeds maximum size",
			})
		}

		c.Locals(UploadKey, fh)
		return c.Next()
	}
}

// Upload returns the file header stored by UploadMiddleware.
func Upload(c *fiber.Ctx) (*multipart.FileHeader, bool) {
	fh, ok := c.Locals(UploadKey).(*multipart.FileHeader)
	return fh, ok
}

func allowedExtension(filename string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}
