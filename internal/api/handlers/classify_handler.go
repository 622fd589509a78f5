package handlers

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/auth"
	"github.com/voc-classifier/backend/internal/cache"
	"github.com/voc-classifier/backend/internal/classify"
	"github.com/voc-classifier/backend/internal/ingestion"
	"github.com/voc-classifier/backend/internal/llm"
	"github.com/voc-classifier/backend/internal/middleware/validation"
	"github.com/voc-classifier/backend/internal/report"
	"github.com/voc-classifier/backend/internal/storage/models"
	"github.com/voc-classifier/backend/internal/themes"
	"github.com/voc-classifier/backend/pkg/logger"
)

type Classifier interface {
	ClassifyFile(ctx context.Context, filename string, content []byte, catalog *themes.Catalog) (*classify.Outcome, error)
	Lookup(ctx context.Context, key string) (*cache.Entry, bool)
}

type ClassifyHandler struct {
	classifier Classifier
	catalog    *themes.Catalog
	now        func() time.Time
}

func NewClassifyHandler(classifier Classifier, catalog *themes.Catalog) *ClassifyHandler {
	if catalog == nil {
		catalog = themes.NewCatalog()
	}
	return &ClassifyHandler{
		classifier: classifier,
		catalog:    catalog,
		now:        time.Now,
	}
}

type classifyResponse struct {
	RunID           string               `json:"run_id"`
	Key             string               `json:"key"`
	Classified      bool                 `json:"classified"`
	Cached          bool                 `json:"cached"`
	Notice          string               `json:"notice,omitempty"`
	RowCount        int                  `json:"row_count"`
	ClassifiedCount int                  `json:"classified_count"`
	Rows            []models.FeedbackRow `json:"rows"`
}

func (h *ClassifyHandler) Classify(c *fiber.Ctx) error {
	fh, ok := validation.Upload(c)
	if !ok {
		var err error
		if fh, err = c.FormFile("file"); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Missing upload field 'file'",
			})
		}
	}

	f, err := fh.Open()
	if err != nil {
		logger.Error("Failed to open upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid upload",
		})
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		logger.Error("Failed to read upload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid upload",
		})
	}

	out, err := h.classifier.ClassifyFile(c.UserContext(), fh.Filename, content, h.catalog)
	if errors.Is(err, ingestion.ErrFormat) {
		logger.Warn("Rejected malformed upload", zap.String("filename", fh.Filename), zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		logger.Error("Failed to classify upload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to classify upload",
		})
	}

	rows := out.Dataset.Rows
	if rows == nil {
		rows = []models.FeedbackRow{}
	}

	return c.JSON(classifyResponse{
		RunID:           out.RunID,
		Key:             out.Key,
		Classified:      out.Classified,
		Cached:          out.Cached,
		Notice:          notice(out),
		RowCount:        len(rows),
		ClassifiedCount: out.Dataset.ClassifiedCount(),
		Rows:            rows,
	})
}

// Export streams the classified table for a memoized run as CSV.
func (h *ClassifyHandler) Export(c *fiber.Ctx) error {
	key := c.Params("key")
	entry, ok := h.classifier.Lookup(c.UserContext(), key)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No classified result for this key, upload the file again",
		})
	}

	short := key
	if len(short) > 12 {
		short = short[:12]
	}
	c.Attachment("classified_" + short + ".csv")
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")

	if err := ingestion.WriteCSV(c.Response().BodyWriter(), entry.Dataset); err != nil {
		logger.Error("Failed to write export", zap.String("key", key), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export result",
		})
	}
	return nil
}

// Summary returns label shares for a memoized run, optionally filtered by
// theme, group, sentiment, product and period query parameters.
func (h *ClassifyHandler) Summary(c *fiber.Ctx) error {
	rows, err := h.filteredRows(c)
	if err != nil {
		return err
	}
	return c.JSON(report.Summarize(rows))
}

// Rows returns the filtered rows of a memoized run.
func (h *ClassifyHandler) Rows(c *fiber.Ctx) error {
	rows, err := h.filteredRows(c)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"count": len(rows),
		"rows":  rows,
	})
}

func (h *ClassifyHandler) filteredRows(c *fiber.Ctx) ([]models.FeedbackRow, error) {
	period, err := report.ParsePeriod(c.Query("period"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	entry, ok := h.classifier.Lookup(c.UserContext(), c.Params("key"))
	if !ok {
		return nil, fiber.NewError(fiber.StatusNotFound, "No classified result for this key, upload the file again")
	}

	filter := report.Filter{
		Theme:     c.Query("theme"),
		Group:     c.Query("group"),
		Sentiment: c.Query("sentiment"),
		Product:   c.Query("product"),
		Period:    period,
	}
	return report.Apply(entry.Dataset.Rows, filter, h.now()), nil
}

func (h *ClassifyHandler) Themes(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"themes":   h.catalog.Names(),
		"fallback": themes.NotMatched,
	})
}

func notice(out *classify.Outcome) string {
	switch {
	case errors.Is(out.Err, auth.ErrAuth):
		return "Could not authenticate with the classification service. Showing unclassified comments."
	case out.Err != nil:
		var genErr *llm.GenerationError
		if errors.As(out.Err, &genErr) {
			return "The classification service returned an error. Showing unclassified comments."
		}
		return "Classification failed. Showing unclassified comments."
	case out.Notice != "":
		return "The classification response could not be matched to the comments. Showing unclassified comments."
	}
	return ""
}
