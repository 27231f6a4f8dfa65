package handlers

import (
	"bytes"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/export"
	"github.com/studybuddy/backend/internal/storage/sqlite"
	"github.com/studybuddy/backend/pkg/logger"
)

type ExportHandler struct {
	db *sqlite.Client
}

func NewExportHandler(db *sqlite.Client) *ExportHandler {
	return &ExportHandler{db: db}
}

// ExportCSV streams the course's flashcards as a CSV download in the
// Front,Back,Tags layout.
func (h *ExportHandler) ExportCSV(c *fiber.Ctx) error {
	courseID := c.Params("id")

	cards, err := h.db.ListCardsForCourse(courseID)
	if err != nil {
		logger.Error("Failed to load cards for export", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export cards",
		})
	}

	var buf bytes.Buffer
	if err := export.WriteCardsCSV(&buf, cards); err != nil {
		logger.Error("Failed to write CSV", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to export cards",
		})
	}

	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="cards-%s.csv"`, courseID))
	return c.Send(buf.Bytes())
}
