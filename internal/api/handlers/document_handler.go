package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/ingestion"
	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/storage/sqlite"
	"github.com/studybuddy/backend/pkg/logger"
)

type DocumentHandler struct {
	db        *sqlite.Client
	processor *ingestion.Processor
	uploadDir string
}

func NewDocumentHandler(db *sqlite.Client, processor *ingestion.Processor, uploadDir string) *DocumentHandler {
	return &DocumentHandler{
		db:        db,
		processor: processor,
		uploadDir: uploadDir,
	}
}

// UploadDocument accepts a PDF or HTML upload, records it as pending,
// and kicks off ingestion in the background. Clients poll the status
// endpoint or subscribe to the websocket stream to learn the outcome.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	courseID := c.FormValue("courseId")
	if courseID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "courseId is required",
		})
	}
	if _, err := h.db.GetCourse(courseID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load course",
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file upload is required",
		})
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".pdf", ".html", ".htm":
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("Unsupported file type %q", ext),
		})
	}

	docID := uuid.New().String()
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		logger.Error("Failed to create upload dir", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store file",
		})
	}

	storagePath := filepath.Join(h.uploadDir, docID+ext)
	if err := c.SaveFile(file, storagePath); err != nil {
		logger.Error("Failed to save upload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store file",
		})
	}

	title := c.FormValue("title")
	if title == "" {
		title = strings.TrimSuffix(file.Filename, ext)
	}

	now := time.Now()
	doc := &models.Document{
		ID:               docID,
		CourseID:         courseID,
		Title:            title,
		OriginalFilename: file.Filename,
		StoragePath:      storagePath,
		Status:           models.DocumentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.db.InsertDocument(doc); err != nil {
		logger.Error("Failed to insert document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record document",
		})
	}

	go func() {
		if err := h.processor.Process(context.Background(), doc); err != nil {
			logger.Error("Background ingestion failed",
				zap.String("doc_id", doc.ID),
				zap.Error(err),
			)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"documentId": docID,
		"status":     models.DocumentPending,
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.db.GetDocument(c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to get document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get document",
		})
	}

	body := fiber.Map{
		"id":           doc.ID,
		"courseId":     doc.CourseID,
		"title":        doc.Title,
		"status":       doc.Status,
		"pageCount":    doc.PageCount,
		"passageCount": doc.PassageCount,
		"createdAt":    doc.CreatedAt,
		"updatedAt":    doc.UpdatedAt,
	}
	if doc.Status == models.DocumentFailed {
		body["errorMessage"] = doc.ErrorMessage
	}

	return c.JSON(body)
}

// ReprocessDocument re-runs ingestion for a document, typically after
// a transient failure. Passages and vectors are fully replaced.
func (h *DocumentHandler) ReprocessDocument(c *fiber.Ctx) error {
	doc, err := h.db.GetDocument(c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get document",
		})
	}

	if doc.Status == models.DocumentProcessing {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Document is already being processed",
		})
	}

	go func() {
		if err := h.processor.Process(context.Background(), doc); err != nil {
			logger.Error("Background reprocessing failed",
				zap.String("doc_id", doc.ID),
				zap.Error(err),
			)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"documentId": doc.ID,
		"status":     models.DocumentProcessing,
	})
}
