package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/storage/sqlite"
	"github.com/studybuddy/backend/pkg/logger"
)

type CourseHandler struct {
	db *sqlite.Client
}

func NewCourseHandler(db *sqlite.Client) *CourseHandler {
	return &CourseHandler{db: db}
}

func (h *CourseHandler) CreateCourse(c *fiber.Ctx) error {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title is required",
		})
	}

	course := &models.Course{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   time.Now(),
	}

	if err := h.db.InsertCourse(course); err != nil {
		logger.Error("Failed to create course", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create course",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(course)
}

func (h *CourseHandler) GetCourse(c *fiber.Ctx) error {
	course, err := h.db.GetCourse(c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		logger.Error("Failed to get course", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get course",
		})
	}

	return c.JSON(course)
}

// CreateShare mints a read-only share token for a course.
func (h *CourseHandler) CreateShare(c *fiber.Ctx) error {
	courseID := c.Params("id")
	if _, err := h.db.GetCourse(courseID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get course",
		})
	}

	token, err := shareToken()
	if err != nil {
		logger.Error("Failed to generate share token", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create share",
		})
	}

	share := &models.CourseShare{
		ID:        uuid.New().String(),
		CourseID:  courseID,
		Token:     token,
		CreatedAt: time.Now(),
	}
	if err := h.db.InsertCourseShare(share); err != nil {
		logger.Error("Failed to create share", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create share",
		})
	}

	logger.Info("Course share created", zap.String("course_id", courseID))
	return c.Status(fiber.StatusCreated).JSON(share)
}

func (h *CourseHandler) RevokeShare(c *fiber.Ctx) error {
	if err := h.db.RevokeCourseShare(c.Params("shareId")); err != nil {
		logger.Error("Failed to revoke share", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to revoke share",
		})
	}

	return c.JSON(fiber.Map{"message": "Share revoked"})
}

// ResolveShare exchanges a share token for the shared course. Revoked
// tokens behave exactly like unknown ones.
func (h *CourseHandler) ResolveShare(c *fiber.Ctx) error {
	share, err := h.db.GetCourseShareByToken(c.Params("token"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Share not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve share",
		})
	}
	if share.RevokedAt != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Share not found",
		})
	}

	course, err := h.db.GetCourse(share.CourseID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve share",
		})
	}

	return c.JSON(course)
}

func shareToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
