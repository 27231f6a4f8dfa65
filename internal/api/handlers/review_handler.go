package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/srs"
	"github.com/studybuddy/backend/internal/storage/sqlite"
	"github.com/studybuddy/backend/pkg/logger"
)

type ReviewHandler struct {
	reviews       *srs.Service
	defaultUserID string
}

func NewReviewHandler(reviews *srs.Service, defaultUserID string) *ReviewHandler {
	return &ReviewHandler{
		reviews:       reviews,
		defaultUserID: defaultUserID,
	}
}

func (h *ReviewHandler) userID(c *fiber.Ctx) string {
	if id := c.Query("userId"); id != "" {
		return id
	}
	return h.defaultUserID
}

// GetQueue returns the user's daily study queue: due cards plus cards
// never reviewed, with due counts for today and tomorrow.
func (h *ReviewHandler) GetQueue(c *fiber.Ctx) error {
	queue, err := h.reviews.DailyQueue(c.Context(), h.userID(c), time.Now())
	if err != nil {
		logger.Error("Failed to build review queue", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build review queue",
		})
	}

	return c.JSON(queue)
}

// RecordReview applies one rating to a card and returns the advanced
// scheduling state.
func (h *ReviewHandler) RecordReview(c *fiber.Ctx) error {
	var req struct {
		ItemID string `json:"itemId"`
		Rating string `json:"rating"`
		UserID string `json:"userId"`
	}
	if err := c.BodyParser(&req); err != nil || req.ItemID == "" || req.Rating == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "itemId and rating are required",
		})
	}

	userID := req.UserID
	if userID == "" {
		userID = h.defaultUserID
	}

	outcome, err := h.reviews.RecordReview(c.Context(), userID, req.ItemID, req.Rating, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, srs.ErrInvalidRating):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Rating must be one of Again, Hard, Good, Easy",
			})
		case errors.Is(err, sqlite.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Card not found",
			})
		default:
			logger.Error("Failed to record review", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record review",
			})
		}
	}

	return c.JSON(outcome)
}
