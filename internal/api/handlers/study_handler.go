package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/generation"
	"github.com/studybuddy/backend/internal/llm"
	"github.com/studybuddy/backend/internal/metrics"
	"github.com/studybuddy/backend/internal/srs"
	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/storage/sqlite"
	"github.com/studybuddy/backend/pkg/logger"
)

// explanationFreshness is how long a stored explanation is served
// as-is before a request without the regenerate flag still gets the
// cached copy.
const explanationFreshness = 7 * 24 * time.Hour

type StudyHandler struct {
	db            *sqlite.Client
	generator     *generation.Generator
	reviews       *srs.Service
	defaultUserID string
}

func NewStudyHandler(db *sqlite.Client, generator *generation.Generator, reviews *srs.Service, defaultUserID string) *StudyHandler {
	return &StudyHandler{
		db:            db,
		generator:     generator,
		reviews:       reviews,
		defaultUserID: defaultUserID,
	}
}

func (h *StudyHandler) userID(c *fiber.Ctx) string {
	if id := c.Query("userId"); id != "" {
		return id
	}
	return h.defaultUserID
}

// GenerateOutline builds a module and lesson outline for the course's
// first ready document.
func (h *StudyHandler) GenerateOutline(c *fiber.Ctx) error {
	courseID := c.Params("id")

	course, err := h.db.GetCourse(courseID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Course not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load course",
		})
	}

	docID, err := h.db.FirstReadyDocumentID(courseID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Course has no ready documents",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load documents",
		})
	}

	passages, err := h.db.ListPassagesByDocument(docID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load passages",
		})
	}

	start := time.Now()
	outline, err := h.generator.GenerateOutline(c.Context(), course.Title, passages)
	h.observe("outline", start, err)
	if err != nil {
		return h.generationError(c, "outline", err)
	}

	return c.JSON(outline)
}

// GenerateConcepts extracts cited concepts for one lesson, replacing
// what was previously stored for it.
func (h *StudyHandler) GenerateConcepts(c *fiber.Ctx) error {
	courseID := c.Params("id")

	var req struct {
		ModuleTitle string `json:"moduleTitle"`
		LessonTitle string `json:"lessonTitle"`
	}
	if err := c.BodyParser(&req); err != nil || req.LessonTitle == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "lessonTitle is required",
		})
	}

	docID, err := h.db.FirstReadyDocumentID(courseID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Course has no ready documents",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load documents",
		})
	}

	start := time.Now()
	concepts, err := h.generator.GenerateConcepts(c.Context(), courseID, docID, req.ModuleTitle, req.LessonTitle)
	h.observe("concepts", start, err)
	if err != nil {
		return h.generationError(c, "concepts", err)
	}

	if err := h.db.DeleteConceptsForLesson(courseID, req.ModuleTitle, req.LessonTitle); err != nil {
		logger.Error("Failed to clear prior concepts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store concepts",
		})
	}
	if err := h.db.InsertConcepts(concepts); err != nil {
		logger.Error("Failed to store concepts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store concepts",
		})
	}

	return c.JSON(fiber.Map{"concepts": concepts})
}

func (h *StudyHandler) ListConcepts(c *fiber.Ctx) error {
	concepts, err := h.db.ListConceptsByLesson(c.Params("id"), c.Query("moduleTitle"), c.Query("lessonTitle"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list concepts",
		})
	}
	return c.JSON(fiber.Map{"concepts": concepts})
}

// GenerateFlashcards produces cited flashcards for one concept,
// replacing its previous non-scaffold cards.
func (h *StudyHandler) GenerateFlashcards(c *fiber.Ctx) error {
	concept, err := h.db.GetConcept(c.Params("conceptId"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Concept not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load concept",
		})
	}

	start := time.Now()
	cards, err := h.generator.GenerateFlashcards(c.Context(), *concept)
	h.observe("flashcards", start, err)
	if err != nil {
		return h.generationError(c, "flashcards", err)
	}

	if err := h.db.DeleteCardsForConcept(concept.ID, false); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store cards",
		})
	}
	if err := h.db.InsertCards(cards); err != nil {
		logger.Error("Failed to store cards", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store cards",
		})
	}

	if err := h.reviews.SeedCardStates(h.userID(c), cards, time.Now()); err != nil {
		logger.Warn("Failed to seed card review state", zap.Error(err))
	}

	return c.JSON(fiber.Map{"cards": cards})
}

// GenerateQuiz produces a fresh quiz for one lesson.
func (h *StudyHandler) GenerateQuiz(c *fiber.Ctx) error {
	courseID := c.Params("id")

	var req struct {
		ModuleTitle string `json:"moduleTitle"`
		LessonTitle string `json:"lessonTitle"`
	}
	if err := c.BodyParser(&req); err != nil || req.LessonTitle == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "lessonTitle is required",
		})
	}

	docID, err := h.db.FirstReadyDocumentID(courseID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Course has no ready documents",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load documents",
		})
	}

	start := time.Now()
	quiz, err := h.generator.GenerateQuiz(c.Context(), courseID, docID, req.ModuleTitle, req.LessonTitle)
	h.observe("quiz", start, err)
	if err != nil {
		return h.generationError(c, "quiz", err)
	}

	if err := h.db.DeleteQuizzesForLesson(courseID, req.ModuleTitle, req.LessonTitle); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store quiz",
		})
	}
	if err := h.db.InsertQuiz(quiz); err != nil {
		logger.Error("Failed to store quiz", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store quiz",
		})
	}

	return c.JSON(quiz)
}

func (h *StudyHandler) GetQuiz(c *fiber.Ctx) error {
	quiz, err := h.db.GetQuizByLesson(c.Params("id"), c.Query("moduleTitle"), c.Query("lessonTitle"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Quiz not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load quiz",
		})
	}
	return c.JSON(quiz)
}

// GetExplanation serves a concept's layered explanation, generating it
// on first request. A stored explanation younger than the freshness
// window is returned as-is unless regenerate=true; regeneration also
// replaces the concept's scaffold cards and seeds their review state.
func (h *StudyHandler) GetExplanation(c *fiber.Ctx) error {
	userID := h.userID(c)
	regenerate := c.QueryBool("regenerate")

	concept, err := h.db.GetConcept(c.Params("conceptId"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Concept not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load concept",
		})
	}

	if !regenerate {
		stored, err := h.db.GetExplanation(userID, concept.ID)
		if err == nil && time.Since(stored.UpdatedAt) < explanationFreshness {
			metrics.CacheHits.WithLabelValues("explanation").Inc()
			return c.Type("json").Send(stored.Payload)
		}
		if err != nil && !errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load explanation",
			})
		}
		metrics.CacheMisses.WithLabelValues("explanation").Inc()
	}

	start := time.Now()
	result, err := h.generator.GenerateExplanation(c.Context(), *concept)
	h.observe("explanation", start, err)
	if err != nil {
		return h.generationError(c, "explanation", err)
	}

	payload, err := json.Marshal(result.Content)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store explanation",
		})
	}

	now := time.Now()
	if err := h.db.UpsertExplanation(&models.Explanation{
		UserID:    userID,
		ConceptID: concept.ID,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		logger.Error("Failed to store explanation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store explanation",
		})
	}

	if err := h.db.DeleteCardsForConcept(concept.ID, true); err != nil {
		logger.Error("Failed to clear scaffold cards", zap.Error(err))
	} else if err := h.db.InsertCards(result.ScaffoldCards); err != nil {
		logger.Error("Failed to store scaffold cards", zap.Error(err))
	} else if err := h.reviews.SeedCardStates(userID, result.ScaffoldCards, now); err != nil {
		logger.Warn("Failed to seed scaffold review state", zap.Error(err))
	}

	return c.JSON(result.Content)
}

func (h *StudyHandler) observe(artifact string, start time.Time, err error) {
	metrics.GenerationDuration.WithLabelValues(artifact).Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case errors.Is(err, generation.ErrMalformedModelOutput):
		outcome = "malformed"
	case errors.Is(err, generation.ErrNoGroundedResults):
		outcome = "ungrounded"
	case err != nil:
		outcome = "error"
	}
	metrics.GenerationTotal.WithLabelValues(artifact, outcome).Inc()
}

func (h *StudyHandler) generationError(c *fiber.Ctx, artifact string, err error) error {
	logger.Error("Generation failed", zap.String("artifact", artifact), zap.Error(err))

	switch {
	case errors.Is(err, generation.ErrMalformedModelOutput):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "The model returned an unusable response, try again",
		})
	case errors.Is(err, generation.ErrNoGroundedResults):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Nothing in the material supports this request",
		})
	case errors.Is(err, llm.ErrCompletionUnavailable), errors.Is(err, llm.ErrEmbeddingUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "The language model is temporarily unavailable",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Generation failed",
		})
	}
}
