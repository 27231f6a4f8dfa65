package handlers

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/cache/redis"
	"github.com/studybuddy/backend/internal/generation"
	"github.com/studybuddy/backend/internal/llm"
	"github.com/studybuddy/backend/internal/metrics"
	"github.com/studybuddy/backend/internal/retrieval"
	"github.com/studybuddy/backend/pkg/logger"
	"github.com/studybuddy/backend/pkg/utils"
)

const (
	snippetLength = 240
	askCacheTTL   = time.Hour
)

type SearchHandler struct {
	retriever *retrieval.Retriever
	generator *generation.Generator
	cache     *redis.Client
	topK      int
}

// NewSearchHandler serves semantic search and grounded Q&A. cache may
// be nil when Redis is not configured.
func NewSearchHandler(retriever *retrieval.Retriever, generator *generation.Generator, cache *redis.Client, topK int) *SearchHandler {
	return &SearchHandler{
		retriever: retriever,
		generator: generator,
		cache:     cache,
		topK:      topK,
	}
}

type searchResult struct {
	PassageID  string  `json:"passageId"`
	DocumentID string  `json:"documentId"`
	PageNumber int     `json:"pageNumber"`
	Snippet    string  `json:"snippet"`
	Score      float32 `json:"score"`
}

// Search runs a similarity search over the course's ready documents
// and returns snippeted passages.
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query parameter q is required",
		})
	}

	results, err := h.retriever.Retrieve(c.Context(), c.Params("id"), query, h.topK)
	if err != nil {
		metrics.SearchTotal.WithLabelValues("error").Inc()
		logger.Error("Search failed", zap.Error(err))

		if errors.Is(err, llm.ErrEmbeddingUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "The embedding service is temporarily unavailable",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Search failed",
		})
	}

	metrics.SearchTotal.WithLabelValues("ok").Inc()

	out := make([]searchResult, len(results))
	for i, r := range results {
		out[i] = searchResult{
			PassageID:  r.Passage.ID,
			DocumentID: r.Passage.DocumentID,
			PageNumber: r.Passage.PageNumber,
			Snippet:    snippet(r.Passage.Content),
			Score:      r.Score,
		}
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": out,
	})
}

// Ask answers a free-form question from the course material, with
// quote citations. Answers are cached per course and question.
func (h *SearchHandler) Ask(c *fiber.Ctx) error {
	courseID := c.Params("id")

	var req struct {
		Question string `json:"question"`
	}
	if err := c.BodyParser(&req); err != nil || req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "question is required",
		})
	}

	questionHash := utils.HashString(req.Question)
	if h.cache != nil {
		var cached generation.AskResult
		if hit, err := h.cache.GetAskAnswer(c.Context(), courseID, questionHash, &cached); err == nil && hit {
			metrics.CacheHits.WithLabelValues("ask").Inc()
			return c.JSON(cached)
		}
		metrics.CacheMisses.WithLabelValues("ask").Inc()
	}

	result, err := h.generator.Ask(c.Context(), courseID, req.Question)
	if err != nil {
		logger.Error("Ask failed", zap.Error(err))

		switch {
		case errors.Is(err, generation.ErrNoGroundedResults):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "The course has no material to answer from",
			})
		case errors.Is(err, generation.ErrMalformedModelOutput):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "The model returned an unusable response, try again",
			})
		case errors.Is(err, llm.ErrCompletionUnavailable), errors.Is(err, llm.ErrEmbeddingUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "The language model is temporarily unavailable",
			})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to answer question",
			})
		}
	}

	if h.cache != nil {
		if err := h.cache.SetAskAnswer(c.Context(), courseID, questionHash, result, askCacheTTL); err != nil {
			logger.Warn("Failed to cache answer", zap.Error(err))
		}
	}

	return c.JSON(result)
}

// snippet truncates on a rune boundary so a multi-byte character is
// never split mid-sequence.
func snippet(content string) string {
	if len(content) <= snippetLength {
		return content
	}
	cut := snippetLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "..."
}
