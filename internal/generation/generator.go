package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/llm"
	"github.com/studybuddy/backend/internal/retrieval"
	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/pkg/logger"
)

var (
	// ErrMalformedModelOutput means the model's response failed JSON
	// parsing or schema validation. Nothing from that response is kept.
	ErrMalformedModelOutput = errors.New("malformed model output")

	// ErrNoGroundedResults means the model produced output but none of
	// it survived citation vetting against the retrieved passages.
	ErrNoGroundedResults = errors.New("no grounded results")
)

// Completer is the JSON-mode completion surface of the LLM client.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Searcher is the retrieval surface the generator grounds against.
type Searcher interface {
	Retrieve(ctx context.Context, courseID, query string, topK int) ([]retrieval.Result, error)
	RetrieveFromDocuments(ctx context.Context, documentIDs []string, query string, topK int) ([]retrieval.Result, error)
}

type Generator struct {
	completer Completer
	searcher  Searcher

	lessonTopK   int
	askTopK      int
	outlineLimit int
}

func NewGenerator(completer Completer, searcher Searcher, lessonTopK, askTopK, outlineLimit int) *Generator {
	return &Generator{
		completer:    completer,
		searcher:     searcher,
		lessonTopK:   lessonTopK,
		askTopK:      askTopK,
		outlineLimit: outlineLimit,
	}
}

type Outline struct {
	Modules []OutlineModule `json:"modules"`
}

type OutlineModule struct {
	Title   string   `json:"title"`
	Lessons []string `json:"lessons"`
}

// GenerateOutline builds a course outline from an even sample of the
// document's passages. Sampling keeps the prompt bounded while still
// spanning the whole document.
func (g *Generator) GenerateOutline(ctx context.Context, courseTitle string, passages []models.Passage) (*Outline, error) {
	if len(passages) == 0 {
		return nil, ErrNoGroundedResults
	}

	sample := samplePassages(passages, g.outlineLimit)
	results := make([]retrieval.Result, len(sample))
	for i, p := range sample {
		results[i] = retrieval.Result{Passage: p}
	}

	raw, err := g.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: outlineSystemPrompt,
		UserPrompt:   outlineUserPrompt(courseTitle, results),
		Temperature:  0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("outline completion: %w", err)
	}

	var payload outlinePayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	outline := &Outline{}
	for _, m := range payload.Modules {
		module := OutlineModule{Title: m.Title}
		for _, l := range m.Lessons {
			module.Lessons = append(module.Lessons, l.Title)
		}
		outline.Modules = append(outline.Modules, module)
	}

	logger.Info("Outline generated",
		zap.String("course", courseTitle),
		zap.Int("modules", len(outline.Modules)),
	)
	return outline, nil
}

// GenerateConcepts retrieves lesson-relevant passages and extracts
// grounded concepts. Concepts whose citations all fail vetting are
// dropped; if none survive the call fails with ErrNoGroundedResults.
func (g *Generator) GenerateConcepts(ctx context.Context, courseID, documentID, moduleTitle, lessonTitle string) ([]models.Concept, error) {
	query := moduleTitle + " " + lessonTitle
	results, err := g.searcher.RetrieveFromDocuments(ctx, []string{documentID}, query, g.lessonTopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoGroundedResults
	}
	allowed := retrieval.AllowedPassageSet(results)

	raw, err := g.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: conceptsSystemPrompt,
		UserPrompt:   conceptsUserPrompt(moduleTitle, lessonTitle, results),
		Temperature:  0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("concepts completion: %w", err)
	}

	var payload conceptsPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	now := time.Now()
	var concepts []models.Concept
	dropped := 0
	seen := make(map[string]bool)
	for _, item := range payload.Concepts {
		key := strings.ToLower(strings.TrimSpace(item.Title))
		if seen[key] {
			continue
		}
		seen[key] = true

		citationIDs := filterCitationIDs(item.CitationIDs, allowed)
		if len(citationIDs) == 0 {
			dropped++
			continue
		}
		concepts = append(concepts, models.Concept{
			ID:          uuid.New().String(),
			CourseID:    courseID,
			DocumentID:  documentID,
			ModuleTitle: moduleTitle,
			LessonTitle: lessonTitle,
			Title:       item.Title,
			Summary:     item.Summary,
			CitationIDs: citationIDs,
			PageRange:   pageRange(citationIDs, allowed),
			CreatedAt:   now,
		})
	}

	if dropped > 0 {
		logger.Warn("Concepts dropped for ungrounded citations",
			zap.String("lesson", lessonTitle),
			zap.Int("dropped", dropped),
		)
	}
	if len(concepts) == 0 {
		return nil, ErrNoGroundedResults
	}
	return concepts, nil
}

// GenerateFlashcards produces cited flashcards for one concept. Cards
// are vetted against the concept's retrieval context, then deduplicated
// on a case-insensitive prompt and answer key.
func (g *Generator) GenerateFlashcards(ctx context.Context, concept models.Concept) ([]models.Card, error) {
	query := concept.Title + " " + concept.Summary
	results, err := g.searcher.RetrieveFromDocuments(ctx, []string{concept.DocumentID}, query, g.lessonTopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoGroundedResults
	}
	allowed := retrieval.AllowedPassageSet(results)

	raw, err := g.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: flashcardsSystemPrompt,
		UserPrompt:   flashcardsUserPrompt(concept.Title, concept.Summary, results),
		Temperature:  0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("flashcards completion: %w", err)
	}

	var payload cardsPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	cards := buildCards(payload.Cards, concept.ID, allowed, false)
	if len(cards) == 0 {
		return nil, ErrNoGroundedResults
	}
	return cards, nil
}

// GenerateQuiz produces a multiple-choice quiz for one lesson.
func (g *Generator) GenerateQuiz(ctx context.Context, courseID, documentID, moduleTitle, lessonTitle string) (*models.Quiz, error) {
	query := moduleTitle + " " + lessonTitle
	results, err := g.searcher.RetrieveFromDocuments(ctx, []string{documentID}, query, g.lessonTopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoGroundedResults
	}
	allowed := retrieval.AllowedPassageSet(results)

	raw, err := g.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: quizSystemPrompt,
		UserPrompt:   quizUserPrompt(lessonTitle, results),
		Temperature:  0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("quiz completion: %w", err)
	}

	var payload quizPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	var questions []models.QuizQuestion
	seen := make(map[string]bool)
	for _, q := range payload.Questions {
		key := strings.ToLower(strings.TrimSpace(q.Question))
		if seen[key] {
			continue
		}
		seen[key] = true

		citations := filterCitations(q.Citations, allowed)
		if len(citations) == 0 {
			continue
		}
		questions = append(questions, models.QuizQuestion{
			Question:  q.Question,
			Options:   q.Options,
			Answer:    q.Answer,
			Citations: citations,
		})
	}
	if len(questions) == 0 {
		return nil, ErrNoGroundedResults
	}

	return &models.Quiz{
		ID:          uuid.New().String(),
		CourseID:    courseID,
		ModuleTitle: moduleTitle,
		LessonTitle: lessonTitle,
		Questions:   questions,
		CreatedAt:   time.Now(),
	}, nil
}

// ExplanationContent is the stored shape of a layered explanation.
// Citations carry page numbers resolved from the passage store.
type ExplanationContent struct {
	Overview string               `json:"overview"`
	Sections []ExplanationSection `json:"sections"`
}

type ExplanationSection struct {
	Heading   string            `json:"heading"`
	Body      string            `json:"body"`
	Citations []models.Citation `json:"citations"`
}

type ExplanationResult struct {
	Content       ExplanationContent
	ScaffoldCards []models.Card
}

// GenerateExplanation produces a layered explanation of one concept
// plus its scaffold check cards. At least one grounded section and two
// grounded scaffold cards must survive vetting.
func (g *Generator) GenerateExplanation(ctx context.Context, concept models.Concept) (*ExplanationResult, error) {
	query := concept.Title + " " + concept.Summary
	results, err := g.searcher.RetrieveFromDocuments(ctx, []string{concept.DocumentID}, query, g.lessonTopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoGroundedResults
	}
	allowed := retrieval.AllowedPassageSet(results)

	raw, err := g.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: explanationSystemPrompt,
		UserPrompt:   explanationUserPrompt(concept.Title, results),
		Temperature:  0.4,
	})
	if err != nil {
		return nil, fmt.Errorf("explanation completion: %w", err)
	}

	var payload explanationPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	content := ExplanationContent{Overview: payload.Overview}
	for _, s := range payload.Sections {
		citations := filterCitations(s.Citations, allowed)
		if len(citations) == 0 {
			continue
		}
		content.Sections = append(content.Sections, ExplanationSection{
			Heading:   s.Heading,
			Body:      s.Body,
			Citations: citations,
		})
	}
	if len(content.Sections) == 0 {
		return nil, ErrNoGroundedResults
	}

	cards := buildCards(payload.ScaffoldCards, concept.ID, allowed, true)
	if len(cards) < 2 {
		return nil, ErrNoGroundedResults
	}

	return &ExplanationResult{Content: content, ScaffoldCards: cards}, nil
}

type AskResult struct {
	Answer    string            `json:"answer"`
	Citations []models.Citation `json:"citations"`
}

// Ask answers a free-form question from the course's material. An
// honest "not covered" answer with no citations is a valid outcome,
// not an error.
func (g *Generator) Ask(ctx context.Context, courseID, question string) (*AskResult, error) {
	results, err := g.searcher.Retrieve(ctx, courseID, question, g.askTopK)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoGroundedResults
	}
	allowed := retrieval.AllowedPassageSet(results)

	raw, err := g.completer.CompleteJSON(ctx, llm.CompletionRequest{
		SystemPrompt: askSystemPrompt,
		UserPrompt:   askUserPrompt(question, results),
		Temperature:  0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("ask completion: %w", err)
	}

	var payload askPayload
	if err := decodeStrict(raw, &payload); err != nil {
		return nil, err
	}

	return &AskResult{
		Answer:    payload.Answer,
		Citations: filterCitations(payload.Citations, allowed),
	}, nil
}

// buildCards vets citations, drops ungrounded cards, and deduplicates
// on a case-insensitive prompt and answer key. The first occurrence
// wins.
func buildCards(items []cardItem, conceptID string, allowed map[string]models.Passage, scaffold bool) []models.Card {
	now := time.Now()
	seen := make(map[string]bool, len(items))

	var cards []models.Card
	for _, item := range items {
		citations := filterCitations(item.Citations, allowed)
		if len(citations) == 0 {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(item.Prompt)) + "::" + strings.ToLower(strings.TrimSpace(item.Answer))
		if seen[key] {
			continue
		}
		seen[key] = true

		cards = append(cards, models.Card{
			ID:         uuid.New().String(),
			ConceptID:  conceptID,
			Prompt:     item.Prompt,
			Answer:     item.Answer,
			Citations:  citations,
			IsScaffold: scaffold,
			CreatedAt:  now,
		})
	}
	return cards
}

// filterCitations keeps only citations of passages that were actually
// retrieved, and resolves each page number from the store rather than
// trusting the model.
func filterCitations(refs []citationRef, allowed map[string]models.Passage) []models.Citation {
	var out []models.Citation
	for _, ref := range refs {
		passage, ok := allowed[ref.PassageID]
		if !ok {
			continue
		}
		out = append(out, models.Citation{
			PassageID:  ref.PassageID,
			PageNumber: passage.PageNumber,
			Quote:      ref.Quote,
		})
	}
	return out
}

func filterCitationIDs(ids []string, allowed map[string]models.Passage) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := allowed[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// pageRange renders the span of cited pages as "p3" or "p3-7".
func pageRange(citationIDs []string, allowed map[string]models.Passage) string {
	var pages []int
	for _, id := range citationIDs {
		if p, ok := allowed[id]; ok {
			pages = append(pages, p.PageNumber)
		}
	}
	if len(pages) == 0 {
		return ""
	}
	sort.Ints(pages)
	if pages[0] == pages[len(pages)-1] {
		return fmt.Sprintf("p%d", pages[0])
	}
	return fmt.Sprintf("p%d-%d", pages[0], pages[len(pages)-1])
}

// samplePassages picks up to limit passages evenly spaced across the
// document, always including the first.
func samplePassages(passages []models.Passage, limit int) []models.Passage {
	if limit <= 0 || len(passages) <= limit {
		return passages
	}
	sample := make([]models.Passage, 0, limit)
	step := float64(len(passages)) / float64(limit)
	for i := 0; i < limit; i++ {
		sample = append(sample, passages[int(float64(i)*step)])
	}
	return sample
}
