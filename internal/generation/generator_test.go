package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/llm"
	"github.com/studybuddy/backend/internal/retrieval"
	"github.com/studybuddy/backend/internal/storage/models"
)

type fakeCompleter struct {
	response string
	err      error
	lastReq  llm.CompletionRequest
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.lastReq = req
	return f.response, f.err
}

type fakeSearcher struct {
	results []retrieval.Result
	err     error
}

func (f *fakeSearcher) Retrieve(ctx context.Context, courseID, query string, topK int) ([]retrieval.Result, error) {
	return f.results, f.err
}

func (f *fakeSearcher) RetrieveFromDocuments(ctx context.Context, documentIDs []string, query string, topK int) ([]retrieval.Result, error) {
	return f.results, f.err
}

func lessonResults() []retrieval.Result {
	return []retrieval.Result{
		{Passage: models.Passage{ID: "p-1", DocumentID: "doc-1", PageNumber: 3, Content: "The dot product measures projection."}, Score: 0.9},
		{Passage: models.Passage{ID: "p-2", DocumentID: "doc-1", PageNumber: 7, Content: "Orthogonal vectors have zero dot product."}, Score: 0.8},
	}
}

func newTestGenerator(completer *fakeCompleter, searcher *fakeSearcher) *Generator {
	return NewGenerator(completer, searcher, 16, 16, 25)
}

func TestGenerateOutline(t *testing.T) {
	completer := &fakeCompleter{response: `{"modules":[{"title":"Vectors","lessons":[{"title":"Dot product"},{"title":"Cross product"}]}]}`}
	g := newTestGenerator(completer, &fakeSearcher{})

	passages := []models.Passage{{ID: "p-1", PageNumber: 1, Content: "intro"}}
	outline, err := g.GenerateOutline(context.Background(), "Linear Algebra", passages)
	require.NoError(t, err)

	require.Len(t, outline.Modules, 1)
	assert.Equal(t, "Vectors", outline.Modules[0].Title)
	assert.Equal(t, []string{"Dot product", "Cross product"}, outline.Modules[0].Lessons)
	assert.Contains(t, completer.lastReq.UserPrompt, "Passage p-1 (page 1)")
}

func TestGenerateOutlineMalformedOutput(t *testing.T) {
	cases := map[string]string{
		"not json":      `modules: vectors`,
		"empty modules": `{"modules":[]}`,
		"empty lessons": `{"modules":[{"title":"Vectors","lessons":[]}]}`,
		"unknown field": `{"modules":[{"title":"Vectors","lessons":[{"title":"x"}]}],"extra":true}`,
	}

	for name, response := range cases {
		t.Run(name, func(t *testing.T) {
			g := newTestGenerator(&fakeCompleter{response: response}, &fakeSearcher{})
			_, err := g.GenerateOutline(context.Background(), "Course", []models.Passage{{ID: "p-1"}})
			assert.ErrorIs(t, err, ErrMalformedModelOutput)
		})
	}
}

func TestGenerateOutlineNoPassages(t *testing.T) {
	g := newTestGenerator(&fakeCompleter{}, &fakeSearcher{})
	_, err := g.GenerateOutline(context.Background(), "Course", nil)
	assert.ErrorIs(t, err, ErrNoGroundedResults)
}

func TestGenerateConceptsFiltersForeignCitations(t *testing.T) {
	completer := &fakeCompleter{response: `{"concepts":[
		{"title":"Dot product","summary":"Measures projection.","citationIds":["p-1","p-hallucinated","p-2"]},
		{"title":"Invented concept","summary":"Not in the material.","citationIds":["p-fake"]}
	]}`}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	concepts, err := g.GenerateConcepts(context.Background(), "course-1", "doc-1", "Module 1", "Vectors")
	require.NoError(t, err)

	require.Len(t, concepts, 1)
	assert.Equal(t, "Dot product", concepts[0].Title)
	assert.Equal(t, []string{"p-1", "p-2"}, concepts[0].CitationIDs)
	assert.Equal(t, "p3-7", concepts[0].PageRange)
	assert.Equal(t, "course-1", concepts[0].CourseID)
	assert.NotEmpty(t, concepts[0].ID)
}

func TestGenerateConceptsDeduplicatesTitles(t *testing.T) {
	completer := &fakeCompleter{response: `{"concepts":[
		{"title":"Dot product","summary":"Measures projection.","citationIds":["p-1"]},
		{"title":"DOT PRODUCT","summary":"A repeated concept.","citationIds":["p-2"]},
		{"title":"Orthogonality","summary":"Zero dot product.","citationIds":["p-2"]}
	]}`}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	concepts, err := g.GenerateConcepts(context.Background(), "course-1", "doc-1", "Module 1", "Vectors")
	require.NoError(t, err)

	require.Len(t, concepts, 2)
	assert.Equal(t, "Dot product", concepts[0].Title)
	assert.Equal(t, "Orthogonality", concepts[1].Title)
}

func TestGenerateConceptsAllUngrounded(t *testing.T) {
	completer := &fakeCompleter{response: `{"concepts":[{"title":"X","summary":"Y is true.","citationIds":["p-fake"]}]}`}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	_, err := g.GenerateConcepts(context.Background(), "course-1", "doc-1", "M", "L")
	assert.ErrorIs(t, err, ErrNoGroundedResults)
}

func TestGenerateConceptsCompletionUnavailable(t *testing.T) {
	completer := &fakeCompleter{err: llm.ErrCompletionUnavailable}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	_, err := g.GenerateConcepts(context.Background(), "course-1", "doc-1", "M", "L")
	assert.ErrorIs(t, err, llm.ErrCompletionUnavailable)
}

func TestGenerateFlashcardsDeduplicates(t *testing.T) {
	completer := &fakeCompleter{response: `{"cards":[
		{"prompt":"What does the dot product measure?","answer":"The projection of one vector.","citations":[{"passageId":"p-1","quote":"measures projection"}]},
		{"prompt":"WHAT DOES THE DOT PRODUCT MEASURE?","answer":"the projection of one vector.","citations":[{"passageId":"p-2"}]},
		{"prompt":"When is the dot product zero?","answer":"When the vectors are orthogonal.","citations":[{"passageId":"p-2"}]}
	]}`}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	concept := models.Concept{ID: "c-1", DocumentID: "doc-1", Title: "Dot product", Summary: "Projection."}
	cards, err := g.GenerateFlashcards(context.Background(), concept)
	require.NoError(t, err)

	require.Len(t, cards, 2)
	assert.Equal(t, "What does the dot product measure?", cards[0].Prompt)
	assert.Equal(t, "c-1", cards[0].ConceptID)
	assert.False(t, cards[0].IsScaffold)

	require.Len(t, cards[0].Citations, 1)
	assert.Equal(t, 3, cards[0].Citations[0].PageNumber)
	assert.Equal(t, "measures projection", cards[0].Citations[0].Quote)
}

func TestGenerateFlashcardsDropsUncitedCards(t *testing.T) {
	completer := &fakeCompleter{response: `{"cards":[
		{"prompt":"A fabricated question here?","answer":"A fabricated answer here.","citations":[{"passageId":"p-fake"}]}
	]}`}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	_, err := g.GenerateFlashcards(context.Background(), models.Concept{ID: "c-1", DocumentID: "doc-1"})
	assert.ErrorIs(t, err, ErrNoGroundedResults)
}

func TestGenerateFlashcardsRejectsShortText(t *testing.T) {
	completer := &fakeCompleter{response: `{"cards":[{"prompt":"Why?","answer":"Because.","citations":[{"passageId":"p-1"}]}]}`}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	_, err := g.GenerateFlashcards(context.Background(), models.Concept{ID: "c-1", DocumentID: "doc-1"})
	assert.ErrorIs(t, err, ErrMalformedModelOutput)
}

func quizJSON(questions string) string {
	return `{"questions":[` + questions + `]}`
}

func quizQuestion(text, cite string) string {
	return `{"question":"` + text + `","options":["Dot product","Cross product","Transpose","Trace"],"answer":"Dot product","citations":[{"passageId":"` + cite + `"}]}`
}

func validQuestion(cite string) string {
	return quizQuestion("Which operation yields a scalar?", cite)
}

func TestGenerateQuiz(t *testing.T) {
	completer := &fakeCompleter{response: quizJSON(
		quizQuestion("Which operation yields a scalar?", "p-1") + "," +
			quizQuestion("Which operation is commutative?", "p-2") + "," +
			quizQuestion("Which operation measures projection?", "p-1"),
	)}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	quiz, err := g.GenerateQuiz(context.Background(), "course-1", "doc-1", "Module 1", "Vectors")
	require.NoError(t, err)

	assert.Len(t, quiz.Questions, 3)
	assert.Equal(t, "Vectors", quiz.LessonTitle)
	assert.Equal(t, 3, quiz.Questions[0].Citations[0].PageNumber)
}

func TestGenerateQuizDeduplicatesQuestions(t *testing.T) {
	completer := &fakeCompleter{response: quizJSON(
		quizQuestion("Which operation yields a scalar?", "p-1") + "," +
			quizQuestion("WHICH OPERATION YIELDS A SCALAR?", "p-2") + "," +
			quizQuestion("Which operation is commutative?", "p-2"),
	)}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	quiz, err := g.GenerateQuiz(context.Background(), "course-1", "doc-1", "M", "L")
	require.NoError(t, err)

	require.Len(t, quiz.Questions, 2)
	assert.Equal(t, "Which operation yields a scalar?", quiz.Questions[0].Question)
	assert.Equal(t, "Which operation is commutative?", quiz.Questions[1].Question)
}

func TestGenerateQuizRejectsWrongQuestionCount(t *testing.T) {
	completer := &fakeCompleter{response: quizJSON(validQuestion("p-1") + "," + validQuestion("p-2"))}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	_, err := g.GenerateQuiz(context.Background(), "course-1", "doc-1", "M", "L")
	assert.ErrorIs(t, err, ErrMalformedModelOutput)
}

func TestGenerateQuizRejectsAnswerOutsideOptions(t *testing.T) {
	bad := `{"question":"Q?","options":["a","b","c","d"],"answer":"e","citations":[{"passageId":"p-1"}]}`
	completer := &fakeCompleter{response: quizJSON(validQuestion("p-1") + "," + validQuestion("p-2") + "," + bad)}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	_, err := g.GenerateQuiz(context.Background(), "course-1", "doc-1", "M", "L")
	assert.ErrorIs(t, err, ErrMalformedModelOutput)
}

func explanationJSON(scaffoldCount int) string {
	cards := ""
	for i := 0; i < scaffoldCount; i++ {
		if i > 0 {
			cards += ","
		}
		cards += `{"prompt":"Scaffold question number ` + string(rune('1'+i)) + `?","answer":"A grounded scaffold answer.","citations":[{"passageId":"p-1"}]}`
	}
	return `{"overview":"The dot product, step by step.","sections":[{"heading":"Definition","body":"It projects one vector onto another.","citations":[{"passageId":"p-1"}]}],"scaffoldCards":[` + cards + `]}`
}

func TestGenerateExplanation(t *testing.T) {
	completer := &fakeCompleter{response: explanationJSON(3)}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	result, err := g.GenerateExplanation(context.Background(), models.Concept{ID: "c-1", DocumentID: "doc-1", Title: "Dot product"})
	require.NoError(t, err)

	assert.Equal(t, "The dot product, step by step.", result.Content.Overview)
	require.Len(t, result.Content.Sections, 1)
	assert.Equal(t, 3, result.Content.Sections[0].Citations[0].PageNumber)

	require.Len(t, result.ScaffoldCards, 3)
	for _, card := range result.ScaffoldCards {
		assert.True(t, card.IsScaffold)
		assert.Equal(t, "c-1", card.ConceptID)
	}
}

func TestGenerateExplanationRejectsScaffoldCount(t *testing.T) {
	completer := &fakeCompleter{response: explanationJSON(1)}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	_, err := g.GenerateExplanation(context.Background(), models.Concept{ID: "c-1", DocumentID: "doc-1"})
	assert.ErrorIs(t, err, ErrMalformedModelOutput)
}

func TestAsk(t *testing.T) {
	completer := &fakeCompleter{response: `{"answer":"Orthogonal vectors have zero dot product.","citations":[{"passageId":"p-2","quote":"zero dot product"},{"passageId":"p-fake","quote":"made up"}]}`}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	result, err := g.Ask(context.Background(), "course-1", "When is the dot product zero?")
	require.NoError(t, err)

	assert.Equal(t, "Orthogonal vectors have zero dot product.", result.Answer)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "p-2", result.Citations[0].PassageID)
	assert.Equal(t, 7, result.Citations[0].PageNumber)
}

func TestAskHonestNoAnswer(t *testing.T) {
	completer := &fakeCompleter{response: `{"answer":"The material does not cover this.","citations":[]}`}
	g := newTestGenerator(completer, &fakeSearcher{results: lessonResults()})

	result, err := g.Ask(context.Background(), "course-1", "What is a monad?")
	require.NoError(t, err)
	assert.Empty(t, result.Citations)
}

func TestAskRetrievalFailurePropagates(t *testing.T) {
	searchErr := errors.New("search down")
	g := newTestGenerator(&fakeCompleter{}, &fakeSearcher{err: searchErr})

	_, err := g.Ask(context.Background(), "course-1", "q")
	assert.ErrorIs(t, err, searchErr)
}

func TestSamplePassages(t *testing.T) {
	passages := make([]models.Passage, 100)
	for i := range passages {
		passages[i].SeqIndex = i
	}

	sample := samplePassages(passages, 25)
	require.Len(t, sample, 25)
	assert.Equal(t, 0, sample[0].SeqIndex)
	assert.Equal(t, 96, sample[24].SeqIndex)

	small := samplePassages(passages[:10], 25)
	assert.Len(t, small, 10)
}
