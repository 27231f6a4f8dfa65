package generation

import (
	"fmt"
	"strings"

	"github.com/studybuddy/backend/internal/retrieval"
)

const outlineSystemPrompt = `You are a curriculum designer. Given passages extracted from course material, produce a study outline as JSON with this exact shape:
{"modules":[{"title":"...","lessons":[{"title":"..."}]}]}
Rules:
- Organize the material into 2-6 modules, each with 1-6 lessons.
- Titles must describe content actually present in the passages.
- Respond with JSON only, no prose.`

const conceptsSystemPrompt = `You are a study assistant. Given passages from course material, extract the key concepts for one lesson as JSON with this exact shape:
{"concepts":[{"title":"...","summary":"...","citationIds":["..."]}]}
Rules:
- Every concept must cite at least one passage id from the provided context, in citationIds.
- Only cite passage ids that appear in the context. Never invent ids.
- Summaries must be grounded in the cited passages.
- Respond with JSON only, no prose.`

const flashcardsSystemPrompt = `You are a study assistant creating flashcards. Given passages from course material, produce flashcards as JSON with this exact shape:
{"cards":[{"prompt":"...","answer":"...","citations":[{"passageId":"...","quote":"..."}]}]}
Rules:
- Every card must cite at least one passage id from the provided context.
- Only cite passage ids that appear in the context. Never invent ids.
- Prompts and answers must each be a complete sentence or question.
- Respond with JSON only, no prose.`

const quizSystemPrompt = `You are a study assistant writing a quiz. Given passages from course material, produce 3 to 5 multiple-choice questions as JSON with this exact shape:
{"questions":[{"question":"...","options":["...","...","...","..."],"answer":"...","citations":[{"passageId":"..."}]}]}
Rules:
- Each question has exactly 4 options and the answer must be one of them verbatim.
- Every question must cite at least one passage id from the provided context.
- Only cite passage ids that appear in the context. Never invent ids.
- Respond with JSON only, no prose.`

const explanationSystemPrompt = `You are a patient tutor. Given passages from course material, write a layered explanation of the concept as JSON with this exact shape:
{"overview":"...","sections":[{"heading":"...","body":"...","citations":[{"passageId":"..."}]}],"scaffoldCards":[{"prompt":"...","answer":"...","citations":[{"passageId":"..."}]}]}
Rules:
- 2 to 6 scaffoldCards that check understanding of the explanation.
- Every section and card must cite passage ids from the provided context.
- Only cite passage ids that appear in the context. Never invent ids.
- Respond with JSON only, no prose.`

const askSystemPrompt = `You are a study assistant answering questions about course material. Use only the provided passages. Produce JSON with this exact shape:
{"answer":"...","citations":[{"passageId":"...","quote":"..."}]}
Rules:
- Answer only from the passages. If they do not contain the answer, say so in the answer field and return an empty citations array.
- Each citation's quote must be a short verbatim excerpt from the cited passage.
- Only cite passage ids that appear in the context. Never invent ids.
- Respond with JSON only, no prose.`

// buildContextBlock renders retrieved passages into the prompt context
// the model cites from. The id printed here is the only currency the
// model has for citations.
func buildContextBlock(results []retrieval.Result) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "Passage %s (page %d): %s\n\n", r.Passage.ID, r.Passage.PageNumber, r.Passage.Content)
	}
	return b.String()
}

func outlineUserPrompt(courseTitle string, results []retrieval.Result) string {
	return fmt.Sprintf("Course: %s\n\nPassages:\n%s\nProduce the outline.", courseTitle, buildContextBlock(results))
}

func conceptsUserPrompt(moduleTitle, lessonTitle string, results []retrieval.Result) string {
	return fmt.Sprintf("Module: %s\nLesson: %s\n\nPassages:\n%s\nExtract the lesson's key concepts.", moduleTitle, lessonTitle, buildContextBlock(results))
}

func flashcardsUserPrompt(conceptTitle, conceptSummary string, results []retrieval.Result) string {
	return fmt.Sprintf("Concept: %s\nSummary: %s\n\nPassages:\n%s\nProduce flashcards for this concept.", conceptTitle, conceptSummary, buildContextBlock(results))
}

func quizUserPrompt(lessonTitle string, results []retrieval.Result) string {
	return fmt.Sprintf("Lesson: %s\n\nPassages:\n%s\nProduce the quiz.", lessonTitle, buildContextBlock(results))
}

func explanationUserPrompt(conceptTitle string, results []retrieval.Result) string {
	return fmt.Sprintf("Concept: %s\n\nPassages:\n%s\nExplain this concept.", conceptTitle, buildContextBlock(results))
}

func askUserPrompt(question string, results []retrieval.Result) string {
	return fmt.Sprintf("Question: %s\n\nPassages:\n%s\nAnswer the question.", question, buildContextBlock(results))
}
