package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/pkg/logger"
)

var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		course_id TEXT,
		title TEXT NOT NULL,
		original_filename TEXT,
		storage_path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error_message TEXT,
		page_count INTEGER DEFAULT 0,
		passage_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_documents_course ON documents(course_id);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		seq_index INTEGER NOT NULL,
		page_number INTEGER NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		embedded INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_passages_document ON passages(document_id, seq_index);

	CREATE TABLE IF NOT EXISTS concepts (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		document_id TEXT,
		module_title TEXT,
		lesson_title TEXT,
		title TEXT NOT NULL,
		summary TEXT,
		citation_ids TEXT,
		page_range TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_concepts_course ON concepts(course_id);
	CREATE INDEX IF NOT EXISTS idx_concepts_lesson ON concepts(course_id, lesson_title);

	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		concept_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		answer TEXT NOT NULL,
		citations TEXT,
		is_scaffold INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (concept_id) REFERENCES concepts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_cards_concept ON cards(concept_id);

	CREATE TABLE IF NOT EXISTS quizzes (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		module_title TEXT,
		lesson_title TEXT NOT NULL,
		questions TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_quizzes_lesson ON quizzes(course_id, lesson_title);

	CREATE TABLE IF NOT EXISTS explanations (
		user_id TEXT NOT NULL,
		concept_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, concept_id),
		FOREIGN KEY (concept_id) REFERENCES concepts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS srs_state (
		user_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		ease_factor INTEGER NOT NULL DEFAULT 2500,
		interval_days INTEGER NOT NULL DEFAULT 0,
		repetitions INTEGER NOT NULL DEFAULT 0,
		due_at INTEGER NOT NULL,
		last_reviewed_at INTEGER,
		PRIMARY KEY (user_id, item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_srs_due ON srs_state(user_id, due_at);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		rating TEXT NOT NULL,
		scheduled_interval_days INTEGER,
		actual_interval_days INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_user ON reviews(user_id, created_at);

	CREATE TABLE IF NOT EXISTS course_shares (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		token TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		revoked_at INTEGER,
		FOREIGN KEY (course_id) REFERENCES courses(id) ON DELETE CASCADE
	);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertCourse(course *models.Course) error {
	query := `INSERT INTO courses (id, title, description, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, course.ID, course.Title, course.Description, course.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert course: %w", err)
	}

	return nil
}

func (c *Client) GetCourse(id string) (*models.Course, error) {
	query := `SELECT id, title, COALESCE(description, ''), created_at FROM courses WHERE id = ?`

	var course models.Course
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&course.ID, &course.Title, &course.Description, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}

	course.CreatedAt = time.Unix(createdAt, 0)
	return &course, nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, course_id, title, original_filename, storage_path, status, page_count, passage_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		nullString(doc.CourseID),
		doc.Title,
		doc.OriginalFilename,
		doc.StoragePath,
		string(doc.Status),
		doc.PageCount,
		doc.PassageCount,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("title", doc.Title))
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `
		SELECT id, COALESCE(course_id, ''), title, COALESCE(original_filename, ''), storage_path,
			status, COALESCE(error_message, ''), page_count, passage_count, created_at, updated_at
		FROM documents WHERE id = ?
	`

	var doc models.Document
	var status string
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID,
		&doc.CourseID,
		&doc.Title,
		&doc.OriginalFilename,
		&doc.StoragePath,
		&status,
		&doc.ErrorMessage,
		&doc.PageCount,
		&doc.PassageCount,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.Status = models.DocumentStatus(status)
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)

	return &doc, nil
}

// SetDocumentStatus writes the lifecycle transition consumed by
// status-polling collaborators. errorMessage is only meaningful for
// the failed status.
func (c *Client) SetDocumentStatus(id string, status models.DocumentStatus, errorMessage string) error {
	query := `UPDATE documents SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`

	_, err := c.db.Exec(query, string(status), nullString(errorMessage), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set document status: %w", err)
	}

	logger.Info("Document status updated",
		zap.String("doc_id", id),
		zap.String("status", string(status)),
	)
	return nil
}

func (c *Client) MarkDocumentReady(id string, pageCount, passageCount int) error {
	query := `
		UPDATE documents
		SET status = 'ready', error_message = NULL, page_count = ?, passage_count = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := c.db.Exec(query, pageCount, passageCount, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark document ready: %w", err)
	}

	logger.Info("Document ready",
		zap.String("doc_id", id),
		zap.Int("pages", pageCount),
		zap.Int("passages", passageCount),
	)
	return nil
}

// ListReadyDocumentIDs returns the ids of a course's documents in the
// ready lifecycle state; this is the retrieval scope filter.
func (c *Client) ListReadyDocumentIDs(courseID string) ([]string, error) {
	query := `SELECT id FROM documents WHERE course_id = ? AND status = 'ready' ORDER BY created_at`

	rows, err := c.db.Query(query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ready documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (c *Client) FirstReadyDocumentID(courseID string) (string, error) {
	query := `SELECT id FROM documents WHERE course_id = ? AND status = 'ready' ORDER BY created_at LIMIT 1`

	var id string
	err := c.db.QueryRow(query, courseID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to find ready document: %w", err)
	}
	return id, nil
}

// ReplacePassages deletes any prior passages for the document and
// inserts the new batch in one transaction, so re-ingestion is
// idempotent: a re-run always ends with exactly the new set.
func (c *Client) ReplacePassages(documentID string, passages []models.Passage) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM passages WHERE document_id = ?`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete prior passages: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO passages (id, document_id, seq_index, page_number, content, token_count, embedded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range passages {
		embedded := 0
		if p.Embedded {
			embedded = 1
		}
		_, err = stmt.Exec(p.ID, p.DocumentID, p.SeqIndex, p.PageNumber, p.Content, p.TokenCount, embedded, p.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert passage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit passages: %w", err)
	}

	logger.Debug("Passages replaced",
		zap.String("doc_id", documentID),
		zap.Int("count", len(passages)),
	)
	return nil
}

func (c *Client) MarkPassagesEmbedded(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE passages SET embedded = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("failed to mark passage embedded: %w", err)
		}
	}

	return tx.Commit()
}

func (c *Client) ListPassagesByDocument(documentID string) ([]models.Passage, error) {
	query := `
		SELECT id, document_id, seq_index, page_number, content, token_count, embedded, created_at
		FROM passages WHERE document_id = ? ORDER BY seq_index
	`

	rows, err := c.db.Query(query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passages: %w", err)
	}
	defer rows.Close()

	return scanPassages(rows)
}

func (c *Client) GetPassagesByIDs(ids []string) ([]models.Passage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, document_id, seq_index, page_number, content, token_count, embedded, created_at
		FROM passages WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY seq_index
	`

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get passages: %w", err)
	}
	defer rows.Close()

	return scanPassages(rows)
}

func (c *Client) CountPassages(documentID string) (int, error) {
	var count int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM passages WHERE document_id = ?`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count passages: %w", err)
	}
	return count, nil
}

func scanPassages(rows *sql.Rows) ([]models.Passage, error) {
	var passages []models.Passage
	for rows.Next() {
		var p models.Passage
		var embedded int
		var createdAt int64

		err := rows.Scan(&p.ID, &p.DocumentID, &p.SeqIndex, &p.PageNumber, &p.Content, &p.TokenCount, &embedded, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		p.Embedded = embedded == 1
		p.CreatedAt = time.Unix(createdAt, 0)
		passages = append(passages, p)
	}

	return passages, rows.Err()
}

func (c *Client) DeleteConceptsForLesson(courseID, moduleTitle, lessonTitle string) error {
	query := `DELETE FROM concepts WHERE course_id = ? AND lesson_title = ?`
	args := []interface{}{courseID, lessonTitle}
	if moduleTitle != "" {
		query += ` AND module_title = ?`
		args = append(args, moduleTitle)
	}

	_, err := c.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete concepts: %w", err)
	}
	return nil
}

func (c *Client) DeleteConceptsForDocument(courseID, documentID string) error {
	_, err := c.db.Exec(`DELETE FROM concepts WHERE course_id = ? AND document_id = ?`, courseID, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete concepts: %w", err)
	}
	return nil
}

func (c *Client) InsertConcepts(concepts []models.Concept) error {
	if len(concepts) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO concepts (id, course_id, document_id, module_title, lesson_title, title, summary, citation_ids, page_range, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, concept := range concepts {
		citationsJSON, err := json.Marshal(concept.CitationIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal citation ids: %w", err)
		}

		_, err = stmt.Exec(
			concept.ID,
			concept.CourseID,
			nullString(concept.DocumentID),
			concept.ModuleTitle,
			concept.LessonTitle,
			concept.Title,
			concept.Summary,
			string(citationsJSON),
			concept.PageRange,
			concept.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert concept: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit concepts: %w", err)
	}

	logger.Info("Concepts inserted", zap.Int("count", len(concepts)))
	return nil
}

func (c *Client) GetConcept(id string) (*models.Concept, error) {
	query := `
		SELECT id, course_id, COALESCE(document_id, ''), COALESCE(module_title, ''), COALESCE(lesson_title, ''),
			title, COALESCE(summary, ''), COALESCE(citation_ids, '[]'), COALESCE(page_range, ''), created_at
		FROM concepts WHERE id = ?
	`

	var concept models.Concept
	var citationsJSON string
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(
		&concept.ID,
		&concept.CourseID,
		&concept.DocumentID,
		&concept.ModuleTitle,
		&concept.LessonTitle,
		&concept.Title,
		&concept.Summary,
		&citationsJSON,
		&concept.PageRange,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}

	if err := json.Unmarshal([]byte(citationsJSON), &concept.CitationIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal citation ids: %w", err)
	}
	concept.CreatedAt = time.Unix(createdAt, 0)

	return &concept, nil
}

func (c *Client) ListConceptsByLesson(courseID, moduleTitle, lessonTitle string) ([]models.Concept, error) {
	query := `
		SELECT id, course_id, COALESCE(document_id, ''), COALESCE(module_title, ''), COALESCE(lesson_title, ''),
			title, COALESCE(summary, ''), COALESCE(citation_ids, '[]'), COALESCE(page_range, ''), created_at
		FROM concepts WHERE course_id = ? AND lesson_title = ?
	`
	args := []interface{}{courseID, lessonTitle}
	if moduleTitle != "" {
		query += ` AND module_title = ?`
		args = append(args, moduleTitle)
	}
	query += ` ORDER BY created_at`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	defer rows.Close()

	var concepts []models.Concept
	for rows.Next() {
		var concept models.Concept
		var citationsJSON string
		var createdAt int64

		err := rows.Scan(
			&concept.ID,
			&concept.CourseID,
			&concept.DocumentID,
			&concept.ModuleTitle,
			&concept.LessonTitle,
			&concept.Title,
			&concept.Summary,
			&citationsJSON,
			&concept.PageRange,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(citationsJSON), &concept.CitationIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal citation ids: %w", err)
		}
		concept.CreatedAt = time.Unix(createdAt, 0)
		concepts = append(concepts, concept)
	}

	return concepts, rows.Err()
}

// DeleteCardsForConcept removes the concept's cards of one kind, so
// regenerating flashcards leaves scaffold cards (and their review
// state) untouched, and vice versa.
func (c *Client) DeleteCardsForConcept(conceptID string, scaffold bool) error {
	isScaffold := 0
	if scaffold {
		isScaffold = 1
	}

	_, err := c.db.Exec(`DELETE FROM cards WHERE concept_id = ? AND is_scaffold = ?`, conceptID, isScaffold)
	if err != nil {
		return fmt.Errorf("failed to delete cards: %w", err)
	}
	return nil
}

func (c *Client) InsertCards(cards []models.Card) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO cards (id, concept_id, prompt, answer, citations, is_scaffold, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, card := range cards {
		citationsJSON, err := json.Marshal(card.Citations)
		if err != nil {
			return fmt.Errorf("failed to marshal citations: %w", err)
		}

		isScaffold := 0
		if card.IsScaffold {
			isScaffold = 1
		}

		_, err = stmt.Exec(card.ID, card.ConceptID, card.Prompt, card.Answer, string(citationsJSON), isScaffold, card.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert card: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cards: %w", err)
	}

	logger.Info("Cards inserted", zap.Int("count", len(cards)))
	return nil
}

func (c *Client) GetCard(id string) (*models.Card, error) {
	query := `
		SELECT id, concept_id, prompt, answer, COALESCE(citations, '[]'), is_scaffold, created_at
		FROM cards WHERE id = ?
	`

	var card models.Card
	var citationsJSON string
	var isScaffold int
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&card.ID, &card.ConceptID, &card.Prompt, &card.Answer, &citationsJSON, &isScaffold, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}

	if err := json.Unmarshal([]byte(citationsJSON), &card.Citations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
	}
	card.IsScaffold = isScaffold == 1
	card.CreatedAt = time.Unix(createdAt, 0)

	return &card, nil
}

func (c *Client) ListCardsByConcepts(conceptIDs []string) ([]models.Card, error) {
	if len(conceptIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, concept_id, prompt, answer, COALESCE(citations, '[]'), is_scaffold, created_at
		FROM cards WHERE concept_id IN (` + placeholders(len(conceptIDs)) + `) ORDER BY created_at
	`

	args := make([]interface{}, len(conceptIDs))
	for i, id := range conceptIDs {
		args[i] = id
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	return scanCards(rows)
}

func scanCards(rows *sql.Rows) ([]models.Card, error) {
	var cards []models.Card
	for rows.Next() {
		var card models.Card
		var citationsJSON string
		var isScaffold int
		var createdAt int64

		err := rows.Scan(&card.ID, &card.ConceptID, &card.Prompt, &card.Answer, &citationsJSON, &isScaffold, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(citationsJSON), &card.Citations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
		}
		card.IsScaffold = isScaffold == 1
		card.CreatedAt = time.Unix(createdAt, 0)
		cards = append(cards, card)
	}

	return cards, rows.Err()
}

func (c *Client) DeleteQuizzesForLesson(courseID, moduleTitle, lessonTitle string) error {
	query := `DELETE FROM quizzes WHERE course_id = ? AND lesson_title = ?`
	args := []interface{}{courseID, lessonTitle}
	if moduleTitle != "" {
		query += ` AND module_title = ?`
		args = append(args, moduleTitle)
	}

	_, err := c.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete quizzes: %w", err)
	}
	return nil
}

func (c *Client) InsertQuiz(quiz *models.Quiz) error {
	questionsJSON, err := json.Marshal(quiz.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal questions: %w", err)
	}

	query := `
		INSERT INTO quizzes (id, course_id, module_title, lesson_title, questions, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(query, quiz.ID, quiz.CourseID, quiz.ModuleTitle, quiz.LessonTitle, string(questionsJSON), quiz.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert quiz: %w", err)
	}

	logger.Info("Quiz inserted",
		zap.String("quiz_id", quiz.ID),
		zap.String("lesson", quiz.LessonTitle),
		zap.Int("questions", len(quiz.Questions)),
	)
	return nil
}

func (c *Client) GetQuizByLesson(courseID, moduleTitle, lessonTitle string) (*models.Quiz, error) {
	query := `
		SELECT id, course_id, COALESCE(module_title, ''), lesson_title, questions, created_at
		FROM quizzes WHERE course_id = ? AND lesson_title = ?
	`
	args := []interface{}{courseID, lessonTitle}
	if moduleTitle != "" {
		query += ` AND module_title = ?`
		args = append(args, moduleTitle)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var quiz models.Quiz
	var questionsJSON string
	var createdAt int64

	err := c.db.QueryRow(query, args...).Scan(&quiz.ID, &quiz.CourseID, &quiz.ModuleTitle, &quiz.LessonTitle, &questionsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quiz: %w", err)
	}

	if err := json.Unmarshal([]byte(questionsJSON), &quiz.Questions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal questions: %w", err)
	}
	quiz.CreatedAt = time.Unix(createdAt, 0)

	return &quiz, nil
}

func (c *Client) UpsertExplanation(exp *models.Explanation) error {
	query := `
		INSERT INTO explanations (user_id, concept_id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, concept_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(query, exp.UserID, exp.ConceptID, string(exp.Payload), exp.CreatedAt.Unix(), exp.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert explanation: %w", err)
	}

	return nil
}

func (c *Client) GetExplanation(userID, conceptID string) (*models.Explanation, error) {
	query := `SELECT user_id, concept_id, payload, created_at, updated_at FROM explanations WHERE user_id = ? AND concept_id = ?`

	var exp models.Explanation
	var payload string
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, userID, conceptID).Scan(&exp.UserID, &exp.ConceptID, &payload, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get explanation: %w", err)
	}

	exp.Payload = []byte(payload)
	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)

	return &exp, nil
}

func (c *Client) GetReviewState(userID, itemID string) (*models.ReviewState, error) {
	query := `
		SELECT user_id, item_id, ease_factor, interval_days, repetitions, due_at, last_reviewed_at
		FROM srs_state WHERE user_id = ? AND item_id = ?
	`

	var state models.ReviewState
	var dueAt int64
	var lastReviewedAt sql.NullInt64

	err := c.db.QueryRow(query, userID, itemID).Scan(
		&state.UserID,
		&state.ItemID,
		&state.EaseFactor,
		&state.IntervalDays,
		&state.Repetitions,
		&dueAt,
		&lastReviewedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get review state: %w", err)
	}

	state.DueAt = time.Unix(dueAt, 0)
	if lastReviewedAt.Valid {
		t := time.Unix(lastReviewedAt.Int64, 0)
		state.LastReviewedAt = &t
	}

	return &state, nil
}

// RecordReview persists the advanced state and its append-only event
// in one transaction. The transactional upsert keyed by (user, item)
// serializes concurrent reviews of the same pair.
func (c *Client) RecordReview(ctx context.Context, state models.ReviewState, event models.ReviewEvent) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lastReviewedAt interface{}
	if state.LastReviewedAt != nil {
		lastReviewedAt = state.LastReviewedAt.Unix()
	}

	_, err = tx.Exec(`
		INSERT INTO srs_state (user_id, item_id, ease_factor, interval_days, repetitions, due_at, last_reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, item_id) DO UPDATE SET
			ease_factor = excluded.ease_factor,
			interval_days = excluded.interval_days,
			repetitions = excluded.repetitions,
			due_at = excluded.due_at,
			last_reviewed_at = excluded.last_reviewed_at
	`, state.UserID, state.ItemID, state.EaseFactor, state.IntervalDays, state.Repetitions, state.DueAt.Unix(), lastReviewedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert review state: %w", err)
	}

	var actualInterval interface{}
	if event.ActualIntervalDays != nil {
		actualInterval = *event.ActualIntervalDays
	}

	_, err = tx.Exec(`
		INSERT INTO reviews (id, user_id, item_id, rating, scheduled_interval_days, actual_interval_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.UserID, event.ItemID, event.Rating, event.ScheduledIntervalDays, actualInterval, event.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert review event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review: %w", err)
	}

	logger.Info("Review recorded",
		zap.String("user_id", event.UserID),
		zap.String("item_id", event.ItemID),
		zap.String("rating", event.Rating),
		zap.Int("scheduled_days", event.ScheduledIntervalDays),
	)
	return nil
}

type DueCard struct {
	Card         models.Card         `json:"card"`
	ConceptTitle string              `json:"conceptTitle"`
	ModuleTitle  string              `json:"moduleTitle"`
	LessonTitle  string              `json:"lessonTitle"`
	State        *models.ReviewState `json:"state,omitempty"`
}

// ListDueCards returns cards whose review state is due, plus cards
// never reviewed (no state row yet), oldest due first.
func (c *Client) ListDueCards(userID string, now time.Time, limit int) ([]DueCard, error) {
	query := `
		SELECT cards.id, cards.concept_id, cards.prompt, cards.answer, COALESCE(cards.citations, '[]'),
			cards.is_scaffold, cards.created_at,
			concepts.title, COALESCE(concepts.module_title, ''), COALESCE(concepts.lesson_title, ''),
			srs_state.ease_factor, srs_state.interval_days, srs_state.repetitions, srs_state.due_at, srs_state.last_reviewed_at
		FROM cards
		INNER JOIN concepts ON concepts.id = cards.concept_id
		LEFT JOIN srs_state ON srs_state.item_id = cards.id AND srs_state.user_id = ?
		WHERE srs_state.item_id IS NULL OR srs_state.due_at <= ?
		ORDER BY COALESCE(srs_state.due_at, ?), cards.created_at
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, now.Unix(), now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due cards: %w", err)
	}
	defer rows.Close()

	var due []DueCard
	for rows.Next() {
		var d DueCard
		var citationsJSON string
		var isScaffold int
		var createdAt int64
		var easeFactor, intervalDays, repetitions sql.NullInt64
		var dueAt, lastReviewedAt sql.NullInt64

		err := rows.Scan(
			&d.Card.ID, &d.Card.ConceptID, &d.Card.Prompt, &d.Card.Answer, &citationsJSON,
			&isScaffold, &createdAt,
			&d.ConceptTitle, &d.ModuleTitle, &d.LessonTitle,
			&easeFactor, &intervalDays, &repetitions, &dueAt, &lastReviewedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(citationsJSON), &d.Card.Citations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
		}
		d.Card.IsScaffold = isScaffold == 1
		d.Card.CreatedAt = time.Unix(createdAt, 0)

		if easeFactor.Valid {
			state := models.ReviewState{
				UserID:       userID,
				ItemID:       d.Card.ID,
				EaseFactor:   int(easeFactor.Int64),
				IntervalDays: int(intervalDays.Int64),
				Repetitions:  int(repetitions.Int64),
				DueAt:        time.Unix(dueAt.Int64, 0),
			}
			if lastReviewedAt.Valid {
				t := time.Unix(lastReviewedAt.Int64, 0)
				state.LastReviewedAt = &t
			}
			d.State = &state
		}

		due = append(due, d)
	}

	return due, rows.Err()
}

func (c *Client) CountDueBetween(userID string, from, to time.Time) (int, error) {
	var count int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM srs_state WHERE user_id = ? AND due_at > ? AND due_at <= ?`,
		userID, from.Unix(), to.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count due states: %w", err)
	}
	return count, nil
}

func (c *Client) CountDueNow(userID string, now time.Time) (int, error) {
	var count int
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM srs_state WHERE user_id = ? AND due_at <= ?`,
		userID, now.Unix(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count due states: %w", err)
	}
	return count, nil
}

func (c *Client) SeedReviewStates(states []models.ReviewState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO srs_state (user_id, item_id, ease_factor, interval_days, repetitions, due_at, last_reviewed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(user_id, item_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range states {
		_, err = stmt.Exec(s.UserID, s.ItemID, s.EaseFactor, s.IntervalDays, s.Repetitions, s.DueAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to seed review state: %w", err)
		}
	}

	return tx.Commit()
}

func (c *Client) InsertCourseShare(share *models.CourseShare) error {
	query := `INSERT INTO course_shares (id, course_id, token, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(query, share.ID, share.CourseID, share.Token, share.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert course share: %w", err)
	}
	return nil
}

func (c *Client) GetCourseShareByToken(token string) (*models.CourseShare, error) {
	query := `SELECT id, course_id, token, created_at, revoked_at FROM course_shares WHERE token = ?`

	var share models.CourseShare
	var createdAt int64
	var revokedAt sql.NullInt64

	err := c.db.QueryRow(query, token).Scan(&share.ID, &share.CourseID, &share.Token, &createdAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course share: %w", err)
	}

	share.CreatedAt = time.Unix(createdAt, 0)
	if revokedAt.Valid {
		t := time.Unix(revokedAt.Int64, 0)
		share.RevokedAt = &t
	}

	return &share, nil
}

func (c *Client) RevokeCourseShare(id string) error {
	_, err := c.db.Exec(`UPDATE course_shares SET revoked_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to revoke course share: %w", err)
	}
	return nil
}

// ListCardsForCourse joins cards with their concept titles for export.
func (c *Client) ListCardsForCourse(courseID string) ([]DueCard, error) {
	query := `
		SELECT cards.id, cards.concept_id, cards.prompt, cards.answer, COALESCE(cards.citations, '[]'),
			cards.is_scaffold, cards.created_at,
			concepts.title, COALESCE(concepts.module_title, ''), COALESCE(concepts.lesson_title, '')
		FROM cards
		INNER JOIN concepts ON concepts.id = cards.concept_id
		WHERE concepts.course_id = ?
		ORDER BY concepts.module_title, concepts.lesson_title, cards.created_at
	`

	rows, err := c.db.Query(query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list course cards: %w", err)
	}
	defer rows.Close()

	var out []DueCard
	for rows.Next() {
		var d DueCard
		var citationsJSON string
		var isScaffold int
		var createdAt int64

		err := rows.Scan(
			&d.Card.ID, &d.Card.ConceptID, &d.Card.Prompt, &d.Card.Answer, &citationsJSON,
			&isScaffold, &createdAt,
			&d.ConceptTitle, &d.ModuleTitle, &d.LessonTitle,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(citationsJSON), &d.Card.Citations); err != nil {
			return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
		}
		d.Card.IsScaffold = isScaffold == 1
		d.Card.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, d)
	}

	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
