package models

import "time"

type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentFailed     DocumentStatus = "failed"
)

type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Document struct {
	ID               string         `json:"id"`
	CourseID         string         `json:"courseId"`
	Title            string         `json:"title"`
	OriginalFilename string         `json:"originalFilename"`
	StoragePath      string         `json:"-"`
	Status           DocumentStatus `json:"status"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	PageCount        int            `json:"pageCount"`
	PassageCount     int            `json:"passageCount"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Passage is a page-attributed slice of extracted document text, the
// unit of retrieval and citation. Immutable once written; the embedding
// vector itself lives in Milvus keyed by the passage id.
type Passage struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	SeqIndex   int       `json:"seqIndex"`
	PageNumber int       `json:"pageNumber"`
	Content    string    `json:"content"`
	TokenCount int       `json:"tokenCount"`
	Embedded   bool      `json:"embedded"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Citation struct {
	PassageID  string `json:"passageId"`
	PageNumber int    `json:"pageNumber"`
	Quote      string `json:"quote,omitempty"`
}

type Concept struct {
	ID          string    `json:"id"`
	CourseID    string    `json:"courseId"`
	DocumentID  string    `json:"documentId"`
	ModuleTitle string    `json:"moduleTitle"`
	LessonTitle string    `json:"lessonTitle"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	CitationIDs []string  `json:"citationIds"`
	PageRange   string    `json:"pageRange"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Card struct {
	ID         string     `json:"id"`
	ConceptID  string     `json:"conceptId"`
	Prompt     string     `json:"prompt"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	IsScaffold bool       `json:"isScaffold"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type QuizQuestion struct {
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

type Quiz struct {
	ID          string         `json:"id"`
	CourseID    string         `json:"courseId"`
	ModuleTitle string         `json:"moduleTitle"`
	LessonTitle string         `json:"lessonTitle"`
	Questions   []QuizQuestion `json:"questions"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type Explanation struct {
	UserID    string    `json:"userId"`
	ConceptID string    `json:"conceptId"`
	Payload   []byte    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ReviewState is the full scheduling state for one (user, card) pair.
// EaseFactor is fixed-point scaled by 1000 (2500 == EF 2.5).
type ReviewState struct {
	UserID         string     `json:"userId"`
	ItemID         string     `json:"itemId"`
	EaseFactor     int        `json:"easeFactor"`
	IntervalDays   int        `json:"intervalDays"`
	Repetitions    int        `json:"repetitions"`
	DueAt          time.Time  `json:"dueAt"`
	LastReviewedAt *time.Time `json:"lastReviewedAt,omitempty"`
}

// ReviewEvent is an append-only log record, written once per review.
type ReviewEvent struct {
	ID                    string    `json:"id"`
	UserID                string    `json:"userId"`
	ItemID                string    `json:"itemId"`
	Rating                string    `json:"rating"`
	ScheduledIntervalDays int       `json:"scheduledIntervalDays"`
	ActualIntervalDays    *int      `json:"actualIntervalDays,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
}

type CourseShare struct {
	ID        string     `json:"id"`
	CourseID  string     `json:"courseId"`
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}
