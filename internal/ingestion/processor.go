package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/chunker"
	"github.com/studybuddy/backend/internal/ingestion/pdftext"
	"github.com/studybuddy/backend/internal/metrics"
	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/vector/milvus"
	"github.com/studybuddy/backend/pkg/config"
	"github.com/studybuddy/backend/pkg/logger"
)

// Store is the slice of the storage client the processor needs.
type Store interface {
	SetDocumentStatus(id string, status models.DocumentStatus, errorMessage string) error
	MarkDocumentReady(id string, pageCount, passageCount int) error
	ReplacePassages(documentID string, passages []models.Passage) error
	MarkPassagesEmbedded(ids []string) error
}

type Embedder interface {
	GenerateBatchEmbeddings(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
}

type VectorStore interface {
	DeleteByDocument(ctx context.Context, documentID string) error
	Insert(ctx context.Context, vectors []milvus.PassageVector) error
}

// StatusListener receives lifecycle transitions as they happen, used
// to stream progress to connected clients. May be nil.
type StatusListener func(documentID string, status models.DocumentStatus, message string)

// AnswerCache is the invalidation surface of the answer cache. Cached
// answers cite passage ids, and every run of the pipeline regenerates
// them, so the course's answers must be dropped once a document turns
// ready. May be nil.
type AnswerCache interface {
	InvalidateCourse(ctx context.Context, courseID string) error
}

type Processor struct {
	store    Store
	vectors  VectorStore
	embedder Embedder
	cfg      config.IngestionConfig
	listener StatusListener
	answers  AnswerCache
}

func NewProcessor(store Store, vectors VectorStore, embedder Embedder, cfg config.IngestionConfig) *Processor {
	return &Processor{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		cfg:      cfg,
	}
}

func (p *Processor) SetStatusListener(listener StatusListener) {
	p.listener = listener
}

func (p *Processor) SetAnswerCache(cache AnswerCache) {
	p.answers = cache
}

// Process runs the full ingestion pipeline for one uploaded document:
// extract page text, chunk, persist passages, embed, index, mark
// ready. Any failure marks the document failed with the reason and the
// document never becomes retrievable. Re-running replaces all prior
// passages and vectors, so a retry cannot duplicate anything.
func (p *Processor) Process(ctx context.Context, doc *models.Document) error {
	start := time.Now()
	logger.Info("Processing document",
		zap.String("doc_id", doc.ID),
		zap.String("title", doc.Title),
	)

	p.transition(doc.ID, models.DocumentProcessing, "")

	pages, err := p.extract(doc)
	if err != nil {
		return p.fail(doc.ID, fmt.Errorf("extract: %w", err))
	}

	drafts, err := chunker.Chunk(pages, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return p.fail(doc.ID, fmt.Errorf("chunk: %w", err))
	}
	if len(drafts) == 0 {
		return p.fail(doc.ID, fmt.Errorf("document produced no passages"))
	}

	now := time.Now()
	passages := make([]models.Passage, len(drafts))
	for i, d := range drafts {
		passages[i] = models.Passage{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			SeqIndex:   i,
			PageNumber: d.PageNumber,
			Content:    d.Content,
			TokenCount: d.TokenCount,
			CreatedAt:  now,
		}
	}

	if err := p.store.ReplacePassages(doc.ID, passages); err != nil {
		return p.fail(doc.ID, err)
	}
	if err := p.vectors.DeleteByDocument(ctx, doc.ID); err != nil {
		return p.fail(doc.ID, err)
	}

	if err := p.embed(ctx, doc, passages); err != nil {
		return p.fail(doc.ID, err)
	}

	if err := p.store.MarkDocumentReady(doc.ID, len(pages), len(passages)); err != nil {
		return p.fail(doc.ID, err)
	}
	p.notify(doc.ID, models.DocumentReady, "")

	if p.answers != nil {
		if err := p.answers.InvalidateCourse(ctx, doc.CourseID); err != nil {
			logger.Warn("Failed to invalidate answer cache",
				zap.String("course_id", doc.CourseID),
				zap.Error(err),
			)
		}
	}

	metrics.DocumentsProcessed.WithLabelValues(string(models.DocumentReady)).Inc()
	metrics.IngestionDuration.Observe(time.Since(start).Seconds())

	logger.Info("Document processed",
		zap.String("doc_id", doc.ID),
		zap.Int("pages", len(pages)),
		zap.Int("passages", len(passages)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (p *Processor) embed(ctx context.Context, doc *models.Document, passages []models.Passage) error {
	texts := make([]string, len(passages))
	for i, passage := range passages {
		texts[i] = passage.Content
	}

	embeddings, err := p.embedder.GenerateBatchEmbeddings(ctx, texts, p.cfg.EmbedBatchSize)
	if err != nil {
		return fmt.Errorf("embed passages: %w", err)
	}
	if len(embeddings) != len(passages) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(passages))
	}

	vectors := make([]milvus.PassageVector, len(passages))
	ids := make([]string, len(passages))
	for i, passage := range passages {
		vectors[i] = milvus.PassageVector{
			PassageID:  passage.ID,
			DocumentID: passage.DocumentID,
			CourseID:   doc.CourseID,
			SeqIndex:   passage.SeqIndex,
			PageNumber: passage.PageNumber,
			Embedding:  embeddings[i],
		}
		ids[i] = passage.ID
	}

	if err := p.vectors.Insert(ctx, vectors); err != nil {
		return fmt.Errorf("index vectors: %w", err)
	}
	if err := p.store.MarkPassagesEmbedded(ids); err != nil {
		return err
	}

	metrics.PassagesEmbedded.Add(float64(len(passages)))
	return nil
}

func (p *Processor) extract(doc *models.Document) ([]chunker.Page, error) {
	switch strings.ToLower(filepath.Ext(doc.StoragePath)) {
	case ".pdf":
		return pdftext.ExtractPages(doc.StoragePath, p.cfg.MaxPages)
	case ".html", ".htm":
		return extractHTMLPage(doc.StoragePath)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(doc.StoragePath))
	}
}

func (p *Processor) transition(docID string, status models.DocumentStatus, message string) {
	if err := p.store.SetDocumentStatus(docID, status, message); err != nil {
		logger.Error("Failed to update document status", zap.String("doc_id", docID), zap.Error(err))
	}
	p.notify(docID, status, message)
}

func (p *Processor) fail(docID string, cause error) error {
	p.transition(docID, models.DocumentFailed, cause.Error())
	metrics.DocumentsProcessed.WithLabelValues(string(models.DocumentFailed)).Inc()

	logger.Error("Document processing failed",
		zap.String("doc_id", docID),
		zap.Error(cause),
	)
	return cause
}

func (p *Processor) notify(docID string, status models.DocumentStatus, message string) {
	if p.listener != nil {
		p.listener(docID, status, message)
	}
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// extractHTMLPage reads an HTML file as a single logical page, with
// boilerplate elements stripped.
func extractHTMLPage(path string) ([]chunker.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open html: %w", err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := strings.TrimSpace(whitespaceRE.ReplaceAllString(doc.Find("body").Text(), " "))
	if text == "" {
		return nil, pdftext.ErrNoExtractableText
	}

	return []chunker.Page{{PageNumber: 1, Text: text}}, nil
}
