package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/vector/milvus"
	"github.com/studybuddy/backend/pkg/logger"
)

// Embedder produces a query embedding. Satisfied by the LLM client.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a vector similarity search scoped to a document set.
// Satisfied by the Milvus client.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int, documentIDs []string) ([]milvus.SearchHit, error)
}

// PassageStore resolves search hits back to stored passage content.
type PassageStore interface {
	GetPassagesByIDs(ids []string) ([]models.Passage, error)
	ListReadyDocumentIDs(courseID string) ([]string, error)
}

// Result pairs a retrieved passage with its similarity score.
type Result struct {
	Passage models.Passage
	Score   float32
}

type Retriever struct {
	embedder Embedder
	searcher Searcher
	store    PassageStore
}

func NewRetriever(embedder Embedder, searcher Searcher, store PassageStore) *Retriever {
	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		store:    store,
	}
}

// Retrieve embeds the query and returns the topK most similar passages
// from the course's ready documents, ordered by descending score. A
// course with no ready documents yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, courseID, query string, topK int) ([]Result, error) {
	docIDs, err := r.store.ListReadyDocumentIDs(courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to scope retrieval: %w", err)
	}
	if len(docIDs) == 0 {
		logger.Debug("Retrieval skipped, no ready documents", zap.String("course_id", courseID))
		return nil, nil
	}

	return r.RetrieveFromDocuments(ctx, docIDs, query, topK)
}

// RetrieveFromDocuments is Retrieve with an explicit document scope,
// used when the caller already knows which document it is working on.
func (r *Retriever) RetrieveFromDocuments(ctx context.Context, documentIDs []string, query string, topK int) ([]Result, error) {
	embedding, err := r.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := r.searcher.Search(ctx, embedding, topK, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	scores := make(map[string]float32, len(hits))
	for i, hit := range hits {
		ids[i] = hit.PassageID
		scores[hit.PassageID] = hit.Score
	}

	passages, err := r.store.GetPassagesByIDs(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load passages: %w", err)
	}

	// Preserve search order: hits are ranked, the store returns
	// passages in its own order.
	byID := make(map[string]models.Passage, len(passages))
	for _, p := range passages {
		byID[p.ID] = p
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		passage, ok := byID[hit.PassageID]
		if !ok {
			// Vector index can briefly hold entries for passages the
			// store has already replaced. Skip them.
			logger.Warn("Search hit without stored passage", zap.String("passage_id", hit.PassageID))
			continue
		}
		results = append(results, Result{Passage: passage, Score: scores[hit.PassageID]})
	}

	logger.Debug("Retrieval complete",
		zap.String("query", query),
		zap.Int("hits", len(results)),
	)
	return results, nil
}

// AllowedPassageSet builds the membership set used to vet model
// citations against what was actually retrieved.
func AllowedPassageSet(results []Result) map[string]models.Passage {
	allowed := make(map[string]models.Passage, len(results))
	for _, r := range results {
		allowed[r.Passage.ID] = r.Passage
	}
	return allowed
}
