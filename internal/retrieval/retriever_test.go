package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/llm"
	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/vector/milvus"
)

type fakeEmbedder struct {
	embedding []float32
	err       error
	lastText  string
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.lastText = text
	return f.embedding, f.err
}

type fakeSearcher struct {
	hits       []milvus.SearchHit
	err        error
	lastTopK   int
	lastDocIDs []string
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, topK int, documentIDs []string) ([]milvus.SearchHit, error) {
	f.lastTopK = topK
	f.lastDocIDs = documentIDs
	return f.hits, f.err
}

type fakeStore struct {
	passages map[string]models.Passage
	readyIDs []string
}

func (f *fakeStore) GetPassagesByIDs(ids []string) ([]models.Passage, error) {
	var out []models.Passage
	for _, id := range ids {
		if p, ok := f.passages[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) ListReadyDocumentIDs(courseID string) ([]string, error) {
	return f.readyIDs, nil
}

func TestRetrievePreservesSearchOrder(t *testing.T) {
	embedder := &fakeEmbedder{embedding: []float32{0.1, 0.2}}
	searcher := &fakeSearcher{hits: []milvus.SearchHit{
		{PassageID: "p-2", Score: 0.9},
		{PassageID: "p-1", Score: 0.7},
	}}
	store := &fakeStore{
		readyIDs: []string{"doc-1"},
		passages: map[string]models.Passage{
			"p-1": {ID: "p-1", Content: "alpha", PageNumber: 1},
			"p-2": {ID: "p-2", Content: "beta", PageNumber: 2},
		},
	}

	r := NewRetriever(embedder, searcher, store)
	results, err := r.Retrieve(context.Background(), "course-1", "what is beta", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "p-2", results[0].Passage.ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
	assert.Equal(t, "p-1", results[1].Passage.ID)
	assert.Equal(t, "what is beta", embedder.lastText)
	assert.Equal(t, 5, searcher.lastTopK)
	assert.Equal(t, []string{"doc-1"}, searcher.lastDocIDs)
}

func TestRetrieveNoReadyDocuments(t *testing.T) {
	embedder := &fakeEmbedder{embedding: []float32{0.1}}
	searcher := &fakeSearcher{}
	store := &fakeStore{}

	r := NewRetriever(embedder, searcher, store)
	results, err := r.Retrieve(context.Background(), "course-1", "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, embedder.lastText)
}

func TestRetrieveEmbeddingFailurePropagates(t *testing.T) {
	embedder := &fakeEmbedder{err: llm.ErrEmbeddingUnavailable}
	store := &fakeStore{readyIDs: []string{"doc-1"}}

	r := NewRetriever(embedder, &fakeSearcher{}, store)
	_, err := r.Retrieve(context.Background(), "course-1", "anything", 5)
	assert.ErrorIs(t, err, llm.ErrEmbeddingUnavailable)
}

func TestRetrieveSkipsHitsWithoutStoredPassage(t *testing.T) {
	embedder := &fakeEmbedder{embedding: []float32{0.1}}
	searcher := &fakeSearcher{hits: []milvus.SearchHit{
		{PassageID: "p-gone", Score: 0.9},
		{PassageID: "p-1", Score: 0.5},
	}}
	store := &fakeStore{
		readyIDs: []string{"doc-1"},
		passages: map[string]models.Passage{
			"p-1": {ID: "p-1", Content: "alpha"},
		},
	}

	r := NewRetriever(embedder, searcher, store)
	results, err := r.Retrieve(context.Background(), "course-1", "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p-1", results[0].Passage.ID)
}

func TestRetrieveSearchFailure(t *testing.T) {
	searchErr := errors.New("collection unavailable")
	r := NewRetriever(
		&fakeEmbedder{embedding: []float32{0.1}},
		&fakeSearcher{err: searchErr},
		&fakeStore{readyIDs: []string{"doc-1"}},
	)

	_, err := r.Retrieve(context.Background(), "course-1", "q", 5)
	assert.ErrorIs(t, err, searchErr)
}

func TestAllowedPassageSet(t *testing.T) {
	results := []Result{
		{Passage: models.Passage{ID: "p-1", PageNumber: 2}},
		{Passage: models.Passage{ID: "p-2", PageNumber: 5}},
	}

	allowed := AllowedPassageSet(results)
	require.Len(t, allowed, 2)
	assert.Equal(t, 5, allowed["p-2"].PageNumber)
	_, ok := allowed["p-3"]
	assert.False(t, ok)
}
