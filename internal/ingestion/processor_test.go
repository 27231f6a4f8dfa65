package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/vector/milvus"
	"github.com/studybuddy/backend/pkg/config"
)

type fakeStore struct {
	statuses     []models.DocumentStatus
	lastError    string
	readyPages   int
	readyCount   int
	passages     []models.Passage
	embeddedIDs  []string
	replaceCalls int
}

func (f *fakeStore) SetDocumentStatus(id string, status models.DocumentStatus, errorMessage string) error {
	f.statuses = append(f.statuses, status)
	f.lastError = errorMessage
	return nil
}

func (f *fakeStore) MarkDocumentReady(id string, pageCount, passageCount int) error {
	f.statuses = append(f.statuses, models.DocumentReady)
	f.readyPages = pageCount
	f.readyCount = passageCount
	return nil
}

func (f *fakeStore) ReplacePassages(documentID string, passages []models.Passage) error {
	f.replaceCalls++
	f.passages = passages
	return nil
}

func (f *fakeStore) MarkPassagesEmbedded(ids []string) error {
	f.embeddedIDs = ids
	return nil
}

type fakeVectors struct {
	deletedDocs []string
	inserted    []milvus.PassageVector
	insertErr   error
}

func (f *fakeVectors) DeleteByDocument(ctx context.Context, documentID string) error {
	f.deletedDocs = append(f.deletedDocs, documentID)
	return nil
}

func (f *fakeVectors) Insert(ctx context.Context, vectors []milvus.PassageVector) error {
	f.inserted = vectors
	return f.insertErr
}

type fakeEmbedder struct {
	err           error
	lastBatchSize int
}

func (f *fakeEmbedder) GenerateBatchEmbeddings(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	f.lastBatchSize = batchSize
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

func testConfig() config.IngestionConfig {
	return config.IngestionConfig{
		ChunkSize:      4,
		ChunkOverlap:   1,
		EmbedBatchSize: 64,
		MaxPages:       500,
	}
}

func writeHTMLDoc(t *testing.T, content string) *models.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.html")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &models.Document{
		ID:          "doc-1",
		CourseID:    "course-1",
		Title:       "Doc",
		StoragePath: path,
		Status:      models.DocumentPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

const sampleHTML = `<html><head><title>t</title><script>junk()</script></head>
<body><nav>menu</nav><p>one two three four five six seven eight nine</p><footer>foot</footer></body></html>`

func TestProcessHTMLDocument(t *testing.T) {
	store := &fakeStore{}
	vectors := &fakeVectors{}
	embedder := &fakeEmbedder{}
	p := NewProcessor(store, vectors, embedder, testConfig())

	doc := writeHTMLDoc(t, sampleHTML)
	require.NoError(t, p.Process(context.Background(), doc))

	assert.Equal(t, []models.DocumentStatus{models.DocumentProcessing, models.DocumentReady}, store.statuses)
	assert.Equal(t, 1, store.readyPages)
	assert.Equal(t, 3, store.readyCount)

	require.Len(t, store.passages, 3)
	assert.Equal(t, "one two three four", store.passages[0].Content)
	assert.Equal(t, "four five six seven", store.passages[1].Content)
	assert.Equal(t, 1, store.passages[0].PageNumber)

	assert.Equal(t, []string{"doc-1"}, vectors.deletedDocs)
	require.Len(t, vectors.inserted, 3)
	assert.Equal(t, "course-1", vectors.inserted[0].CourseID)
	assert.Equal(t, store.passages[0].ID, vectors.inserted[0].PassageID)
	assert.Len(t, store.embeddedIDs, 3)
	assert.Equal(t, 64, embedder.lastBatchSize)
}

func TestProcessStripsBoilerplate(t *testing.T) {
	store := &fakeStore{}
	p := NewProcessor(store, &fakeVectors{}, &fakeEmbedder{}, testConfig())

	doc := writeHTMLDoc(t, sampleHTML)
	require.NoError(t, p.Process(context.Background(), doc))

	for _, passage := range store.passages {
		assert.NotContains(t, passage.Content, "menu")
		assert.NotContains(t, passage.Content, "foot")
		assert.NotContains(t, passage.Content, "junk")
	}
}

func TestProcessEmbeddingFailureMarksFailed(t *testing.T) {
	store := &fakeStore{}
	embedErr := errors.New("embedding service down")
	p := NewProcessor(store, &fakeVectors{}, &fakeEmbedder{err: embedErr}, testConfig())

	doc := writeHTMLDoc(t, sampleHTML)
	err := p.Process(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, embedErr)

	require.NotEmpty(t, store.statuses)
	assert.Equal(t, models.DocumentFailed, store.statuses[len(store.statuses)-1])
	assert.Contains(t, store.lastError, "embedding service down")
}

func TestProcessVectorInsertFailureMarksFailed(t *testing.T) {
	store := &fakeStore{}
	vectors := &fakeVectors{insertErr: errors.New("collection unavailable")}
	p := NewProcessor(store, vectors, &fakeEmbedder{}, testConfig())

	doc := writeHTMLDoc(t, sampleHTML)
	require.Error(t, p.Process(context.Background(), doc))
	assert.Equal(t, models.DocumentFailed, store.statuses[len(store.statuses)-1])
}

func TestProcessEmptyDocumentMarksFailed(t *testing.T) {
	store := &fakeStore{}
	p := NewProcessor(store, &fakeVectors{}, &fakeEmbedder{}, testConfig())

	doc := writeHTMLDoc(t, `<html><body><script>only code</script></body></html>`)
	require.Error(t, p.Process(context.Background(), doc))
	assert.Equal(t, models.DocumentFailed, store.statuses[len(store.statuses)-1])
	assert.NotEmpty(t, store.lastError)
}

func TestProcessUnsupportedExtension(t *testing.T) {
	store := &fakeStore{}
	p := NewProcessor(store, &fakeVectors{}, &fakeEmbedder{}, testConfig())

	doc := &models.Document{ID: "doc-1", StoragePath: "/tmp/doc.docx"}
	err := p.Process(context.Background(), doc)
	require.Error(t, err)
	assert.Contains(t, store.lastError, "unsupported file type")
}

func TestProcessReRunReplacesPassages(t *testing.T) {
	store := &fakeStore{}
	vectors := &fakeVectors{}
	p := NewProcessor(store, vectors, &fakeEmbedder{}, testConfig())

	doc := writeHTMLDoc(t, sampleHTML)
	require.NoError(t, p.Process(context.Background(), doc))
	require.NoError(t, p.Process(context.Background(), doc))

	assert.Equal(t, 2, store.replaceCalls)
	assert.Equal(t, []string{"doc-1", "doc-1"}, vectors.deletedDocs)
	assert.Len(t, store.passages, 3)
}

type fakeAnswerCache struct {
	invalidated []string
}

func (f *fakeAnswerCache) InvalidateCourse(ctx context.Context, courseID string) error {
	f.invalidated = append(f.invalidated, courseID)
	return nil
}

func TestProcessInvalidatesAnswerCacheOnReady(t *testing.T) {
	store := &fakeStore{}
	answers := &fakeAnswerCache{}
	p := NewProcessor(store, &fakeVectors{}, &fakeEmbedder{}, testConfig())
	p.SetAnswerCache(answers)

	doc := writeHTMLDoc(t, sampleHTML)
	require.NoError(t, p.Process(context.Background(), doc))
	assert.Equal(t, []string{"course-1"}, answers.invalidated)
}

func TestProcessFailureLeavesAnswerCacheAlone(t *testing.T) {
	store := &fakeStore{}
	answers := &fakeAnswerCache{}
	p := NewProcessor(store, &fakeVectors{}, &fakeEmbedder{err: errors.New("down")}, testConfig())
	p.SetAnswerCache(answers)

	doc := writeHTMLDoc(t, sampleHTML)
	require.Error(t, p.Process(context.Background(), doc))
	assert.Empty(t, answers.invalidated)
}

func TestStatusListenerReceivesTransitions(t *testing.T) {
	store := &fakeStore{}
	p := NewProcessor(store, &fakeVectors{}, &fakeEmbedder{}, testConfig())

	var seen []models.DocumentStatus
	p.SetStatusListener(func(documentID string, status models.DocumentStatus, message string) {
		seen = append(seen, status)
	})

	doc := writeHTMLDoc(t, sampleHTML)
	require.NoError(t, p.Process(context.Background(), doc))
	assert.Equal(t, []models.DocumentStatus{models.DocumentProcessing, models.DocumentReady}, seen)
}
