package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/studybuddy/backend/pkg/logger"
)

// Client stores passage embeddings. The passage row of record lives in
// SQLite; Milvus holds only the vector plus the scope fields needed to
// filter searches (course, document, page).
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

type PassageVector struct {
	PassageID  string
	DocumentID string
	CourseID   string
	SeqIndex   int
	PageNumber int
	Embedding  []float32
}

type SearchHit struct {
	PassageID  string
	DocumentID string
	PageNumber int
	SeqIndex   int
	Score      float32
}

func NewClient(endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	c, err := client.NewClient(context.Background(), client.Config{
		Address: endpoint,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

// IVF_FLAT over inner product. nlist/nprobe sized for a corpus of tens
// of thousands of passages per deployment.
func passageIndex() (entity.Index, error) {
	return entity.NewIndexIvfFlat(entity.IP, 1024)
}

func passageSearchParam() (entity.SearchParam, error) {
	return entity.NewIndexIvfFlatSearchParam(16)
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", m.collectionName))
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "Document passage embeddings",
		Fields: []*entity.Field{
			{
				Name:       "passage_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "course_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "seq_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "page_number",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	err = m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := passageIndex()
	if err != nil {
		return fmt.Errorf("failed to build index config: %w", err)
	}

	err = m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = m.client.LoadCollection(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", m.collectionName))

	return nil
}

func (m *Client) Insert(ctx context.Context, vectors []PassageVector) error {
	if len(vectors) == 0 {
		return nil
	}

	passageIDs := make([]string, len(vectors))
	embeddings := make([][]float32, len(vectors))
	documentIDs := make([]string, len(vectors))
	courseIDs := make([]string, len(vectors))
	seqIndexes := make([]int64, len(vectors))
	pageNumbers := make([]int64, len(vectors))

	for i, v := range vectors {
		passageIDs[i] = v.PassageID
		embeddings[i] = v.Embedding
		documentIDs[i] = v.DocumentID
		courseIDs[i] = v.CourseID
		seqIndexes[i] = int64(v.SeqIndex)
		pageNumbers[i] = int64(v.PageNumber)
	}

	_, err := m.client.Insert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("passage_id", passageIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("document_id", documentIDs),
		entity.NewColumnVarChar("course_id", courseIDs),
		entity.NewColumnInt64("seq_index", seqIndexes),
		entity.NewColumnInt64("page_number", pageNumbers),
	)

	if err != nil {
		return fmt.Errorf("failed to insert passage vectors: %w", err)
	}

	err = m.client.Flush(ctx, m.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Passage vectors inserted", zap.Int("count", len(vectors)))

	return nil
}

// DeleteByDocument removes all vectors belonging to a document, used
// before re-ingestion so a re-run cannot drift the passage count.
func (m *Client) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf(`document_id == "%s"`, documentID)
	err := m.client.Delete(ctx, m.collectionName, "", expr)
	if err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}

	logger.Debug("Document vectors deleted", zap.String("document_id", documentID))
	return nil
}

// Search ranks passages by inner-product similarity, scoped to the
// given documents. documentIDs must already be filtered to ready
// documents by the caller; an empty allowlist returns no hits.
func (m *Client) Search(ctx context.Context, queryEmbedding []float32, topK int, documentIDs []string) ([]SearchHit, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	quoted := make([]string, len(documentIDs))
	for i, id := range documentIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	expr := fmt.Sprintf("document_id in [%s]", strings.Join(quoted, ", "))

	sp, err := passageSearchParam()
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"passage_id", "document_id", "page_number", "seq_index"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search passages: %w", err)
	}

	results := make([]SearchHit, 0)
	for _, sr := range searchResult {
		passageIDCol := sr.Fields.GetColumn("passage_id")
		documentIDCol := sr.Fields.GetColumn("document_id")
		pageNumberCol := sr.Fields.GetColumn("page_number")
		seqIndexCol := sr.Fields.GetColumn("seq_index")

		for i := 0; i < sr.ResultCount; i++ {
			passageID, _ := passageIDCol.Get(i)
			documentID, _ := documentIDCol.Get(i)
			pageNumber, _ := pageNumberCol.Get(i)
			seqIndex, _ := seqIndexCol.Get(i)

			results = append(results, SearchHit{
				PassageID:  passageID.(string),
				DocumentID: documentID.(string),
				PageNumber: int(pageNumber.(int64)),
				SeqIndex:   int(seqIndex.(int64)),
				Score:      sr.Scores[i],
			})
		}
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
	)

	return results, nil
}
