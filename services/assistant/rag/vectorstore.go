// Package rag implements the document side of retrieval-augmented generation:
// chunking and embedding documents into a Weaviate collection, and retrieving
// the most similar chunks for a query.
package rag

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

var tracer = otel.Tracer("github.com/conversa-ai/conversa/services/assistant/rag")

const chunkClass = "Chunk"

// VectorStore is the persistence contract for document chunks. Implemented
// by WeaviateStore in production and by fakes in tests.
type VectorStore interface {
	// EnsureSchema creates the chunk collection when absent.
	EnsureSchema(ctx context.Context) error

	// StoredDimensions reports the dimensionality of vectors already in the
	// collection. Zero means the collection is empty.
	StoredDimensions(ctx context.Context) (int, error)

	// PutChunks writes chunks with their vectors. Chunk identity is derived
	// from (document_id, seq_index), so rewriting a chunk replaces it.
	PutChunks(ctx context.Context, chunks []datatypes.DocumentChunk) error

	// DeleteDocument removes every chunk of a document and reports how many
	// were matched. Unknown documents match zero and do not error.
	DeleteDocument(ctx context.Context, documentID string) (int, error)

	// Search returns up to limit chunks similar to vector, strongest first,
	// restricted to chunks owned by userID or shared (empty owner). Only
	// chunks at or above the certainty floor are returned.
	Search(ctx context.Context, vector []float32, userID string, limit int, certainty float64) ([]datatypes.ScoredChunk, error)

	// Count returns the total number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// CheckDimensions verifies that vectors already in the collection match the
// active embedding model. A mismatch makes every similarity search garbage,
// so callers treat it as fatal at startup. An empty collection passes.
func CheckDimensions(ctx context.Context, store VectorStore, embedder Embedder, providerName string) error {
	stored, err := store.StoredDimensions(ctx)
	if err != nil {
		return err
	}
	if stored != 0 && stored != embedder.Dimensions() {
		return &faults.ProviderConfigError{
			Reason: fmt.Sprintf(
				"embedding dimensionality mismatch: collection has %d-dimensional vectors, %s produces %d (re-ingest documents or switch the embedding model back)",
				stored, providerName, embedder.Dimensions()),
		}
	}
	return nil
}

// WeaviateStore stores chunks in a Weaviate collection with externally
// provided vectors (vectorizer "none").
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore connects to the Weaviate instance at host (host:port,
// no scheme).
func NewWeaviateStore(host, scheme string) (*WeaviateStore, error) {
	if scheme == "" {
		scheme = "http"
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}
	return &WeaviateStore{client: client}, nil
}

func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "rag.EnsureSchema")
	defer span.End()

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(chunkClass).Do(ctx)
	if err != nil {
		return fmt.Errorf("checking %s class: %w", chunkClass, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      chunkClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "document_id", DataType: []string{"text"}},
			{Name: "user_id", DataType: []string{"text"}},
			{Name: "chunk_text", DataType: []string{"text"}},
			{Name: "seq_index", DataType: []string{"int"}},
		},
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("creating %s class: %w", chunkClass, err)
	}
	return nil
}

// chunkUUID derives a stable object ID from document identity and position,
// so re-ingesting a document overwrites its chunks instead of duplicating.
func chunkUUID(documentID string, seq int) strfmt.UUID {
	name := fmt.Sprintf("%s#%d", documentID, seq)
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String())
}

func (s *WeaviateStore) PutChunks(ctx context.Context, chunks []datatypes.DocumentChunk) error {
	ctx, span := tracer.Start(ctx, "rag.PutChunks")
	defer span.End()

	if len(chunks) == 0 {
		return nil
	}
	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class: chunkClass,
			ID:    chunkUUID(c.DocumentID, c.SeqIndex),
			Properties: map[string]any{
				"document_id": c.DocumentID,
				"user_id":     c.UserID,
				"chunk_text":  c.Text,
				"seq_index":   c.SeqIndex,
			},
			Vector: c.Vector,
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("batch writing chunks: %w", err)
	}
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch write rejected object %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *WeaviateStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	ctx, span := tracer.Start(ctx, "rag.DeleteDocument")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"document_id"}).
		WithOperator(filters.Equal).
		WithValueText(documentID)

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(chunkClass).
		WithWhere(where).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of %q: %w", documentID, err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Matches), nil
}

// ownerFilter restricts retrieval to the caller's chunks plus shared ones.
func ownerFilter(userID string) *filters.WhereBuilder {
	shared := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueText("")
	if userID == "" {
		return shared
	}
	own := filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueText(userID)
	return filters.Where().WithOperator(filters.Or).WithOperands([]*filters.WhereBuilder{own, shared})
}

func (s *WeaviateStore) Search(ctx context.Context, vector []float32, userID string, limit int, certainty float64) ([]datatypes.ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "rag.Search")
	defer span.End()

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(float32(certainty))

	fields := []graphql.Field{
		{Name: "document_id"},
		{Name: "chunk_text"},
		{Name: "seq_index"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(chunkClass).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithWhere(ownerFilter(userID)).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("chunk search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("chunk search: %s", result.Errors[0].Message)
	}

	var payload struct {
		Get struct {
			Chunk []struct {
				DocumentID string `json:"document_id"`
				ChunkText  string `json:"chunk_text"`
				SeqIndex   int    `json:"seq_index"`
				Additional struct {
					Certainty float64 `json:"certainty"`
				} `json:"_additional"`
			} `json:"Chunk"`
		} `json:"Get"`
	}
	if err := decodeGraphQL(result.Data, &payload); err != nil {
		return nil, fmt.Errorf("parsing chunk search response: %w", err)
	}

	chunks := make([]datatypes.ScoredChunk, 0, len(payload.Get.Chunk))
	for _, c := range payload.Get.Chunk {
		chunks = append(chunks, datatypes.ScoredChunk{
			DocumentID: c.DocumentID,
			Text:       c.ChunkText,
			SeqIndex:   c.SeqIndex,
			Score:      c.Additional.Certainty,
		})
	}
	return chunks, nil
}

func (s *WeaviateStore) Count(ctx context.Context) (int, error) {
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(chunkClass).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("counting chunks: %s", result.Errors[0].Message)
	}

	var payload struct {
		Aggregate struct {
			Chunk []struct {
				Meta struct {
					Count int `json:"count"`
				} `json:"meta"`
			} `json:"Chunk"`
		} `json:"Aggregate"`
	}
	if err := decodeGraphQL(result.Data, &payload); err != nil {
		return 0, fmt.Errorf("parsing chunk count response: %w", err)
	}
	if len(payload.Aggregate.Chunk) == 0 {
		return 0, nil
	}
	return payload.Aggregate.Chunk[0].Meta.Count, nil
}

// StoredDimensions reads the vector of one arbitrary stored chunk.
func (s *WeaviateStore) StoredDimensions(ctx context.Context) (int, error) {
	result, err := s.client.GraphQL().Get().
		WithClassName(chunkClass).
		WithFields(graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}}).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("probing stored dimensionality: %w", err)
	}
	if len(result.Errors) > 0 {
		return 0, fmt.Errorf("probing stored dimensionality: %s", result.Errors[0].Message)
	}

	var payload struct {
		Get struct {
			Chunk []struct {
				Additional struct {
					Vector []float64 `json:"vector"`
				} `json:"_additional"`
			} `json:"Chunk"`
		} `json:"Get"`
	}
	if err := decodeGraphQL(result.Data, &payload); err != nil {
		return 0, fmt.Errorf("parsing stored vector sample: %w", err)
	}
	if len(payload.Get.Chunk) == 0 {
		return 0, nil
	}
	return len(payload.Get.Chunk[0].Additional.Vector), nil
}

// decodeGraphQL re-marshals the untyped GraphQL payload into a typed shape.
func decodeGraphQL(data map[string]models.JSONObject, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
