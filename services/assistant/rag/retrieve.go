package rag

import (
	"context"
	"sort"
	"strings"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// QueryEmbedder is the slice of the provider interface retrieval needs.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever answers similarity queries over the chunk collection.
type Retriever struct {
	store         VectorStore
	embedder      QueryEmbedder
	topK          int
	minSimilarity float64
}

func NewRetriever(store VectorStore, embedder QueryEmbedder, topK int, minSimilarity float64) *Retriever {
	return &Retriever{store: store, embedder: embedder, topK: topK, minSimilarity: minSimilarity}
}

// Retrieve returns at most topK chunks relevant to query, visible to userID
// (their own plus shared chunks), each scoring at or above the similarity
// floor. No relevant chunks is a normal outcome: empty slice, nil error.
//
// Ordering is deterministic: descending score, then ascending sequence index,
// then document ID, so equal inputs always produce byte-identical prompts.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string) ([]datatypes.ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "rag.Retrieve")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, &faults.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	chunks, err := r.store.Search(ctx, vec, userID, r.topK, r.minSimilarity)
	if err != nil {
		return nil, err
	}

	// The store applies the floor too, but a fake or a lax backend must not
	// weaken the contract.
	kept := chunks[:0]
	for _, c := range chunks {
		if c.Score >= r.minSimilarity {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		if kept[i].SeqIndex != kept[j].SeqIndex {
			return kept[i].SeqIndex < kept[j].SeqIndex
		}
		return kept[i].DocumentID < kept[j].DocumentID
	})
	if len(kept) > r.topK {
		kept = kept[:r.topK]
	}
	return kept, nil
}
