package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

func TestRetrieveOrdersDeterministically(t *testing.T) {
	store := newFakeStore()
	store.results = []datatypes.ScoredChunk{
		{DocumentID: "b", SeqIndex: 3, Score: 0.8},
		{DocumentID: "a", SeqIndex: 1, Score: 0.9},
		{DocumentID: "a", SeqIndex: 5, Score: 0.8},
		{DocumentID: "a", SeqIndex: 3, Score: 0.8},
	}
	r := NewRetriever(store, &fakeEmbedder{}, 5, 0.7)

	got, err := r.Retrieve(context.Background(), "u1", "shipping policy")
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, 0.9, got[0].Score)
	// Among equal scores: ascending seq_index, then document ID.
	assert.Equal(t, datatypes.ScoredChunk{DocumentID: "a", SeqIndex: 3, Score: 0.8}, got[1])
	assert.Equal(t, datatypes.ScoredChunk{DocumentID: "b", SeqIndex: 3, Score: 0.8}, got[2])
	assert.Equal(t, datatypes.ScoredChunk{DocumentID: "a", SeqIndex: 5, Score: 0.8}, got[3])
}

func TestRetrieveAppliesFloorAndCap(t *testing.T) {
	store := newFakeStore()
	store.results = []datatypes.ScoredChunk{
		{DocumentID: "a", SeqIndex: 0, Score: 0.95},
		{DocumentID: "a", SeqIndex: 1, Score: 0.85},
		{DocumentID: "a", SeqIndex: 2, Score: 0.75},
		{DocumentID: "a", SeqIndex: 3, Score: 0.65},
		{DocumentID: "a", SeqIndex: 4, Score: 0.70},
	}
	r := NewRetriever(store, &fakeEmbedder{}, 3, 0.7)

	got, err := r.Retrieve(context.Background(), "u1", "query")
	require.NoError(t, err)
	require.Len(t, got, 3, "capped at top_k")
	for _, c := range got {
		assert.GreaterOrEqual(t, c.Score, 0.7, "floor is inclusive")
	}
	// The 0.65 chunk is out even though top_k had room for boundary 0.70.
	assert.Equal(t, 0.75, got[2].Score)
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	r := NewRetriever(newFakeStore(), &fakeEmbedder{}, 5, 0.7)

	got, err := r.Retrieve(context.Background(), "u1", "nothing matches this")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	r := NewRetriever(newFakeStore(), &fakeEmbedder{}, 5, 0.7)

	_, err := r.Retrieve(context.Background(), "u1", "   ")
	assert.True(t, faults.IsValidation(err))
}
