package rag

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

func longText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		b.WriteString("Shipping policies apply to every order placed through the store. ")
		b.WriteString("Orders ship within two business days and tracking is emailed on dispatch.")
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestIngestChunksAndStoresDocument(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{}
	ing := NewIngestor(store, emb, 200, 20, 2)

	res, err := ing.Ingest(context.Background(), datatypes.Document{
		ID:     "doc-1",
		UserID: "u1",
		Text:   longText(8),
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Greater(t, res.Chunks, 1, "long text must produce multiple chunks")
	assert.Equal(t, 0, res.Replaced)

	stored := store.documentChunks("doc-1")
	require.Len(t, stored, res.Chunks)
	seqs := map[int]bool{}
	for _, c := range stored {
		assert.Equal(t, "u1", c.UserID)
		assert.LessOrEqual(t, len(c.Text), 200)
		assert.NotEmpty(t, c.Vector)
		seqs[c.SeqIndex] = true
	}
	for i := 0; i < res.Chunks; i++ {
		assert.True(t, seqs[i], "sequence indexes must be contiguous from 0")
	}
}

func TestIngestSplitsOnSentenceBoundaries(t *testing.T) {
	store := newFakeStore()
	ing := NewIngestor(store, &fakeEmbedder{}, 20, 5, 1)

	_, err := ing.Ingest(context.Background(), datatypes.Document{
		ID:   "doc-1",
		Text: "The sky is blue. The grass is green.",
	})
	require.NoError(t, err)

	chunks := store.documentChunks("doc-1")
	require.GreaterOrEqual(t, len(chunks), 2, "two sentences must not collapse into one oversized chunk")
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].SeqIndex < chunks[j].SeqIndex })
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 20)
	}
	assert.Contains(t, chunks[0].Text, "sky")
	assert.Contains(t, chunks[len(chunks)-1].Text, "grass")
}

func TestIngestCarriesOverlapBetweenChunks(t *testing.T) {
	store := newFakeStore()
	ing := NewIngestor(store, &fakeEmbedder{}, 20, 5, 1)

	// No sentence boundaries, so the splitter cuts between words and the
	// overlap carries trailing words into the next chunk.
	_, err := ing.Ingest(context.Background(), datatypes.Document{
		ID:   "doc-1",
		Text: "the sky is blue the grass is green",
	})
	require.NoError(t, err)

	chunks := store.documentChunks("doc-1")
	require.GreaterOrEqual(t, len(chunks), 2)
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].SeqIndex < chunks[j].SeqIndex })

	prev, next := chunks[0].Text, chunks[1].Text
	shared := 0
	for n := len(prev); n > 0; n-- {
		if strings.HasPrefix(next, prev[len(prev)-n:]) {
			shared = n
			break
		}
	}
	assert.GreaterOrEqual(t, shared, 3,
		"consecutive chunks must share boundary content: %q then %q", prev, next)
}

func TestReingestReplacesPreviousVersion(t *testing.T) {
	store := newFakeStore()
	ing := NewIngestor(store, &fakeEmbedder{}, 200, 20, 2)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, datatypes.Document{ID: "doc-1", Text: longText(10)})
	require.NoError(t, err)

	// Shorter second version: stale high-seq chunks must not survive.
	second, err := ing.Ingest(ctx, datatypes.Document{ID: "doc-1", Text: longText(2)})
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, second.Replaced)
	assert.Less(t, second.Chunks, first.Chunks)

	stored := store.documentChunks("doc-1")
	assert.Len(t, stored, second.Chunks, "no chunks from the first version may remain")
}

func TestIngestAbortsOnEmbeddingFailure(t *testing.T) {
	store := newFakeStore()
	ing := NewIngestor(store, &fakeEmbedder{fail: true}, 200, 20, 2)

	_, err := ing.Ingest(context.Background(), datatypes.Document{ID: "doc-1", Text: longText(6)})
	require.Error(t, err)

	var ingErr *faults.IngestionError
	require.ErrorAs(t, err, &ingErr)
	assert.Equal(t, "doc-1", ingErr.DocumentID)
	assert.NotEmpty(t, ingErr.FailedChunks)

	n, cErr := store.Count(context.Background())
	require.NoError(t, cErr)
	assert.Zero(t, n, "an aborted ingestion must write nothing")
}

func TestIngestRollsBackPartialWrite(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("batch write rejected")
	ing := NewIngestor(store, &fakeEmbedder{}, 200, 20, 2)

	_, err := ing.Ingest(context.Background(), datatypes.Document{ID: "doc-1", Text: longText(6)})
	require.Error(t, err)

	var ingErr *faults.IngestionError
	require.ErrorAs(t, err, &ingErr)

	assert.Empty(t, store.documentChunks("doc-1"), "partial batch must be rolled back")
	// Delete before write (replace) plus delete after the failed write.
	assert.GreaterOrEqual(t, len(store.deleteLog), 2)
}

func TestIngestValidatesInput(t *testing.T) {
	ing := NewIngestor(newFakeStore(), &fakeEmbedder{}, 200, 20, 2)
	ctx := context.Background()

	_, err := ing.Ingest(ctx, datatypes.Document{ID: "", Text: "hello"})
	assert.True(t, faults.IsValidation(err))

	_, err = ing.Ingest(ctx, datatypes.Document{ID: "doc-1", Text: "   "})
	assert.True(t, faults.IsValidation(err))
}

func TestDeleteUnknownDocumentMatchesZero(t *testing.T) {
	ing := NewIngestor(newFakeStore(), &fakeEmbedder{}, 200, 20, 2)

	matched, err := ing.Delete(context.Background(), "never-ingested")
	require.NoError(t, err)
	assert.Zero(t, matched)
}
