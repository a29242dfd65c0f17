package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
)

// fakeStore is an in-memory VectorStore keyed like the real one: one entry
// per (document_id, seq_index).
type fakeStore struct {
	mu     sync.Mutex
	chunks map[string]datatypes.DocumentChunk

	// results is what Search returns, set by the test.
	results []datatypes.ScoredChunk

	putErr    error
	deleteLog []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{chunks: map[string]datatypes.DocumentChunk{}}
}

func chunkKey(documentID string, seq int) string {
	return fmt.Sprintf("%s#%d", documentID, seq)
}

func (f *fakeStore) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeStore) StoredDimensions(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chunks {
		return len(c.Vector), nil
	}
	return 0, nil
}

func (f *fakeStore) PutChunks(ctx context.Context, chunks []datatypes.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		// Land half the batch before failing, like a partial batch write.
		for _, c := range chunks[:len(chunks)/2] {
			f.chunks[chunkKey(c.DocumentID, c.SeqIndex)] = c
		}
		return f.putErr
	}
	for _, c := range chunks {
		f.chunks[chunkKey(c.DocumentID, c.SeqIndex)] = c
	}
	return nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteLog = append(f.deleteLog, documentID)
	matched := 0
	for k, c := range f.chunks {
		if c.DocumentID == documentID {
			delete(f.chunks, k)
			matched++
		}
	}
	return matched, nil
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, userID string, limit int, certainty float64) ([]datatypes.ScoredChunk, error) {
	return f.results, nil
}

func (f *fakeStore) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks), nil
}

func (f *fakeStore) documentChunks(documentID string) []datatypes.DocumentChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []datatypes.DocumentChunk
	for _, c := range f.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out
}

// fakeEmbedder returns fixed-size vectors and can fail on demand.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
	dims  int
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("embedding backend down")
	}
	dims := f.dims
	if dims == 0 {
		dims = 4
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = make([]float32, dims)
		vecs[i][0] = float32(len(texts[i]))
	}
	return vecs, nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) Dimensions() int {
	if f.dims == 0 {
		return 4
	}
	return f.dims
}
