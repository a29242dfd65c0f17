package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"

	"github.com/conversa-ai/conversa/services/assistant/datatypes"
	"github.com/conversa-ai/conversa/services/assistant/faults"
)

// chunkSeparators order the split preference: paragraph, line, sentence,
// word, and finally a hard character cut.
var chunkSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// embedBatchSize bounds how many chunks go to the provider per embedding call.
const embedBatchSize = 16

// Embedder is the slice of the provider interface ingestion needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Ingestor turns documents into embedded chunks. Ingestion is
// replace-by-document: the document's previous chunks are removed first, and
// any failure aborts the whole document so no partial chunk set is queryable.
type Ingestor struct {
	store       VectorStore
	embedder    Embedder
	splitter    textsplitter.RecursiveCharacter
	concurrency int
}

// IngestResult summarizes one completed ingestion.
type IngestResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	// Replaced counts the chunks of the previous version that were removed.
	Replaced int `json:"replaced"`
}

// NewIngestor builds an ingestor splitting at chunkSize characters with
// chunkOverlap carry-over, embedding up to concurrency batches in parallel.
func NewIngestor(store VectorStore, embedder Embedder, chunkSize, chunkOverlap, concurrency int) *Ingestor {
	return &Ingestor{
		store:    store,
		embedder: embedder,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators(chunkSeparators),
		),
		concurrency: concurrency,
	}
}

// Ingest chunks, embeds and stores one document.
//
// Order of operations matters: the old version is deleted before the new one
// is written, so a crash or abort can leave the document absent but never
// half-and-half. Embedding failures abort before anything is written; write
// failures roll back whatever partial batch landed.
func (ing *Ingestor) Ingest(ctx context.Context, doc datatypes.Document) (IngestResult, error) {
	ctx, span := tracer.Start(ctx, "rag.Ingest")
	defer span.End()

	if strings.TrimSpace(doc.ID) == "" {
		return IngestResult{}, &faults.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(doc.Text) == "" {
		return IngestResult{}, &faults.ValidationError{Field: "text", Reason: "document has no text"}
	}

	pieces, err := ing.splitter.SplitText(doc.Text)
	if err != nil {
		return IngestResult{}, &faults.IngestionError{DocumentID: doc.ID, Err: fmt.Errorf("splitting: %w", err)}
	}

	vectors, failed, err := ing.embedAll(ctx, pieces)
	if err != nil {
		return IngestResult{}, &faults.IngestionError{DocumentID: doc.ID, FailedChunks: failed, Err: err}
	}

	// Point of no return for the old version.
	replaced, err := ing.store.DeleteDocument(ctx, doc.ID)
	if err != nil {
		return IngestResult{}, &faults.IngestionError{DocumentID: doc.ID, Err: fmt.Errorf("replacing previous version: %w", err)}
	}

	chunks := make([]datatypes.DocumentChunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = datatypes.DocumentChunk{
			DocumentID: doc.ID,
			UserID:     doc.UserID,
			Text:       text,
			SeqIndex:   i,
			Vector:     vectors[i],
		}
	}
	if err := ing.store.PutChunks(ctx, chunks); err != nil {
		// Scrub whatever part of the batch landed; absent beats partial.
		if _, rbErr := ing.store.DeleteDocument(ctx, doc.ID); rbErr != nil {
			slog.Error("rag: rollback after failed write also failed",
				"document_id", doc.ID, "error", rbErr)
		}
		return IngestResult{}, &faults.IngestionError{DocumentID: doc.ID, Err: fmt.Errorf("writing chunks: %w", err)}
	}

	slog.Info("rag: document ingested",
		"document_id", doc.ID, "chunks", len(chunks), "replaced", replaced)
	return IngestResult{DocumentID: doc.ID, Chunks: len(chunks), Replaced: replaced}, nil
}

// Delete removes a document's chunks outside of ingestion.
func (ing *Ingestor) Delete(ctx context.Context, documentID string) (int, error) {
	if strings.TrimSpace(documentID) == "" {
		return 0, &faults.ValidationError{Field: "document_id", Reason: "must not be empty"}
	}
	return ing.store.DeleteDocument(ctx, documentID)
}

// embedAll embeds pieces in index-aligned batches with bounded parallelism.
// On failure it returns the sequence indexes of every chunk in a failed
// batch, sorted, so the abort error names what could not be embedded.
func (ing *Ingestor) embedAll(ctx context.Context, pieces []string) ([][]float32, []int, error) {
	vectors := make([][]float32, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.concurrency)

	var mu sync.Mutex
	var failed []int
	var firstErr error

	for start := 0; start < len(pieces); start += embedBatchSize {
		start := start
		end := min(start+embedBatchSize, len(pieces))
		g.Go(func() error {
			vecs, err := ing.embedder.EmbedBatch(gctx, pieces[start:end])
			if err != nil {
				mu.Lock()
				for seq := start; seq < end; seq++ {
					failed = append(failed, seq)
				}
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return err
			}
			for i, v := range vecs {
				vectors[start+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sort.Ints(failed)
		if firstErr == nil {
			firstErr = err
		}
		return nil, failed, firstErr
	}
	return vectors, nil, nil
}
