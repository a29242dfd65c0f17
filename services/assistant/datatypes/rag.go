package datatypes

// Document is raw text handed to the ingestion pipeline, already extracted
// from its source format by the file-extraction collaborator.
type Document struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	// UserID scopes the document to one user. Empty means shared/global:
	// visible to every user's retrieval.
	UserID string `json:"user_id,omitempty"`
	Text   string `json:"text"`
}

// DocumentChunk is one bounded span of a document, embedded and indexed
// independently. Immutable after ingestion.
type DocumentChunk struct {
	DocumentID string    `json:"document_id"`
	UserID     string    `json:"user_id,omitempty"`
	Text       string    `json:"text"`
	SeqIndex   int       `json:"seq_index"`
	Vector     []float32 `json:"-"`
}

// ScoredChunk is a retrieval result: chunk text plus its similarity score,
// populated only at query time.
type ScoredChunk struct {
	DocumentID string  `json:"document_id"`
	Text       string  `json:"text"`
	SeqIndex   int     `json:"seq_index"`
	Score      float64 `json:"score"`
}
