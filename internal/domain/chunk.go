package domain

import "fmt"

// Chunk is a bounded, sentence-aligned segment of a document's text.
// Chunks live and die with their parent document.
type Chunk struct {
	DocumentID string
	Index      int
	Content    string
	WordCount  int
	Embedding  []float32
}

// ChunkID is the vector store identifier for a chunk.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s:%05d", documentID, index)
}

// ID returns the vector store identifier for the chunk.
func (c Chunk) ID() string {
	return ChunkID(c.DocumentID, c.Index)
}

// ProcessingResult carries everything the upload path persists for one document.
type ProcessingResult struct {
	DocumentID   string
	ContentHash  string
	Summary      string
	Chunks       []Chunk
	Truncated    bool
	WordCount    int
	ModelVersion string
}
