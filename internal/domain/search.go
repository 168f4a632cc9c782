package domain

// SearchResult is one ranked document for a query.
type SearchResult struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Snippet    string  `json:"snippet"`
	Summary    string  `json:"summary,omitempty"`
	Score      float64 `json:"score"`
}
