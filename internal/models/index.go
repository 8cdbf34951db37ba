package models

// IndexRecord is the combined document written to the search index. Analysis
// holds the JSON encoded FileAnalysis.
type IndexRecord struct {
	ID            string    `json:"id"`
	FileName      string    `json:"fileName"`
	FileType      string    `json:"fileType"`
	FileURL       string    `json:"fileUrl"`
	Content       string    `json:"content"`
	ContentVector []float32 `json:"contentVector"`
	Analysis      string    `json:"analysis"`
	Timestamp     string    `json:"timestamp"`
	SessionID     string    `json:"sessionId"`
}

type SearchHit struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	FileName  string  `json:"fileName,omitempty"`
	Content   string  `json:"content"`
	Timestamp string  `json:"timestamp,omitempty"`
}

type SearchResults struct {
	Hits  []SearchHit `json:"hits"`
	Count int64       `json:"count"`
}
