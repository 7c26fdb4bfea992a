package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// PageMetadata is derived from page markup. Every field is best-effort.
type PageMetadata struct {
	SourceURL       string `json:"source_url"`
	PageTitle       string `json:"page_title"`
	SectionHeading  string `json:"section_heading"`
	MetaDescription string `json:"meta_description"`
	Domain          string `json:"domain"`
	ContentType     string `json:"content_type"`
}

// Page represents a successfully fetched, non-empty document.
type Page struct {
	URL       string       `json:"url"`
	Text      string       `json:"text"`
	Metadata  PageMetadata `json:"metadata"`
	CrawledAt time.Time    `json:"crawled_at"`
}

// Chunk is a bounded slice of a page's text, the unit of embedding and retrieval.
type Chunk struct {
	Content     string       `json:"content"`
	Index       int          `json:"chunk_index"`
	TotalChunks int          `json:"total_chunks"`
	Hash        string       `json:"chunk_hash"`
	Metadata    PageMetadata `json:"metadata"`
	Embedding   []float32    `json:"embedding,omitempty"`
}

// RetrievedDocument is a chunk returned by similarity search.
type RetrievedDocument struct {
	Content  string       `json:"content"`
	Metadata PageMetadata `json:"metadata"`
	Score    float64      `json:"score,omitempty"`
}

// Citation points at a source page used to produce an answer.
type Citation struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Section string `json:"section"`
}

// QueryResult is the answer to a question along with its sources.
type QueryResult struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// HistoryTurn is one normalized message of a prior conversation.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IngestStats summarizes an ingestion run.
type IngestStats struct {
	PagesProcessed     int           `json:"pages_processed"`
	ChunksAdded        int           `json:"chunks_added"`
	ChunksSkippedDedup int           `json:"chunks_skipped_dedup"`
	Duration           time.Duration `json:"duration"`
}

// GenerateDocumentID creates a deterministic ID from URL.
// The ID is a SHA-256 hash (first 16 chars) of the URL.
func GenerateDocumentID(url string) string {
	hash := sha256.Sum256([]byte(url))
	return hex.EncodeToString(hash[:])[:16]
}
