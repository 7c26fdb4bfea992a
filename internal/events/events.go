// Package events defines messages passed between crawl and ingestion stages.
package events

import (
	"time"

	"github.com/mfenderov/reg-rag/pkg/models"
)

// CrawlCompleteEvent is sent when a crawl finishes writing to the archive.
type CrawlCompleteEvent struct {
	Bucket    string    // Archive bucket name (e.g., "reg-rag")
	Prefix    string    // Archive prefix (e.g., "crawls/www.osha.gov/2024-12-04T17-30-00-abc123")
	SourceURL string    // URL the crawl started at
	PageCount int       // Number of pages archived
	Timestamp time.Time // When the crawl completed
}

// IngestionCompleteEvent is sent when an ingestion run finishes.
type IngestionCompleteEvent struct {
	JobID    string             // Job that ran the ingestion, if any
	Prefix   string             // Archive prefix that was ingested; empty for live crawls
	Stats    models.IngestStats // Counts reported by the pipeline
	Duration time.Duration      // How long ingestion took
	Err      error              // Set when the run failed
}
