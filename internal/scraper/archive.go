package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/mfenderov/reg-rag/internal/storage"
	"github.com/mfenderov/reg-rag/pkg/models"
)

// Archive stores crawled pages for later ingestion.
type Archive interface {
	PutPage(ctx context.Context, prefix string, page models.Page) error
	PutMetadata(ctx context.Context, prefix string, meta storage.CrawlMetadata) error
	Bucket() string
}

// CrawlResult holds the result of a CrawlToArchive operation.
type CrawlResult struct {
	Prefix    string // Archive prefix where pages were written
	PageCount int    // Number of pages archived
	SourceURL string // URL the crawl started at
}

// ArchivePrefix returns a unique prefix of the form crawls/{host}/{timestamp}-{id}.
func ArchivePrefix(startURL string, now time.Time) (string, error) {
	parsedURL, err := url.Parse(startURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	timestamp := now.UTC().Format("2006-01-02T15-04-05")
	shortID := models.GenerateDocumentID(fmt.Sprintf("%s-%d", startURL, now.UnixNano()))[:8]
	return fmt.Sprintf("crawls/%s/%s-%s", parsedURL.Host, timestamp, shortID), nil
}

// CrawlToArchive crawls startURL and writes every page to the archive.
// Pages that fail to write are logged and left out of the metadata.
func (c *Crawler) CrawlToArchive(ctx context.Context, startURL, allowPrefix string, maxPages int, archive Archive) (*CrawlResult, error) {
	prefix, err := ArchivePrefix(startURL, time.Now())
	if err != nil {
		return nil, err
	}

	slog.Info("starting crawl to archive", "url", startURL, "prefix", prefix)

	pages, err := c.Crawl(ctx, startURL, allowPrefix, maxPages)
	if err != nil && len(pages) == 0 {
		return nil, fmt.Errorf("crawl failed: %w", err)
	}

	var pageURLs []string
	for _, page := range pages {
		if err := archive.PutPage(ctx, prefix, page); err != nil {
			slog.Error("failed to archive page", "url", page.URL, "error", err)
			continue
		}
		pageURLs = append(pageURLs, page.URL)
		slog.Debug("archived page", "url", page.URL, "filename", storage.PageFilename(page.URL))
	}

	meta := storage.CrawlMetadata{
		SourceURL: startURL,
		Prefix:    prefix,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		PageCount: len(pageURLs),
		Pages:     pageURLs,
	}
	if err := archive.PutMetadata(ctx, prefix, meta); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}

	slog.Info("crawl to archive complete", "url", startURL, "prefix", prefix, "pages", len(pageURLs))

	return &CrawlResult{
		Prefix:    prefix,
		PageCount: len(pageURLs),
		SourceURL: startURL,
	}, nil
}
