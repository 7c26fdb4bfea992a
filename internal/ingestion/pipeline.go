// Package ingestion turns crawled pages into deduplicated, embedded chunks
// in the vector store.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfenderov/reg-rag/internal/dedup"
	"github.com/mfenderov/reg-rag/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Crawler fetches pages within a URL-prefix scope.
type Crawler interface {
	Crawl(ctx context.Context, startURL, allowPrefix string, maxPages int) ([]models.Page, error)
}

// Splitter breaks text into chunks.
type Splitter interface {
	Split(text string) []string
}

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the vector store written by ingestion.
type Store interface {
	EnsureIndex(ctx context.Context) error
	ScrollAllHashes(ctx context.Context) (dedup.Set, error)
	Upsert(ctx context.Context, chunks []models.Chunk) (int, error)
	Refresh(ctx context.Context) error
}

// Archive reads pages stored by an earlier crawl.
type Archive interface {
	ListPages(ctx context.Context, prefix string) ([]string, error)
	GetPage(ctx context.Context, prefix, filename string) (*models.Page, error)
}

// Config holds pipeline configuration.
type Config struct {
	StartURL    string
	AllowPrefix string
	MaxPages    int
	BatchSize   int // Chunks per embedding request and bulk write
	Concurrency int // Embedding requests in flight
}

// Deps are the collaborators of a Pipeline. Archive may be nil.
type Deps struct {
	Crawler  Crawler
	Splitter Splitter
	Embedder Embedder
	Store    Store
	Archive  Archive
}

// Pipeline crawls, chunks, deduplicates, embeds, and stores pages.
type Pipeline struct {
	deps   Deps
	config Config
}

// New creates a new Pipeline.
func New(deps Deps, config Config) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 500
	}
	return &Pipeline{deps: deps, config: config}
}

// Run crawls up to maxPages pages (the configured default when maxPages
// is not positive) and ingests them.
func (p *Pipeline) Run(ctx context.Context, maxPages int) (models.IngestStats, error) {
	if maxPages <= 0 {
		maxPages = p.config.MaxPages
	}

	slog.Info("starting ingestion", "url", p.config.StartURL, "max_pages", maxPages)

	pages, err := p.deps.Crawler.Crawl(ctx, p.config.StartURL, p.config.AllowPrefix, maxPages)
	if err != nil && len(pages) == 0 {
		return models.IngestStats{}, fmt.Errorf("crawl failed: %w", err)
	}
	if err != nil {
		slog.Warn("crawl ended early", "pages", len(pages), "error", err)
	}

	return p.Ingest(ctx, pages)
}

// IngestArchive ingests every page stored under an archive prefix.
func (p *Pipeline) IngestArchive(ctx context.Context, prefix string) (models.IngestStats, error) {
	if p.deps.Archive == nil {
		return models.IngestStats{}, fmt.Errorf("no page archive configured")
	}

	files, err := p.deps.Archive.ListPages(ctx, prefix)
	if err != nil {
		return models.IngestStats{}, fmt.Errorf("failed to list archived pages: %w", err)
	}

	slog.Info("found archived pages", "prefix", prefix, "count", len(files))

	pages := make([]models.Page, 0, len(files))
	for _, filename := range files {
		if ctx.Err() != nil {
			return models.IngestStats{}, ctx.Err()
		}
		page, err := p.deps.Archive.GetPage(ctx, prefix, filename)
		if err != nil {
			slog.Warn("failed to read archived page", "filename", filename, "error", err)
			continue
		}
		pages = append(pages, *page)
	}

	return p.Ingest(ctx, pages)
}

// Ingest chunks pages and stores the chunks not already in the store.
// Re-ingesting unchanged pages adds nothing.
func (p *Pipeline) Ingest(ctx context.Context, pages []models.Page) (models.IngestStats, error) {
	start := time.Now()

	if err := p.deps.Store.EnsureIndex(ctx); err != nil {
		return models.IngestStats{}, fmt.Errorf("failed to ensure index: %w", err)
	}

	existing, err := p.deps.Store.ScrollAllHashes(ctx)
	if err != nil {
		slog.Warn("could not fetch existing hashes", "error", err)
		existing = dedup.NewSet()
	}

	chunks := p.ChunkPages(pages)
	fresh, skipped := dedup.FilterNew(chunks, existing)

	slog.Info("chunked pages",
		"pages", len(pages),
		"chunks", len(chunks),
		"new", len(fresh),
		"skipped", skipped)

	stats := models.IngestStats{
		PagesProcessed:     len(pages),
		ChunksSkippedDedup: skipped,
	}

	if len(fresh) > 0 {
		if err := p.embed(ctx, fresh); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		added, err := p.store(ctx, fresh)
		stats.ChunksAdded = added
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}

		if err := p.deps.Store.Refresh(ctx); err != nil {
			slog.Warn("failed to refresh index", "error", err)
		}
	}

	stats.Duration = time.Since(start)
	slog.Info("ingestion complete",
		"pages_processed", stats.PagesProcessed,
		"chunks_added", stats.ChunksAdded,
		"chunks_skipped_dedup", stats.ChunksSkippedDedup,
		"duration", stats.Duration)

	return stats, nil
}

// ChunkPages splits every page into fingerprinted chunks carrying the
// page's metadata.
func (p *Pipeline) ChunkPages(pages []models.Page) []models.Chunk {
	var chunks []models.Chunk
	for _, page := range pages {
		texts := p.deps.Splitter.Split(page.Text)
		for i, text := range texts {
			chunks = append(chunks, models.Chunk{
				Content:     text,
				Index:       i,
				TotalChunks: len(texts),
				Hash:        dedup.Fingerprint(page.URL, text),
				Metadata:    page.Metadata,
			})
		}
	}
	return chunks
}

// embed fills in chunk embeddings, running batches concurrently.
func (p *Pipeline) embed(ctx context.Context, chunks []models.Chunk) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for lo := 0; lo < len(chunks); lo += p.config.BatchSize {
		batch := chunks[lo:min(lo+p.config.BatchSize, len(chunks))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Content
			}

			vectors, err := p.deps.Embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks: %w", err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
			}
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			return nil
		})
	}

	return g.Wait()
}

// store upserts chunks in batches and returns how many were accepted.
func (p *Pipeline) store(ctx context.Context, chunks []models.Chunk) (int, error) {
	added := 0
	for lo := 0; lo < len(chunks); lo += p.config.BatchSize {
		batch := chunks[lo:min(lo+p.config.BatchSize, len(chunks))]
		n, err := p.deps.Store.Upsert(ctx, batch)
		added += n
		if err != nil {
			return added, fmt.Errorf("failed to upsert chunks: %w", err)
		}
		slog.Debug("upserted chunks", "count", n, "total", added)
	}
	return added, nil
}
