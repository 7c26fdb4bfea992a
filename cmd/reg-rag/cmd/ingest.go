package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/mfenderov/reg-rag/pkg/models"
	"github.com/spf13/cobra"
)

var (
	ingestPrefix   string
	ingestMaxPages int
	ingestReset    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the ingestion pipeline",
	Long: `Crawl, chunk, deduplicate, embed, and index regulation pages.

Chunks already in the index are skipped, so re-running only adds new
content. With --prefix, pages from an archived crawl in S3 are ingested
instead of crawling again.

Examples:
  # Crawl and ingest up to crawler.max_pages pages
  reg-rag ingest

  # Drop the index and re-ingest from scratch
  reg-rag ingest --reset

  # Ingest a specific archived crawl by prefix
  reg-rag ingest --prefix crawls/www.osha.gov/2024-12-04T17-30-00-abc12345`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestPrefix, "prefix", "", "S3 prefix of an archived crawl to ingest")
	ingestCmd.Flags().IntVar(&ingestMaxPages, "max-pages", 0, "maximum pages to crawl (default crawler.max_pages)")
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "delete the index before ingesting")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	slog.Debug("ingest command starting", "prefix", ingestPrefix, "max_pages", ingestMaxPages, "reset", ingestReset)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	p, err := a.pipeline()
	if err != nil {
		return err
	}

	if ingestReset {
		if err := a.store.DeleteIndex(ctx); err != nil {
			return err
		}
		fmt.Printf("Deleted index: %s\n", cfg.Elasticsearch.Index)
	}

	var stats models.IngestStats
	if ingestPrefix != "" {
		if a.archive == nil {
			return fmt.Errorf("storage not configured - check config file")
		}
		fmt.Printf("Ingesting: %s\n", ingestPrefix)
		if meta, err := a.archive.GetMetadata(ctx, ingestPrefix); err != nil {
			slog.Warn("crawl metadata unavailable", "prefix", ingestPrefix, "error", err)
		} else {
			fmt.Printf("  Source: %s, Pages: %d, Crawled: %s\n", meta.SourceURL, meta.PageCount, meta.Timestamp)
		}
		stats, err = p.IngestArchive(ctx, ingestPrefix)
	} else {
		fmt.Printf("Ingesting: %s\n", cfg.Crawler.StartURL())
		stats, err = p.Run(ctx, ingestMaxPages)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	printStats(stats)
	return nil
}

func printStats(stats models.IngestStats) {
	fmt.Printf("\nIngestion complete:\n")
	fmt.Printf("  Pages processed: %d\n", stats.PagesProcessed)
	fmt.Printf("  Chunks added: %d\n", stats.ChunksAdded)
	fmt.Printf("  Chunks skipped (duplicate): %d\n", stats.ChunksSkippedDedup)
	fmt.Printf("  Duration: %v\n", stats.Duration)
}
