package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfenderov/reg-rag/internal/events"
	"github.com/mfenderov/reg-rag/internal/ingestion"
	"github.com/spf13/cobra"
)

var (
	crawlURL      string
	crawlPrefix   string
	crawlMaxPages int
	noIngest      bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl and index regulation pages",
	Long: `Crawl regulation pages breadth-first from the configured start URL.

When storage is configured, pages are archived to S3 first and each archived
crawl is handed to ingestion. Otherwise pages go straight into ingestion.

Examples:
  # Crawl the configured OSHA laws-regs section (crawl + ingest)
  reg-rag crawl

  # Crawl at most 20 pages
  reg-rag crawl --max-pages 20

  # Crawl only (write to S3, no ingestion)
  reg-rag crawl --no-ingest`,
	RunE: runCrawl,
}

func init() {
	rootCmd.AddCommand(crawlCmd)

	crawlCmd.Flags().StringVar(&crawlURL, "url", "", "start URL (default from crawler.base_url + crawler.start_path)")
	crawlCmd.Flags().StringVar(&crawlPrefix, "allow-prefix", "", "path prefix links must match (default crawler.allow_prefix)")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "maximum pages to crawl (default crawler.max_pages)")
	crawlCmd.Flags().BoolVar(&noIngest, "no-ingest", false, "crawl to S3 only, skip ingestion")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if crawlURL == "" {
		crawlURL = cfg.Crawler.StartURL()
	}
	if crawlPrefix == "" {
		crawlPrefix = cfg.Crawler.AllowPrefix
	}
	if crawlMaxPages <= 0 {
		crawlMaxPages = cfg.Crawler.MaxPages
	}
	slog.Debug("crawl command starting", "url", crawlURL, "max_pages", crawlMaxPages, "no_ingest", noIngest)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	if a.archive == nil {
		if noIngest {
			return fmt.Errorf("--no-ingest needs storage configured")
		}
		return runDirectCrawl(ctx, a)
	}

	if err := a.archive.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	if noIngest {
		return runCrawlOnly(ctx, a)
	}
	return runCrawlWithIngest(ctx, a)
}

// runDirectCrawl crawls and ingests in one pass without archiving.
func runDirectCrawl(ctx context.Context, a *app) error {
	pages, err := a.crawler.Crawl(ctx, crawlURL, crawlPrefix, crawlMaxPages)
	if err != nil && len(pages) == 0 {
		return fmt.Errorf("crawl failed: %w", err)
	}
	fmt.Printf("Crawled: %d pages from %s\n", len(pages), crawlURL)

	p, err := a.pipeline()
	if err != nil {
		return err
	}

	stats, err := p.Ingest(ctx, pages)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	printStats(stats)
	return nil
}

// runCrawlOnly writes crawled pages to S3 without ingestion.
func runCrawlOnly(ctx context.Context, a *app) error {
	fmt.Printf("Crawling to S3: %s\n", crawlURL)

	result, err := a.crawler.CrawlToArchive(ctx, crawlURL, crawlPrefix, crawlMaxPages, a.archive)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}

	fmt.Printf("  Pages: %d, Prefix: %s\n", result.PageCount, result.Prefix)
	fmt.Println("Run 'reg-rag ingest --prefix <prefix>' to index these pages")
	return nil
}

// runCrawlWithIngest archives the crawl and hands it to an ingestion worker
// over a channel.
func runCrawlWithIngest(ctx context.Context, a *app) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}

	crawlEvents := make(chan events.CrawlCompleteEvent)
	results := make(chan events.IngestionCompleteEvent, 1)

	// Ingestion worker (consumer)
	go consumeCrawls(ctx, p, crawlEvents, results)

	// Crawl (producer)
	fmt.Printf("Crawling: %s\n", crawlURL)
	result, err := a.crawler.CrawlToArchive(ctx, crawlURL, crawlPrefix, crawlMaxPages, a.archive)
	if err != nil {
		close(crawlEvents)
		<-results
		return fmt.Errorf("crawl failed: %w", err)
	}
	fmt.Printf("  Pages: %d, Prefix: %s\n", result.PageCount, result.Prefix)

	crawlEvents <- events.CrawlCompleteEvent{
		Bucket:    a.archive.Bucket(),
		Prefix:    result.Prefix,
		SourceURL: result.SourceURL,
		PageCount: result.PageCount,
		Timestamp: time.Now(),
	}
	close(crawlEvents)

	done := <-results
	if done.Err != nil {
		return fmt.Errorf("ingestion failed: %w", done.Err)
	}
	printStats(done.Stats)
	return nil
}

// consumeCrawls ingests each archived crawl and reports the last outcome.
func consumeCrawls(ctx context.Context, p *ingestion.Pipeline, in <-chan events.CrawlCompleteEvent, out chan<- events.IngestionCompleteEvent) {
	defer close(out)

	var last events.IngestionCompleteEvent
	for event := range in {
		fmt.Printf("Ingesting: %s (%d pages)\n", event.Prefix, event.PageCount)

		start := time.Now()
		stats, err := p.IngestArchive(ctx, event.Prefix)
		last = events.IngestionCompleteEvent{
			Prefix:   event.Prefix,
			Stats:    stats,
			Duration: time.Since(start),
			Err:      err,
		}
		if err != nil {
			slog.Error("ingestion failed", "prefix", event.Prefix, "error", err)
		}
	}
	out <- last
}
