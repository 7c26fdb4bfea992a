package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfenderov/reg-rag/internal/events"
	"github.com/mfenderov/reg-rag/internal/jobs"
	"github.com/mfenderov/reg-rag/internal/rag"
	"github.com/mfenderov/reg-rag/internal/server"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server for chat and background ingestion.

Endpoints:
  POST /chat          Answer a question, with optional history
  POST /ingest        Start an ingestion job (token protected)
  GET  /ingest/{id}   Ingestion job status
  GET  /health        Vector store health
  GET  /metrics       Index, cache, and job counters

Example:
  reg-rag serve --addr :8000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if cfg.Server.IngestToken == "" {
		slog.Warn("ingest token not set; POST /ingest is unauthenticated")
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	orchestrator, err := a.orchestrator()
	if err != nil {
		return err
	}
	p, err := a.pipeline()
	if err != nil {
		return err
	}

	completed := make(chan events.IngestionCompleteEvent, cfg.Server.JobHistory)
	runner := jobs.New(p.Run, jobs.Config{
		Workers: cfg.Server.Workers,
		History: cfg.Server.JobHistory,
		Events:  completed,
	})
	go clearCacheOnIngest(ctx, completed, orchestrator)

	srv := server.New(orchestrator, runner, a.store, server.Config{
		Addr:        cfg.Server.Addr,
		IngestToken: cfg.Server.IngestToken,
		Name:        cfg.MCP.Name,
		Version:     cfg.MCP.Version,
	})

	fmt.Fprintf(cmd.ErrOrStderr(), "Starting HTTP server on %s...\n", cfg.Server.Addr)
	serveErr := srv.ListenAndServe(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ingestion jobs cancelled on shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}

// clearCacheOnIngest drops cached answers once ingestion adds chunks, until
// ctx is done.
func clearCacheOnIngest(ctx context.Context, completed <-chan events.IngestionCompleteEvent, orchestrator *rag.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-completed:
			if event.Err == nil && event.Stats.ChunksAdded > 0 {
				orchestrator.ClearCache()
				slog.Info("result cache cleared", "job_id", event.JobID, "chunks_added", event.Stats.ChunksAdded)
			}
		}
	}
}
