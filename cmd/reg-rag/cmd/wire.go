package cmd

import (
	"fmt"
	"log/slog"

	"github.com/mfenderov/reg-rag/internal/cache"
	"github.com/mfenderov/reg-rag/internal/chunker"
	"github.com/mfenderov/reg-rag/internal/config"
	"github.com/mfenderov/reg-rag/internal/elasticsearch"
	"github.com/mfenderov/reg-rag/internal/embeddings"
	"github.com/mfenderov/reg-rag/internal/ingestion"
	"github.com/mfenderov/reg-rag/internal/llm"
	"github.com/mfenderov/reg-rag/internal/rag"
	"github.com/mfenderov/reg-rag/internal/robots"
	"github.com/mfenderov/reg-rag/internal/scraper"
	"github.com/mfenderov/reg-rag/internal/storage"
	"github.com/mfenderov/reg-rag/pkg/models"
)

// app holds the components shared by the commands.
type app struct {
	cfg      config.Config
	store    *elasticsearch.Client
	embedder *embeddings.Client
	crawler  *scraper.Crawler
	archive  *storage.Client // nil when storage is not configured
}

func newApp(cfg config.Config) (*app, error) {
	store, err := elasticsearch.New(elasticsearch.Config{
		Addresses: cfg.Elasticsearch.Addresses,
		Index:     cfg.Elasticsearch.Index,
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
		Dims:      cfg.Elasticsearch.Dims,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	dims := cfg.Embeddings.Dimensions
	if dims == 0 {
		dims = embeddings.Dimensions(cfg.Embeddings.Model)
	}
	if cfg.Elasticsearch.Dims != 0 && dims != cfg.Elasticsearch.Dims {
		return nil, fmt.Errorf("embedding dimensions %d do not match index dims %d", dims, cfg.Elasticsearch.Dims)
	}

	embedder, err := embeddings.New(embeddings.Config{
		BaseURL:    cfg.Embeddings.BaseURL,
		APIKey:     cfg.Embeddings.APIKey,
		SocketPath: cfg.Embeddings.SocketPath,
		Model:      cfg.Embeddings.Model,
		Dimensions: dims,
		Timeout:    cfg.Embeddings.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings client: %w", err)
	}

	gate := robots.New(robots.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RobotsTimeout,
	})
	crawler := scraper.New(scraper.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.Crawler.Timeout,
		ContentType: cfg.Crawler.ContentType,
		Markdown:    cfg.Crawler.Markdown,
		ProxyURL:    cfg.Crawler.ProxyURL,
	}, gate)

	a := &app{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		crawler:  crawler,
	}

	if cfg.Storage.Endpoint != "" {
		a.archive, err = storage.New(storage.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Bucket:          cfg.Storage.Bucket,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			UseSSL:          cfg.Storage.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
	}

	return a, nil
}

func (a *app) pipeline() (*ingestion.Pipeline, error) {
	splitter, err := chunker.New(a.cfg.Chunker.Size, a.cfg.Chunker.Overlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	deps := ingestion.Deps{
		Crawler:  a.crawler,
		Splitter: splitter,
		Embedder: a.embedder,
		Store:    a.store,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}

	return ingestion.New(deps, ingestion.Config{
		StartURL:    a.cfg.Crawler.StartURL(),
		AllowPrefix: a.cfg.Crawler.AllowPrefix,
		MaxPages:    a.cfg.Crawler.MaxPages,
		Concurrency: a.cfg.Embeddings.Concurrency,
	}), nil
}

func (a *app) retriever() *rag.VectorRetriever {
	return rag.NewVectorRetriever(a.embedder, a.store)
}

func (a *app) orchestrator() (*rag.Orchestrator, error) {
	generator, err := llm.New(llm.Config{
		Provider:    a.cfg.LLM.Provider,
		BaseURL:     a.cfg.LLM.BaseURL,
		APIKey:      a.cfg.LLM.APIKey,
		SocketPath:  a.cfg.LLM.SocketPath,
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		Timeout:     a.cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	if a.cfg.LLM.APIKey == "" && a.cfg.LLM.SocketPath == "" {
		slog.Warn("no LLM API key configured; answers will fail until one is set", "provider", a.cfg.LLM.Provider)
	}

	results := cache.New[models.QueryResult](a.cfg.Cache.MaxSize, a.cfg.Cache.TTL)

	return rag.New(a.retriever(), generator, results, rag.Config{
		TopK:         a.cfg.RAG.TopK,
		HistoryTurns: a.cfg.RAG.HistoryTurns,
		SourceName:   a.cfg.RAG.SourceName,
		Timeout:      a.cfg.RAG.Timeout,
	}), nil
}
