// Package rag answers questions from retrieved regulation chunks.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mfenderov/reg-rag/internal/cache"
	"github.com/mfenderov/reg-rag/internal/llm"
	"github.com/mfenderov/reg-rag/pkg/models"
)

var (
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrRetrievalFailed wraps failures of the retriever.
	ErrRetrievalFailed = errors.New("retrieval failed")
	// ErrGenerationFailed wraps failures of the generator.
	ErrGenerationFailed = errors.New("generation failed")
)

// Config holds orchestrator configuration.
type Config struct {
	TopK         int           // Documents retrieved per question
	HistoryTurns int           // Most recent history turns included in the prompt
	SourceName   string        // Regulator name used in prompts (e.g., "OSHA")
	Timeout      time.Duration // Bound on retrieval plus generation; 0 disables
}

// Orchestrator answers questions with cached retrieval-augmented generation.
type Orchestrator struct {
	retriever Retriever
	generator llm.Generator
	cache     *cache.LRU[models.QueryResult]
	config    Config
}

// New creates an Orchestrator. A nil cache disables caching.
func New(retriever Retriever, generator llm.Generator, results *cache.LRU[models.QueryResult], config Config) *Orchestrator {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.HistoryTurns <= 0 {
		config.HistoryTurns = 5
	}
	if config.SourceName == "" {
		config.SourceName = "OSHA"
	}
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		cache:     results,
		config:    config,
	}
}

// CacheKey derives the result cache key for a history-free question.
func CacheKey(question string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.ToLower(strings.TrimSpace(question))))
}

// Answer responds to question. Questions with history bypass the cache in
// both directions. Finding no documents is not an error: the fallback
// answer is returned without calling the generator.
func (o *Orchestrator) Answer(ctx context.Context, question string, history []models.HistoryTurn) (models.QueryResult, error) {
	if strings.TrimSpace(question) == "" {
		return models.QueryResult{}, ErrEmptyQuestion
	}

	// Turns with blank content are dropped first, so all-blank history uses the cache.
	history = NormalizeHistory(history)
	useCache := len(history) == 0 && o.cache != nil

	var key string
	if useCache {
		key = CacheKey(question)
		if result, ok := o.cache.Get(key); ok {
			slog.Info("cache hit", "question", truncate(question, 50))
			return cloneResult(result), nil
		}
	}

	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	slog.Info("processing question", "history_turns", len(history), "question", truncate(question, 50))

	result, err := o.answer(ctx, question, history)
	if err != nil {
		return models.QueryResult{}, err
	}

	if useCache {
		o.cache.Set(key, cloneResult(result))
	}
	return result, nil
}

func (o *Orchestrator) answer(ctx context.Context, question string, history []models.HistoryTurn) (models.QueryResult, error) {
	docs, err := o.retriever.Retrieve(ctx, question, o.config.TopK)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("%w: %w", ErrRetrievalFailed, err)
	}
	if len(docs) > o.config.TopK {
		docs = docs[:o.config.TopK]
	}

	if len(docs) == 0 {
		slog.Info("no documents retrieved", "question", truncate(question, 50))
		return models.QueryResult{
			Answer:    FallbackAnswer(o.config.SourceName),
			Citations: []models.Citation{},
		}, nil
	}

	prompt := BuildPrompt(FormatDocuments(docs), FormatHistory(history, o.config.HistoryTurns), question)

	answer, err := o.generator.Generate(ctx, SystemPrompt(o.config.SourceName), prompt)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	return models.QueryResult{
		Answer:    answer,
		Citations: ExtractCitations(docs),
	}, nil
}

// CacheStats reports result cache activity. It is zero when caching is off.
func (o *Orchestrator) CacheStats() cache.Stats {
	if o.cache == nil {
		return cache.Stats{}
	}
	return o.cache.Stats()
}

// ClearCache drops every cached answer.
func (o *Orchestrator) ClearCache() {
	if o.cache != nil {
		o.cache.Clear()
	}
}

// cloneResult copies citations so callers never share a cache entry's slice.
func cloneResult(r models.QueryResult) models.QueryResult {
	r.Citations = slices.Clone(r.Citations)
	return r
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for i := range s {
		if i >= n {
			return s[:i] + "..."
		}
	}
	return s
}
