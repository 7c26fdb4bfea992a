package rag

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mfenderov/reg-rag/internal/cache"
	"github.com/mfenderov/reg-rag/internal/llm"
	"github.com/mfenderov/reg-rag/pkg/models"
)

type fakeRetriever struct {
	mu    sync.Mutex
	docs  []models.RetrievedDocument
	err   error
	calls int
	lastK int
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, k int) ([]models.RetrievedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastK = k
	return f.docs, f.err
}

type fakeGenerator struct {
	mu      sync.Mutex
	answer  string
	err     error
	calls   int
	prompts []string
	system  string
}

func (f *fakeGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.system = system
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func doc(url, title, section, content string) models.RetrievedDocument {
	return models.RetrievedDocument{
		Content: content,
		Metadata: models.PageMetadata{
			SourceURL:      url,
			PageTitle:      title,
			SectionHeading: section,
		},
	}
}

func ppeDocs() []models.RetrievedDocument {
	return []models.RetrievedDocument{
		doc("https://www.osha.gov/laws-regs/regulations/standardnumber/1910/1910.132", "1910.132", "General requirements", "Protective equipment shall be provided."),
		doc("https://www.osha.gov/laws-regs/regulations/standardnumber/1910/1910.132", "1910.132", "Hazard assessment", "The employer shall assess the workplace."),
		doc("https://www.osha.gov/laws-regs/regulations/standardnumber/1910/1910.133", "1910.133", "Eye and face protection", "Eye protection is required."),
	}
}

func newOrchestrator(r Retriever, g llm.Generator) (*Orchestrator, *cache.LRU[models.QueryResult]) {
	results := cache.New[models.QueryResult](256, time.Hour)
	return New(r, g, results, Config{}), results
}

func TestOrchestrator_AnswerAndCache(t *testing.T) {
	retriever := &fakeRetriever{docs: ppeDocs()}
	generator := &fakeGenerator{answer: "Employers must provide PPE. [Source: 1910.132]"}
	o, _ := newOrchestrator(retriever, generator)

	first, err := o.Answer(t.Context(), "What is 29 CFR 1910.132?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if first.Answer != generator.answer {
		t.Errorf("Answer = %q", first.Answer)
	}

	wantCitations := []models.Citation{
		{URL: "https://www.osha.gov/laws-regs/regulations/standardnumber/1910/1910.132", Title: "1910.132", Section: "General requirements"},
		{URL: "https://www.osha.gov/laws-regs/regulations/standardnumber/1910/1910.133", Title: "1910.133", Section: "Eye and face protection"},
	}
	if !reflect.DeepEqual(first.Citations, wantCitations) {
		t.Errorf("Citations = %+v, want %+v", first.Citations, wantCitations)
	}
	if retriever.lastK != 5 {
		t.Errorf("retriever k = %d, want 5", retriever.lastK)
	}

	second, err := o.Answer(t.Context(), "  what is 29 cfr 1910.132?  ", nil)
	if err != nil {
		t.Fatalf("second Answer() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
	if retriever.calls != 1 || generator.calls != 1 {
		t.Errorf("calls = %d retriever, %d generator; want 1, 1", retriever.calls, generator.calls)
	}
}

func TestOrchestrator_HistoryBypassesCache(t *testing.T) {
	retriever := &fakeRetriever{docs: ppeDocs()}
	generator := &fakeGenerator{answer: "answer"}
	o, results := newOrchestrator(retriever, generator)

	q := "Does this apply to construction?"
	h1 := []models.HistoryTurn{{Role: "user", Content: "Tell me about 1910.132"}}
	h2 := []models.HistoryTurn{{Role: "user", Content: "Tell me about 1926.95"}}

	if _, err := o.Answer(t.Context(), q, h1); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if _, err := o.Answer(t.Context(), q, h2); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if retriever.calls != 2 || generator.calls != 2 {
		t.Errorf("calls = %d retriever, %d generator; want 2, 2", retriever.calls, generator.calls)
	}
	if results.Len() != 0 {
		t.Errorf("history-bearing answers should not be cached, cache has %d", results.Len())
	}
	if !strings.Contains(generator.prompts[1], "User: Tell me about 1926.95") {
		t.Errorf("prompt should contain the history transcript:\n%s", generator.prompts[1])
	}

	// A cached history-free answer is not served to a history-bearing query.
	if _, err := o.Answer(t.Context(), q, nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if _, err := o.Answer(t.Context(), q, h1); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if retriever.calls != 4 {
		t.Errorf("retriever calls = %d, want 4", retriever.calls)
	}
}

func TestOrchestrator_BlankHistoryUsesCache(t *testing.T) {
	retriever := &fakeRetriever{docs: ppeDocs()}
	generator := &fakeGenerator{answer: "answer"}
	o, results := newOrchestrator(retriever, generator)

	q := "What PPE is required?"
	blank := []models.HistoryTurn{{Role: "user", Content: "  "}, {Role: "assistant", Content: ""}}

	if _, err := o.Answer(t.Context(), q, nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if _, err := o.Answer(t.Context(), q, blank); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if retriever.calls != 1 {
		t.Errorf("retriever calls = %d, want 1", retriever.calls)
	}
	if results.Len() != 1 {
		t.Errorf("cache has %d entries, want 1", results.Len())
	}
}

func TestOrchestrator_NoDocumentsFallback(t *testing.T) {
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{answer: "should not be used"}
	o, _ := newOrchestrator(retriever, generator)

	result, err := o.Answer(t.Context(), "What about spaceships?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if result.Answer != FallbackAnswer("OSHA") {
		t.Errorf("Answer = %q, want fallback", result.Answer)
	}
	if result.Citations == nil || len(result.Citations) != 0 {
		t.Errorf("Citations = %#v, want empty non-nil slice", result.Citations)
	}
	if generator.calls != 0 {
		t.Errorf("generator called %d times, want 0", generator.calls)
	}
}

func TestOrchestrator_Errors(t *testing.T) {
	tests := []struct {
		name      string
		retriever *fakeRetriever
		generator *fakeGenerator
		wantErr   error
	}{
		{
			name:      "retrieval failure",
			retriever: &fakeRetriever{err: errors.New("connection refused")},
			generator: &fakeGenerator{},
			wantErr:   ErrRetrievalFailed,
		},
		{
			name:      "generation failure",
			retriever: &fakeRetriever{docs: ppeDocs()},
			generator: &fakeGenerator{err: errors.New("503 from upstream")},
			wantErr:   ErrGenerationFailed,
		},
		{
			name:      "missing credential",
			retriever: &fakeRetriever{docs: ppeDocs()},
			generator: &fakeGenerator{err: llm.ErrNotConfigured},
			wantErr:   llm.ErrNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, results := newOrchestrator(tt.retriever, tt.generator)
			result, err := o.Answer(t.Context(), "What is 1910.132?", nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Answer() error = %v, want %v", err, tt.wantErr)
			}
			if result.Answer != "" {
				t.Errorf("failed Answer() should not return text, got %q", result.Answer)
			}
			if results.Len() != 0 {
				t.Error("failures should not be cached")
			}
		})
	}
}

func TestOrchestrator_EmptyQuestion(t *testing.T) {
	retriever := &fakeRetriever{docs: ppeDocs()}
	o, _ := newOrchestrator(retriever, &fakeGenerator{})

	if _, err := o.Answer(t.Context(), "   ", nil); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("Answer() error = %v, want ErrEmptyQuestion", err)
	}
	if retriever.calls != 0 {
		t.Error("retriever should not be called for an empty question")
	}
}

type slowRetriever struct{}

func (slowRetriever) Retrieve(ctx context.Context, _ string, _ int) ([]models.RetrievedDocument, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestOrchestrator_Timeout(t *testing.T) {
	o := New(slowRetriever{}, &fakeGenerator{}, nil, Config{Timeout: 20 * time.Millisecond})

	_, err := o.Answer(t.Context(), "What is 1910.132?", nil)
	if !errors.Is(err, ErrRetrievalFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Answer() error = %v, want retrieval failure with deadline exceeded", err)
	}
}

func TestOrchestrator_CapsDocuments(t *testing.T) {
	var docs []models.RetrievedDocument
	for i := range 8 {
		docs = append(docs, doc("https://osha.gov/"+string(rune('a'+i)), "T", "", "body"))
	}
	retriever := &fakeRetriever{docs: docs}
	generator := &fakeGenerator{answer: "ok"}
	o, _ := newOrchestrator(retriever, generator)

	result, err := o.Answer(t.Context(), "q", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(result.Citations) != 5 {
		t.Errorf("got %d citations, want 5", len(result.Citations))
	}
	if strings.Contains(generator.prompts[0], "[Document 6]") {
		t.Error("prompt should contain at most 5 documents")
	}
}

func TestCacheKey(t *testing.T) {
	if CacheKey("What is PPE?") != CacheKey("  what is ppe?\n") {
		t.Error("CacheKey() should ignore case and surrounding whitespace")
	}
	if CacheKey("What is PPE?") == CacheKey("What is LOTO?") {
		t.Error("different questions should have different keys")
	}
	if len(CacheKey("q")) != 16 {
		t.Errorf("CacheKey() length = %d, want 16", len(CacheKey("q")))
	}
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, f.err
}

type fakeSearcher struct {
	gotK int
	docs []models.RetrievedDocument
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, k int) ([]models.RetrievedDocument, error) {
	f.gotK = k
	return f.docs, nil
}

func TestVectorRetriever(t *testing.T) {
	store := &fakeSearcher{docs: ppeDocs()}
	r := NewVectorRetriever(fakeEmbedder{}, store)

	docs, err := r.Retrieve(t.Context(), "q", 3)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 3 || store.gotK != 3 {
		t.Errorf("got %d docs with k=%d", len(docs), store.gotK)
	}

	r = NewVectorRetriever(fakeEmbedder{err: errors.New("down")}, store)
	if _, err := r.Retrieve(t.Context(), "q", 3); err == nil {
		t.Error("Retrieve() should fail when embedding fails")
	}
}

func TestOrchestrator_ClearCache(t *testing.T) {
	retriever := &fakeRetriever{docs: ppeDocs()}
	generator := &fakeGenerator{answer: "answer"}
	o, results := newOrchestrator(retriever, generator)

	if _, err := o.Answer(t.Context(), "ppe?", nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	o.ClearCache()
	if results.Len() != 0 {
		t.Errorf("cache Len = %d after ClearCache, want 0", results.Len())
	}
	if _, err := o.Answer(t.Context(), "ppe?", nil); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if retriever.calls != 2 {
		t.Errorf("retriever calls = %d, want 2", retriever.calls)
	}

	// A nil cache is a no-op.
	New(retriever, generator, nil, Config{}).ClearCache()
}

func TestOrchestrator_CachedResultIsolatedFromCallers(t *testing.T) {
	o, _ := newOrchestrator(&fakeRetriever{docs: ppeDocs()}, &fakeGenerator{answer: "answer"})

	first, err := o.Answer(t.Context(), "ppe?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	want := first.Citations[0].URL
	first.Citations[0].URL = "changed"

	second, err := o.Answer(t.Context(), "ppe?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if second.Citations[0].URL != want {
		t.Errorf("cached citation URL = %q, want %q", second.Citations[0].URL, want)
	}

	second.Citations[0].URL = "changed again"
	third, _ := o.Answer(t.Context(), "ppe?", nil)
	if third.Citations[0].URL != want {
		t.Errorf("cached citation URL = %q after mutating a hit, want %q", third.Citations[0].URL, want)
	}
}
