package elasticsearch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mfenderov/reg-rag/internal/dedup"
	"github.com/mfenderov/reg-rag/pkg/models"
)

func skipIfNoES(t *testing.T) {
	if os.Getenv("SKIP_ES_TESTS") == "1" {
		t.Skip("Skipping ES tests (SKIP_ES_TESTS=1)")
	}

	client, err := New(Config{
		Addresses: []string{"http://localhost:9200"},
		Index:     "test-skip-check",
	})
	if err != nil {
		t.Skipf("Skipping ES tests: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !client.Ping(ctx) {
		t.Skip("Skipping ES tests: Elasticsearch not available")
	}
}

// fakeES is a minimal Elasticsearch stand-in for request/response shape tests.
type fakeES struct {
	mu       sync.Mutex
	handler  func(w http.ResponseWriter, r *http.Request, body string)
	requests []string
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	if r.Body != nil {
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 1024*1024), 1024*1024)
		for sc.Scan() {
			b.WriteString(sc.Text())
			b.WriteString("\n")
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.handler(w, r, b.String())
}

func newFakeClient(t *testing.T, dims int, handler func(w http.ResponseWriter, r *http.Request, body string)) (*Client, *fakeES) {
	t.Helper()
	fake := &fakeES{handler: handler}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := New(Config{
		Addresses: []string{server.URL},
		Index:     "osha-test",
		Dims:      dims,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client, fake
}

func hashPage(scrollID string, hashes ...string) string {
	hits := make([]string, len(hashes))
	for i, h := range hashes {
		hits[i] = fmt.Sprintf(`{"_source":{"chunk_hash":%q}}`, h)
	}
	return fmt.Sprintf(`{"_scroll_id":%q,"hits":{"hits":[%s]}}`, scrollID, strings.Join(hits, ","))
}

func TestNew_RequiresIndex(t *testing.T) {
	if _, err := New(Config{Addresses: []string{"http://localhost:9200"}}); err == nil {
		t.Error("New() without index should fail")
	}
}

func TestIndexMapping(t *testing.T) {
	var m map[string]any
	if err := json.Unmarshal([]byte(indexMapping(384)), &m); err != nil {
		t.Fatalf("mapping is not valid JSON: %v", err)
	}
	props := m["mappings"].(map[string]any)["properties"].(map[string]any)
	embedding := props["embedding"].(map[string]any)
	if embedding["dims"] != float64(384) {
		t.Errorf("dims = %v, want 384", embedding["dims"])
	}
	if props["chunk_hash"].(map[string]any)["type"] != "keyword" {
		t.Error("chunk_hash should be a keyword field")
	}
}

func TestClient_ScrollAllHashes(t *testing.T) {
	pages := []string{
		hashPage("s1", "h1", "h2"),
		hashPage("s2", "h3"),
		hashPage("s3"),
	}
	var page int
	var cleared string

	client, fake := newFakeClient(t, 3, func(w http.ResponseWriter, r *http.Request, body string) {
		switch {
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/_search/scroll"):
			cleared = r.URL.Path
			w.Write([]byte(`{"succeeded":true}`))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			if r.URL.Query().Get("size") != "100" {
				t.Errorf("size = %q, want 100", r.URL.Query().Get("size"))
			}
			if r.URL.Query().Get("_source") != "chunk_hash" {
				t.Errorf("_source = %q, want chunk_hash", r.URL.Query().Get("_source"))
			}
			w.Write([]byte(pages[0]))
			page = 1
		case strings.HasPrefix(r.URL.Path, "/_search/scroll"):
			w.Write([]byte(pages[page]))
			page++
		default:
			http.NotFound(w, r)
		}
	})

	hashes, err := client.ScrollAllHashes(t.Context())
	if err != nil {
		t.Fatalf("ScrollAllHashes() error = %v", err)
	}
	if len(hashes) != 3 {
		t.Errorf("got %d hashes, want 3", len(hashes))
	}
	for _, h := range []string{"h1", "h2", "h3"} {
		if !hashes.Has(h) {
			t.Errorf("missing hash %s", h)
		}
	}
	// The latest scroll id is the one the server still holds open.
	if cleared != "/_search/scroll/s3" {
		t.Errorf("cleared %q, want /_search/scroll/s3; requests: %v", cleared, fake.requests)
	}
}

func TestClient_ScrollAllHashes_MissingIndex(t *testing.T) {
	client, _ := newFakeClient(t, 3, func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"type":"index_not_found_exception"},"status":404}`))
	})

	hashes, err := client.ScrollAllHashes(t.Context())
	if err != nil {
		t.Fatalf("ScrollAllHashes() error = %v", err)
	}
	if len(hashes) != 0 {
		t.Errorf("got %d hashes, want 0", len(hashes))
	}
}

func TestClient_ScrollAllHashes_Error(t *testing.T) {
	client, _ := newFakeClient(t, 3, func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	})

	if _, err := client.ScrollAllHashes(t.Context()); err == nil {
		t.Error("ScrollAllHashes() should fail on server error")
	}
}

func TestClient_DeleteIndex(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"deleted", http.StatusOK, false},
		{"missing index", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, fake := newFakeClient(t, 3, func(w http.ResponseWriter, r *http.Request, body string) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"acknowledged":true}`))
			})

			err := client.DeleteIndex(t.Context())
			if (err != nil) != tt.wantErr {
				t.Errorf("DeleteIndex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(fake.requests) != 1 || fake.requests[0] != "DELETE /osha-test" {
				t.Errorf("requests = %v, want [DELETE /osha-test]", fake.requests)
			}
		})
	}
}

func TestClient_Upsert(t *testing.T) {
	var bulkBody string
	client, _ := newFakeClient(t, 2, func(w http.ResponseWriter, r *http.Request, body string) {
		bulkBody = body
		w.Write([]byte(`{"errors":false,"items":[
			{"index":{"_id":"h1","status":201}},
			{"index":{"_id":"h2","status":200}}
		]}`))
	})

	chunks := []models.Chunk{
		{Content: "a", Hash: "h1", Embedding: []float32{0.1, 0.2}, Metadata: models.PageMetadata{SourceURL: "u"}},
		{Content: "b", Hash: "h2", Embedding: []float32{0.3, 0.4}, Metadata: models.PageMetadata{SourceURL: "u"}},
	}

	n, err := client.Upsert(t.Context(), chunks)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Upsert() = %d, want 2", n)
	}

	lines := strings.Split(strings.TrimSpace(bulkBody), "\n")
	if len(lines) != 4 {
		t.Fatalf("bulk body has %d lines, want 4:\n%s", len(lines), bulkBody)
	}
	if !strings.Contains(lines[0], `"_id":"h1"`) {
		t.Errorf("action line = %s, want _id h1", lines[0])
	}
	var stored models.Chunk
	if err := json.Unmarshal([]byte(lines[1]), &stored); err != nil {
		t.Fatalf("document line is not JSON: %v", err)
	}
	if stored.Hash != "h1" || len(stored.Embedding) != 2 {
		t.Errorf("stored chunk = %+v", stored)
	}
}

func TestClient_Upsert_ItemErrors(t *testing.T) {
	client, _ := newFakeClient(t, 1, func(w http.ResponseWriter, r *http.Request, body string) {
		w.Write([]byte(`{"errors":true,"items":[
			{"index":{"_id":"h1","status":201}},
			{"index":{"_id":"h2","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad vector"}}}
		]}`))
	})

	chunks := []models.Chunk{
		{Content: "a", Hash: "h1", Embedding: []float32{1}},
		{Content: "b", Hash: "h2", Embedding: []float32{1}},
	}
	n, err := client.Upsert(t.Context(), chunks)
	if err == nil || !strings.Contains(err.Error(), "bad vector") {
		t.Errorf("Upsert() error = %v, want item failure", err)
	}
	if n != 1 {
		t.Errorf("Upsert() = %d, want 1", n)
	}
}

func TestClient_Upsert_Validation(t *testing.T) {
	client, fake := newFakeClient(t, 3, func(w http.ResponseWriter, r *http.Request, body string) {
		w.Write([]byte(`{"errors":false,"items":[]}`))
	})

	tests := []struct {
		name  string
		chunk models.Chunk
	}{
		{"missing hash", models.Chunk{Content: "a", Embedding: []float32{1, 2, 3}}},
		{"wrong dimensions", models.Chunk{Content: "a", Hash: "h", Embedding: []float32{1, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.Upsert(t.Context(), []models.Chunk{tt.chunk}); err == nil {
				t.Error("Upsert() should fail")
			}
		})
	}

	if n, err := client.Upsert(t.Context(), nil); n != 0 || err != nil {
		t.Errorf("Upsert(nil) = %d, %v; want 0, nil", n, err)
	}
	if len(fake.requests) != 0 {
		t.Errorf("invalid upserts should not reach the store, got %v", fake.requests)
	}
}

func TestClient_Search(t *testing.T) {
	var query map[string]any
	client, _ := newFakeClient(t, 2, func(w http.ResponseWriter, r *http.Request, body string) {
		json.Unmarshal([]byte(body), &query)
		w.Write([]byte(`{"hits":{"hits":[
			{"_score":0.9,"_source":{"content":"PPE text","chunk_hash":"h1","metadata":{"source_url":"https://osha.gov/a","page_title":"1910.132"}}},
			{"_score":0.7,"_source":{"content":"More text","chunk_hash":"h2","metadata":{"source_url":"https://osha.gov/b"}}}
		]}}`))
	})

	docs, err := client.Search(t.Context(), []float32{0.1, 0.2}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d docs, want 2", len(docs))
	}
	if docs[0].Content != "PPE text" || docs[0].Metadata.PageTitle != "1910.132" || docs[0].Score != 0.9 {
		t.Errorf("docs[0] = %+v", docs[0])
	}

	knn, ok := query["knn"].(map[string]any)
	if !ok {
		t.Fatalf("query has no knn clause: %v", query)
	}
	if knn["k"] != float64(5) || knn["field"] != "embedding" {
		t.Errorf("knn = %v", knn)
	}
}

func TestClient_Search_WrongDimensions(t *testing.T) {
	client, _ := newFakeClient(t, 3, func(w http.ResponseWriter, r *http.Request, body string) {
		w.Write([]byte(`{"hits":{"hits":[]}}`))
	})
	if _, err := client.Search(t.Context(), []float32{1}, 5); err == nil {
		t.Error("Search() should reject a vector of the wrong size")
	}
}

func TestClient_Count(t *testing.T) {
	client, _ := newFakeClient(t, 3, func(w http.ResponseWriter, r *http.Request, body string) {
		w.Write([]byte(`{"count":42}`))
	})
	n, err := client.Count(t.Context())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 42 {
		t.Errorf("Count() = %d, want 42", n)
	}
}

func TestClient_EnsureIndex_Integration(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses: []string{"http://localhost:9200"},
		Index:     "reg-rag-test-create",
		Dims:      3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	client.DeleteIndex(ctx)
	defer client.DeleteIndex(ctx)

	if err := client.EnsureIndex(ctx); err != nil {
		t.Fatalf("EnsureIndex() error = %v", err)
	}
	if err := client.EnsureIndex(ctx); err != nil {
		t.Fatalf("EnsureIndex() second call error = %v", err)
	}
}

func TestClient_UpsertAndScroll_Integration(t *testing.T) {
	skipIfNoES(t)

	client, err := New(Config{
		Addresses: []string{"http://localhost:9200"},
		Index:     "reg-rag-test-upsert",
		Dims:      3,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	client.DeleteIndex(ctx)
	defer client.DeleteIndex(ctx)
	if err := client.EnsureIndex(ctx); err != nil {
		t.Fatalf("EnsureIndex() error = %v", err)
	}

	var chunks []models.Chunk
	for i := range 150 {
		content := fmt.Sprintf("chunk %d", i)
		chunks = append(chunks, models.Chunk{
			Content:   content,
			Index:     i,
			Hash:      dedup.Fingerprint("https://osha.gov/a", content),
			Metadata:  models.PageMetadata{SourceURL: "https://osha.gov/a"},
			Embedding: []float32{float32(i%3 + 1), 1, 0.5},
		})
	}

	if _, err := client.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	// Writing the same chunks again must not create duplicates.
	if _, err := client.Upsert(ctx, chunks); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}
	client.Refresh(ctx)

	hashes, err := client.ScrollAllHashes(ctx)
	if err != nil {
		t.Fatalf("ScrollAllHashes() error = %v", err)
	}
	if len(hashes) != 150 {
		t.Errorf("got %d hashes, want 150", len(hashes))
	}

	n, err := client.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 150 {
		t.Errorf("Count() = %d, want 150", n)
	}

	docs, err := client.Search(ctx, []float32{1, 1, 0.5}, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(docs) != 5 {
		t.Errorf("Search() returned %d docs, want 5", len(docs))
	}
}
