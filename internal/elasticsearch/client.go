package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/mfenderov/reg-rag/internal/dedup"
	"github.com/mfenderov/reg-rag/pkg/models"
)

// scrollPageSize is the number of hashes fetched per scroll page.
const scrollPageSize = 100

// scrollKeepAlive is how long ES keeps a scroll context between pages.
const scrollKeepAlive = time.Minute

// Config holds Elasticsearch client configuration.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	Dims      int // Embedding dimensions of the dense_vector field
}

// Client is the chunk vector store backed by an Elasticsearch index.
type Client struct {
	es    *elasticsearch.Client
	index string
	dims  int
}

// New creates a new Elasticsearch client.
func New(config Config) (*Client, error) {
	if config.Index == "" {
		return nil, fmt.Errorf("index is required")
	}
	if config.Dims == 0 {
		config.Dims = 384
	}

	cfg := elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	return &Client{
		es:    es,
		index: config.Index,
		dims:  config.Dims,
	}, nil
}

// Index returns the index name.
func (c *Client) Index() string {
	return c.index
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

// indexMapping returns the chunk index mapping for the given vector size.
func indexMapping(dims int) string {
	return fmt.Sprintf(`{
	"mappings": {
		"properties": {
			"content": { "type": "text", "analyzer": "english" },
			"chunk_index": { "type": "integer" },
			"total_chunks": { "type": "integer" },
			"chunk_hash": { "type": "keyword" },
			"metadata": {
				"properties": {
					"source_url": { "type": "keyword" },
					"page_title": { "type": "text" },
					"section_heading": { "type": "text" },
					"meta_description": { "type": "text" },
					"domain": { "type": "keyword" },
					"content_type": { "type": "keyword" }
				}
			},
			"embedding": {
				"type": "dense_vector",
				"dims": %d,
				"index": true,
				"similarity": "cosine"
			}
		}
	}
}`, dims)
}

// EnsureIndex creates the index with the chunk mapping if it doesn't exist.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(indexMapping(c.dims))),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}

	return nil
}

// DeleteIndex removes the index and every stored chunk. A missing index
// is not an error.
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to delete index: %s", res.String())
	}
	return nil
}

// Refresh forces an index refresh (useful for testing).
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// Count returns the number of stored chunks. A missing index counts as zero.
func (c *Client) Count(ctx context.Context) (int, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, fmt.Errorf("count error: %s", res.String())
	}

	var cr struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return cr.Count, nil
}

// scrollResponse is the subset of a search/scroll response holding hashes.
type scrollResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []struct {
			Source struct {
				ChunkHash string `json:"chunk_hash"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// ScrollAllHashes returns the fingerprint of every stored chunk, paging
// through the whole index. A missing index yields an empty set.
func (c *Client) ScrollAllHashes(ctx context.Context) (dedup.Set, error) {
	hashes := dedup.NewSet()

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithScroll(scrollKeepAlive),
		c.es.Search.WithSize(scrollPageSize),
		c.es.Search.WithSource("chunk_hash"),
		c.es.Search.WithSort("_doc"),
	)
	if err != nil {
		return nil, fmt.Errorf("scroll search failed: %w", err)
	}

	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return hashes, nil
	}

	scrollID, n, err := decodeScrollPage(res.Body, res.IsError(), res.String, hashes)
	if err != nil {
		return nil, err
	}
	defer func() { c.clearScroll(scrollID) }()

	for n > 0 && scrollID != "" {
		res, err := c.es.Scroll(
			c.es.Scroll.WithContext(ctx),
			c.es.Scroll.WithScrollID(scrollID),
			c.es.Scroll.WithScroll(scrollKeepAlive),
		)
		if err != nil {
			return nil, fmt.Errorf("scroll failed: %w", err)
		}

		next, count, err := decodeScrollPage(res.Body, res.IsError(), res.String, hashes)
		if err != nil {
			return nil, err
		}
		if next != "" {
			scrollID = next
		}
		n = count
	}

	return hashes, nil
}

// decodeScrollPage reads one page of hashes into set and closes body.
func decodeScrollPage(body io.ReadCloser, isError bool, describe func() string, set dedup.Set) (string, int, error) {
	defer body.Close()

	if isError {
		return "", 0, fmt.Errorf("scroll error: %s", describe())
	}

	var sr scrollResponse
	if err := json.NewDecoder(body).Decode(&sr); err != nil {
		return "", 0, fmt.Errorf("failed to decode scroll response: %w", err)
	}

	for _, hit := range sr.Hits.Hits {
		if hit.Source.ChunkHash != "" {
			set.Add(hit.Source.ChunkHash)
		}
	}
	return sr.ScrollID, len(sr.Hits.Hits), nil
}

func (c *Client) clearScroll(scrollID string) {
	if scrollID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := c.es.ClearScroll(
		c.es.ClearScroll.WithContext(ctx),
		c.es.ClearScroll.WithScrollID(scrollID),
	)
	if err != nil {
		return
	}
	res.Body.Close()
}

// bulkResponse is the subset of a bulk response used to detect failures.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert writes chunks with their embeddings in one bulk request.
// Each chunk is stored under its hash, so repeated writes overwrite.
// It returns the number of chunks the store accepted.
func (c *Client) Upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	body, err := c.bulkBody(chunks)
	if err != nil {
		return 0, err
	}

	res, err := c.es.Bulk(
		bytes.NewReader(body),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk upsert failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("bulk upsert error: %s", res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return 0, fmt.Errorf("failed to decode bulk response: %w", err)
	}

	stored := 0
	var firstErr error
	for _, item := range br.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < 300 {
				stored++
				continue
			}
			if firstErr == nil && result.Error != nil {
				firstErr = fmt.Errorf("failed to index chunk %s: %s: %s", result.ID, result.Error.Type, result.Error.Reason)
			}
		}
	}
	if firstErr != nil {
		return stored, firstErr
	}
	return stored, nil
}

// bulkBody encodes chunks as NDJSON index actions.
func (c *Client) bulkBody(chunks []models.Chunk) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for _, chunk := range chunks {
		if chunk.Hash == "" {
			return nil, fmt.Errorf("chunk %d of %s has no hash", chunk.Index, chunk.Metadata.SourceURL)
		}
		if len(chunk.Embedding) != c.dims {
			return nil, fmt.Errorf("chunk %s has %d embedding dimensions, index expects %d", chunk.Hash, len(chunk.Embedding), c.dims)
		}

		action := map[string]any{"index": map[string]any{"_id": chunk.Hash}}
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := enc.Encode(chunk); err != nil {
			return nil, fmt.Errorf("failed to encode chunk: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// searchResponse represents ES search response structure.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64      `json:"_score"`
			Source models.Chunk `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns the k chunks nearest to vector by cosine similarity.
func (c *Client) Search(ctx context.Context, vector []float32, k int) ([]models.RetrievedDocument, error) {
	if len(vector) != c.dims {
		return nil, fmt.Errorf("query vector has %d dimensions, index expects %d", len(vector), c.dims)
	}

	searchQuery := map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": max(k*10, 50),
		},
		"size": k,
		"_source": map[string]any{
			"excludes": []string{"embedding"},
		},
	}

	data, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	docs := make([]models.RetrievedDocument, len(sr.Hits.Hits))
	for i, hit := range sr.Hits.Hits {
		docs[i] = models.RetrievedDocument{
			Content:  hit.Source.Content,
			Metadata: hit.Source.Metadata,
			Score:    hit.Score,
		}
	}

	return docs, nil
}
