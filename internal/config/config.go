package config

import "time"

// Config holds all application configuration.
type Config struct {
	Elasticsearch Elasticsearch `mapstructure:"elasticsearch"`
	Embeddings    Embeddings    `mapstructure:"embeddings"`
	LLM           LLM           `mapstructure:"llm"`
	Crawler       Crawler       `mapstructure:"crawler"`
	Chunker       Chunker       `mapstructure:"chunker"`
	Cache         Cache         `mapstructure:"cache"`
	RAG           RAG           `mapstructure:"rag"`
	Server        Server        `mapstructure:"server"`
	Storage       Storage       `mapstructure:"storage"`
	MCP           MCP           `mapstructure:"mcp"`
}

// Elasticsearch holds vector store connection configuration.
type Elasticsearch struct {
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Dims      int      `mapstructure:"dims"`
}

// Embeddings holds embedding service configuration.
type Embeddings struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	SocketPath  string        `mapstructure:"socket_path"`
	Model       string        `mapstructure:"model"`
	Dimensions  int           `mapstructure:"dimensions"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LLM holds generation service configuration.
type LLM struct {
	Provider    string        `mapstructure:"provider"` // "openai" or "gemini"
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	SocketPath  string        `mapstructure:"socket_path"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Crawler holds web crawling configuration.
type Crawler struct {
	BaseURL       string        `mapstructure:"base_url"`
	StartPath     string        `mapstructure:"start_path"`
	AllowPrefix   string        `mapstructure:"allow_prefix"`
	MaxPages      int           `mapstructure:"max_pages"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RobotsTimeout time.Duration `mapstructure:"robots_timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	ContentType   string        `mapstructure:"content_type"`
	Markdown      bool          `mapstructure:"markdown"`
	ProxyURL      string        `mapstructure:"proxy_url"`
}

// StartURL returns the seed URL of a crawl.
func (c Crawler) StartURL() string {
	return c.BaseURL + c.StartPath
}

// Chunker holds text splitting configuration.
type Chunker struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// Cache holds result cache configuration.
type Cache struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RAG holds retrieval and answer generation configuration.
type RAG struct {
	TopK         int           `mapstructure:"top_k"`
	HistoryTurns int           `mapstructure:"history_turns"`
	SourceName   string        `mapstructure:"source_name"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Server holds HTTP server configuration.
type Server struct {
	Addr        string `mapstructure:"addr"`
	IngestToken string `mapstructure:"ingest_token"`
	Workers     int    `mapstructure:"workers"`
	JobHistory  int    `mapstructure:"job_history"`
}

// Storage holds S3/MinIO page archive configuration.
type Storage struct {
	Endpoint        string `mapstructure:"endpoint"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// MCP holds MCP server configuration.
type MCP struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Elasticsearch: Elasticsearch{
			Addresses: []string{"http://localhost:9200"},
			Index:     "osha_laws_regs",
			Dims:      384,
		},
		Embeddings: Embeddings{
			BaseURL:     "http://localhost:8080/v1",
			Model:       "sentence-transformers/all-MiniLM-L6-v2",
			Dimensions:  384, // MiniLM-L6-v2 output dimension
			Concurrency: 4,
			Timeout:     30 * time.Second,
		},
		LLM: LLM{
			Provider:    "openai",
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			Temperature: 0.3,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Crawler: Crawler{
			BaseURL:       "https://www.osha.gov",
			StartPath:     "/laws-regs",
			AllowPrefix:   "/laws-regs",
			MaxPages:      500,
			Timeout:       30 * time.Second,
			RobotsTimeout: 10 * time.Second,
			UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ContentType:   "laws-regs",
		},
		Chunker: Chunker{
			Size:    1000,
			Overlap: 200,
		},
		Cache: Cache{
			MaxSize: 256,
			TTL:     time.Hour,
		},
		RAG: RAG{
			TopK:         5,
			HistoryTurns: 5,
			SourceName:   "OSHA",
			Timeout:      90 * time.Second,
		},
		Server: Server{
			Addr:       ":8000",
			Workers:    1,
			JobHistory: 50,
		},
		Storage: Storage{
			Bucket: "reg-rag",
		},
		MCP: MCP{
			Name:    "reg-rag",
			Version: "1.0.0",
		},
	}
}
