package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/mfenderov/reg-rag/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
)

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "reg-rag",
	Short: "reg-rag: retrieval-augmented answers over OSHA regulations",
	Long: `reg-rag crawls the OSHA laws and regulations pages, splits them into
overlapping chunks, embeds them into Elasticsearch, and answers questions
with citations to the regulation pages.

Commands:
  crawl   Crawl regulation pages, archive them, and ingest them
  ingest  Run the ingestion pipeline or re-ingest an archived crawl
  ask     Answer a question from the indexed regulations
  serve   Start the HTTP server
  mcp     Start the MCP server on stdio`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func initLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

// envAliases maps the deployment environment names onto config keys.
var envAliases = map[string]string{
	"crawler.max_pages":   "MAX_INGEST_PAGES",
	"chunker.size":        "CHUNK_SIZE",
	"chunker.overlap":     "CHUNK_OVERLAP",
	"llm.api_key":         "GROQ_API_KEY",
	"server.ingest_token": "INGEST_TOKEN",
	"cache.max_size":      "CACHE_MAX_SIZE",
	"cache.ttl":           "CACHE_TTL",
	"crawler.proxy_url":   "PROXY_URL",
}

func initConfig() {
	// Start with defaults
	cfg = config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/reg-rag")
		viper.AddConfigPath(".")
	}

	// Environment variable overrides
	// REGRAG_CHUNKER_SIZE -> chunker.size
	viper.SetEnvPrefix("REGRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Explicitly bind nested env vars
	for _, key := range []string{
		"elasticsearch.index",
		"elasticsearch.username",
		"elasticsearch.password",
		"elasticsearch.dims",
		"embeddings.base_url",
		"embeddings.api_key",
		"embeddings.socket_path",
		"embeddings.model",
		"embeddings.dimensions",
		"llm.provider",
		"llm.base_url",
		"llm.socket_path",
		"llm.model",
		"crawler.base_url",
		"crawler.start_path",
		"crawler.allow_prefix",
		"crawler.user_agent",
		"rag.top_k",
		"rag.timeout",
		"server.addr",
		"server.workers",
		"storage.endpoint",
		"storage.bucket",
		"storage.access_key_id",
		"storage.secret_access_key",
		"mcp.name",
		"mcp.version",
	} {
		viper.BindEnv(key, "REGRAG_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	// Prefixed names win over the deployment aliases
	for key, alias := range envAliases {
		viper.BindEnv(key, "REGRAG_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias)
	}

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("config file error", "error", err)
		}
		// No config file - use defaults + env vars
	}

	// Unmarshal into struct (merges config file with defaults)
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Warn("failed to parse config", "error", err)
	}

	// Handle special case: addresses as comma-separated string from env
	if addrs := os.Getenv("REGRAG_ELASTICSEARCH_ADDRESSES"); addrs != "" {
		cfg.Elasticsearch.Addresses = strings.Split(addrs, ",")
	}
}
