// Package llm generates answers from a system instruction and a prompt.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotConfigured is returned on first use when no credential is set.
var ErrNotConfigured = errors.New("llm: API key not configured")

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Config holds LLM client configuration.
type Config struct {
	Provider    string // "openai" (any OpenAI-compatible API, e.g. Groq) or "gemini"
	BaseURL     string
	APIKey      string
	SocketPath  string // Unix socket path for Docker Model Runner
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// New returns the Generator for config.Provider.
func New(config Config) (Generator, error) {
	switch strings.ToLower(config.Provider) {
	case "", "openai", "groq":
		return NewClient(config)
	case "gemini":
		return NewGemini(config), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", config.Provider)
	}
}
