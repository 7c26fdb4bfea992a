package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini generates answers with the Google Gemini API.
// The SDK client is created on first use.
type Gemini struct {
	config Config

	mu     sync.Mutex
	client *genai.Client
}

// NewGemini creates a Gemini generator.
func NewGemini(config Config) *Gemini {
	if config.Model == "" || !strings.HasPrefix(config.Model, "gemini") {
		config.Model = defaultGeminiModel
	}
	return &Gemini{config: config}
}

func (g *Gemini) genaiClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	if g.config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	cc := &genai.ClientConfig{
		APIKey:  g.config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if g.config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Gemini API: %w", err)
	}
	g.client = client
	return client, nil
}

// Generate sends the system instruction and prompt and returns the reply.
func (g *Gemini) Generate(ctx context.Context, system, prompt string) (string, error) {
	client, err := g.genaiClient(ctx)
	if err != nil {
		return "", err
	}

	temp := g.config.Temperature
	config := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if g.config.MaxTokens > 0 {
		config.MaxOutputTokens = int32(g.config.MaxTokens)
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	result, err := client.Models.GenerateContent(ctx, g.config.Model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		config,
	)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if result == nil {
		return "", fmt.Errorf("gemini returned nil result")
	}

	return strings.TrimSpace(result.Text()), nil
}
