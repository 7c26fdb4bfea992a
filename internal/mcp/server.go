package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mfenderov/reg-rag/internal/llm"
	"github.com/mfenderov/reg-rag/pkg/models"
)

const (
	defaultLimit = 5
	maxLimit     = 20
)

// Answerer answers a regulatory question.
type Answerer interface {
	Answer(ctx context.Context, question string, history []models.HistoryTurn) (models.QueryResult, error)
}

// Retriever finds the regulation chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]models.RetrievedDocument, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
}

// Server exposes regulation search and answering as MCP tools.
type Server struct {
	mcpServer *server.MCPServer
	answerer  Answerer
	retriever Retriever
}

// NewServer creates a new MCP server with the regulation tools registered.
func NewServer(config Config, answerer Answerer, retriever Retriever) *Server {
	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,
		answerer:  answerer,
		retriever: retriever,
	}

	askTool := mcp.NewTool("ask_regulations",
		mcp.WithDescription("Answer a workplace safety question from indexed OSHA regulations. Returns the answer and the regulation pages it cites."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question about OSHA regulations"),
		),
	)
	mcpServer.AddTool(askTool, s.askHandler)

	searchTool := mcp.NewTool("search_regulations",
		mcp.WithDescription("Search indexed OSHA regulation chunks by semantic similarity. Returns chunk content with source metadata and score."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query string"),
		),
		mcp.WithNumber("limit",
			mcp.Description(fmt.Sprintf("Maximum number of results to return (default: %d, max: %d)", defaultLimit, maxLimit)),
		),
	)
	mcpServer.AddTool(searchTool, s.searchHandler)

	return s
}

// askHandler handles the ask_regulations tool call.
func (s *Server) askHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := req.RequireString("question")
	if err != nil || question == "" {
		return mcp.NewToolResultError("question parameter is required"), nil
	}

	result, err := s.answerer.Answer(ctx, question, nil)
	if errors.Is(err, llm.ErrNotConfigured) {
		return mcp.NewToolResultError("answer generation is not configured"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
	}

	return jsonResult(result)
}

// searchHandler handles the search_regulations tool call.
func (s *Server) searchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}

	limit := req.GetInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	docs, err := s.retriever.Retrieve(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if docs == nil {
		docs = []models.RetrievedDocument{}
	}

	return jsonResult(docs)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
