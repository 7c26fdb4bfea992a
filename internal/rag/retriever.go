package rag

import (
	"context"
	"fmt"

	"github.com/mfenderov/reg-rag/pkg/models"
)

// Retriever returns the documents most relevant to a question, best first.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]models.RetrievedDocument, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher finds stored chunks nearest to a vector.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]models.RetrievedDocument, error)
}

// VectorRetriever embeds the question and runs a similarity search.
type VectorRetriever struct {
	embedder Embedder
	store    VectorSearcher
}

// NewVectorRetriever creates a VectorRetriever.
func NewVectorRetriever(embedder Embedder, store VectorSearcher) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, store: store}
}

// Retrieve implements Retriever.
func (r *VectorRetriever) Retrieve(ctx context.Context, question string, k int) ([]models.RetrievedDocument, error) {
	vector, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	docs, err := r.store.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}
	return docs, nil
}
