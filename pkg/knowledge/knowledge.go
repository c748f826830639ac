package knowledge

import "context"

// Retriever answers a free-text query against a knowledge base. The engine
// only owns this call-site contract; ingestion and chunking live elsewhere.
type Retriever interface {
	Query(ctx context.Context, knowledgeBaseID, query string) (string, error)
}

// Embedder turns a query into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
