package knowledge

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds the vector store connection settings.
type QdrantConfig struct {
	URL    string
	APIKey string
	// Limit bounds the number of passages joined into one answer.
	Limit int
}

// Qdrant retrieves passages from one collection per knowledge base.
type Qdrant struct {
	client   *qdrant.Client
	embedder Embedder
	limit    int
}

// NewQdrant connects to the vector store. The embedder supplies query vectors.
func NewQdrant(cfg QdrantConfig, embedder Embedder) (*Qdrant, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 3
	}
	return &Qdrant{client: client, embedder: embedder, limit: limit}, nil
}

// Query embeds the question, searches the knowledge base's collection, and
// joins the matched passages.
func (q *Qdrant) Query(ctx context.Context, knowledgeBaseID, query string) (string, error) {
	vector, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}
	limit := uint64(q.limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: "kb_" + knowledgeBaseID,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", fmt.Errorf("qdrant query: %w", err)
	}
	var passages []string
	for _, point := range points {
		if point.Payload == nil {
			continue
		}
		if v, ok := point.Payload["text"]; ok {
			if s := v.GetStringValue(); s != "" {
				passages = append(passages, s)
			}
		}
	}
	if len(passages) == 0 {
		return "No relevant information found.", nil
	}
	return strings.Join(passages, "\n\n"), nil
}

var _ Retriever = (*Qdrant)(nil)
