package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/adiwarsito/svara/pkg/errorsx"
)

// OpenAIEmbedder produces query vectors through the embeddings endpoint.
type OpenAIEmbedder struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewOpenAIEmbedder(apiKey string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		APIKey:  apiKey,
		Model:   "text-embedding-3-small",
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": e.Model,
		"input": text,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)
	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, errorsx.Provider(err, errorsx.ReasonLLMGenerate)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errorsx.Provider(errors.New(string(raw)), errorsx.ReasonLLMGenerate)
	}
	var payload struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errorsx.Provider(err, errorsx.ReasonLLMGenerate)
	}
	if len(payload.Data) == 0 {
		return nil, errorsx.Provider(errors.New("empty embedding response"), errorsx.ReasonLLMGenerate)
	}
	return payload.Data[0].Embedding, nil
}

var _ Embedder = (*OpenAIEmbedder)(nil)
