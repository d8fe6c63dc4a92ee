package watsonx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

type embeddingsRequest struct {
	Inputs    []string `json:"inputs"`
	ModelID   string   `json:"model_id"`
	ProjectID string   `json:"project_id"`
}

type embeddingsResponse struct {
	Results []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"results"`
	InputTokenCount int `json:"input_token_count"`
}

// EmbedTexts embeds the inputs in configured batch sizes, preserving
// input order across batches. An empty input yields an empty result
// without a network call.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		body, err := c.post(ctx, "/ml/v1/text/embeddings", embeddingsRequest{
			Inputs:    batch,
			ModelID:   c.config.EmbedModel,
			ProjectID: c.config.ProjectID,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding batch at %d: %w", start, err)
		}

		var parsed embeddingsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("decoding embeddings response: %w", err)
		}
		if len(parsed.Results) != len(batch) {
			return nil, fmt.Errorf("embeddings response returned %d vectors for %d inputs", len(parsed.Results), len(batch))
		}
		for _, r := range parsed.Results {
			out = append(out, r.Embedding)
		}

		c.logger.WithFields(logrus.Fields{
			"model":        c.config.EmbedModel,
			"batch":        len(batch),
			"input_tokens": parsed.InputTokenCount,
		}).Debug("Embeddings batch completed")
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embeddings response was empty")
	}
	return vectors[0], nil
}
