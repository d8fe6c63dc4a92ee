package watsonx

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

type generationParameters struct {
	DecodingMethod string `json:"decoding_method"`
	MaxNewTokens   int    `json:"max_new_tokens"`
}

type generationRequest struct {
	Input      string               `json:"input"`
	ModelID    string               `json:"model_id"`
	ProjectID  string               `json:"project_id"`
	Parameters generationParameters `json:"parameters"`
}

type generationResponse struct {
	Results []struct {
		GeneratedText       string `json:"generated_text"`
		GeneratedTokenCount int    `json:"generated_token_count"`
		InputTokenCount     int    `json:"input_token_count"`
		StopReason          string `json:"stop_reason"`
	} `json:"results"`
	ModelID string `json:"model_id"`
}

// GenResult is one completed generation with its token accounting.
type GenResult struct {
	Text            string
	Model           string
	InputTokens     int
	GeneratedTokens int
	StopReason      string
}

// Generate runs greedy decoding over the prompt. maxNewTokens <= 0
// falls back to the configured default.
func (c *Client) Generate(ctx context.Context, prompt string, maxNewTokens int) (*GenResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("generation prompt is empty")
	}
	if maxNewTokens <= 0 {
		maxNewTokens = c.config.MaxNewTokens
	}

	body, err := c.post(ctx, "/ml/v1/text/generation", generationRequest{
		Input:     prompt,
		ModelID:   c.config.GenModel,
		ProjectID: c.config.ProjectID,
		Parameters: generationParameters{
			DecodingMethod: "greedy",
			MaxNewTokens:   maxNewTokens,
		},
	})
	if err != nil {
		return nil, err
	}

	var parsed generationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding generation response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("generation response contained no results")
	}

	r := parsed.Results[0]
	model := parsed.ModelID
	if model == "" {
		model = c.config.GenModel
	}
	result := &GenResult{
		Text:            strings.TrimSpace(r.GeneratedText),
		Model:           model,
		InputTokens:     r.InputTokenCount,
		GeneratedTokens: r.GeneratedTokenCount,
		StopReason:      r.StopReason,
	}

	c.logger.WithFields(logrus.Fields{
		"model":            result.Model,
		"input_tokens":     result.InputTokens,
		"generated_tokens": result.GeneratedTokens,
		"stop_reason":      result.StopReason,
	}).Debug("Generation completed")
	return result, nil
}
