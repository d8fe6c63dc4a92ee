package watsonx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/config"
	"dev.strata.query/internal/httpx"
)

// embedBatchCap is the hard upper bound on inputs per embeddings call.
const embedBatchCap = 1000

// Config holds connection settings for one watsonx.ai project.
type Config struct {
	// BaseURL is the regional ML endpoint, e.g.
	// https://us-south.ml.cloud.ibm.com
	BaseURL    string
	APIKey     string
	ProjectID  string
	EmbedModel string
	GenModel   string
	// Version is the API version date passed on every call.
	Version  string
	TokenURL string
	// BatchSize caps inputs per embeddings request. Values above the
	// service limit of 1000 are rejected.
	BatchSize    int
	MaxNewTokens int
	Timeout      time.Duration
	Retry        httpx.RetryConfig
}

// DefaultConfig returns settings for the hosted service.
func DefaultConfig() Config {
	return Config{
		EmbedModel:   "ibm/slate-125m-english-rtrvr-v2",
		GenModel:     "ibm/granite-3-8b-instruct",
		Version:      "2024-05-31",
		TokenURL:     "https://iam.cloud.ibm.com/identity/token",
		BatchSize:    500,
		MaxNewTokens: 400,
		Timeout:      60 * time.Second,
		Retry:        httpx.DefaultRetryConfig(),
	}
}

// ConfigFromSettings maps application settings onto a client config,
// keeping defaults for anything unset.
func ConfigFromSettings(s config.WatsonXSettings) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = s.BaseURL
	cfg.APIKey = s.APIKey
	cfg.ProjectID = s.ProjectID
	if s.EmbedModel != "" {
		cfg.EmbedModel = s.EmbedModel
	}
	if s.GenModel != "" {
		cfg.GenModel = s.GenModel
	}
	if s.Version != "" {
		cfg.Version = s.Version
	}
	if s.TokenURL != "" {
		cfg.TokenURL = s.TokenURL
	}
	if s.EmbedBatchSize > 0 {
		cfg.BatchSize = s.EmbedBatchSize
	}
	if s.MaxNewTokens > 0 {
		cfg.MaxNewTokens = s.MaxNewTokens
	}
	if s.Timeout > 0 {
		cfg.Timeout = s.Timeout
	}
	return cfg
}

// Validate checks that the config can reach a project.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("watsonx: base URL is required")
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("watsonx: API key is required")
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		return fmt.Errorf("watsonx: project id is required")
	}
	if c.BatchSize <= 0 || c.BatchSize > embedBatchCap {
		return fmt.Errorf("watsonx: batch size must be in (0, %d], got %d", embedBatchCap, c.BatchSize)
	}
	return nil
}

// Client calls the embeddings and generation endpoints of one project.
type Client struct {
	config Config
	tokens *TokenSource
	http   *httpx.Client
	logger *logrus.Logger
}

// NewClient validates the config and builds a client with its own token
// source.
func NewClient(config Config, logger *logrus.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	hc := httpx.NewClient(&http.Client{Timeout: config.Timeout}, config.Retry)
	return &Client{
		config: config,
		tokens: NewTokenSource(config.TokenURL, config.APIKey, hc, logger),
		http:   hc,
		logger: logger,
	}, nil
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wireErrors struct {
	Errors []wireError `json:"errors"`
	Trace  string      `json:"trace"`
}

// post sends one authenticated JSON request to an ML endpoint and
// returns the raw response body.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s%s?version=%s", strings.TrimRight(c.config.BaseURL, "/"), path, c.config.Version)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(ctx, http.MethodPost, url, header, body)
	if err != nil {
		return nil, fmt.Errorf("watsonx request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading watsonx response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Token may have been revoked server-side before its expiry.
		c.tokens.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var we wireErrors
		if json.Unmarshal(respBody, &we) == nil && len(we.Errors) > 0 {
			return nil, fmt.Errorf("watsonx returned status %d: %s (%s)", resp.StatusCode, we.Errors[0].Message, we.Errors[0].Code)
		}
		return nil, fmt.Errorf("watsonx returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return respBody, nil
}

// HealthCheck verifies an IAM token can be obtained.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}
