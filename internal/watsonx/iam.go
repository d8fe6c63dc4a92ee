// Package watsonx wraps the watsonx.ai embeddings and text generation
// endpoints behind a bearer token fetched from IBM Cloud IAM. Tokens are
// cached until shortly before expiry; concurrent refreshes collapse into
// one request.
package watsonx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"dev.strata.query/internal/httpx"
)

// iamGrantType is the IAM grant for API key exchange.
const iamGrantType = "urn:ibm:params:oauth:grant-type:apikey"

// tokenSkew refreshes the token this long before its reported expiry.
const tokenSkew = 60 * time.Second

// TokenSource exchanges an API key for IAM bearer tokens and caches
// them. Safe for concurrent use.
type TokenSource struct {
	tokenURL string
	apiKey   string
	http     *httpx.Client
	logger   *logrus.Logger

	mu     sync.RWMutex
	token  string
	expiry time.Time

	group singleflight.Group
}

// NewTokenSource builds a token source against the given IAM endpoint.
func NewTokenSource(tokenURL, apiKey string, client *httpx.Client, logger *logrus.Logger) *TokenSource {
	if logger == nil {
		logger = logrus.New()
	}
	if client == nil {
		client = httpx.NewClient(nil, httpx.DefaultRetryConfig())
	}
	return &TokenSource{
		tokenURL: tokenURL,
		apiKey:   apiKey,
		http:     client,
		logger:   logger,
	}
}

type iamResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// Token returns a valid bearer token, refreshing when the cached one is
// within the skew window of expiring.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Now().Before(ts.expiry) {
		token := ts.token
		ts.mu.RUnlock()
		return token, nil
	}
	ts.mu.RUnlock()

	v, err, _ := ts.group.Do("token", func() (any, error) {
		ts.mu.RLock()
		if ts.token != "" && time.Now().Before(ts.expiry) {
			token := ts.token
			ts.mu.RUnlock()
			return token, nil
		}
		ts.mu.RUnlock()
		return ts.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", iamGrantType)
	form.Set("apikey", ts.apiKey)

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("Accept", "application/json")

	resp, err := ts.http.Do(ctx, http.MethodPost, ts.tokenURL, header, []byte(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("requesting IAM token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading IAM response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("IAM token endpoint returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed iamResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding IAM response: %w", err)
	}
	if strings.TrimSpace(parsed.AccessToken) == "" {
		return "", fmt.Errorf("IAM response contained no access token")
	}

	expiry := time.Now().Add(time.Duration(parsed.ExpiresIn)*time.Second - tokenSkew)

	ts.mu.Lock()
	ts.token = parsed.AccessToken
	ts.expiry = expiry
	ts.mu.Unlock()

	ts.logger.WithFields(logrus.Fields{
		"expires_in": parsed.ExpiresIn,
	}).Debug("IAM token refreshed")
	return parsed.AccessToken, nil
}

// Invalidate drops the cached token, forcing the next call to refresh.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiry = time.Time{}
	ts.mu.Unlock()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
