package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPClient talks to an OpenAI-compatible chat completion endpoint. It is
// the production TextGenerator; rate limits, 5xx responses, and network
// errors surface as transient so the retry layer can back off.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	costPer1K  float64
	httpClient *http.Client
	log        *logrus.Logger
}

// HTTPClientConfig holds configuration for the HTTP generation client.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// CostPer1KTokens prices usage locally; providers rarely report spend.
	CostPer1KTokens float64
}

// NewHTTPClient creates a generation client.
func NewHTTPClient(cfg HTTPClientConfig, log *logrus.Logger) *HTTPClient {
	if log == nil {
		log = logrus.New()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		costPer1K: cfg.CostPer1KTokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// Generate performs one chat completion call.
func (c *HTTPClient) Generate(ctx context.Context, prompt string, params GenerationParams) (*GenerationResult, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       params.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("generation request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read generation response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, Transient(fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncateBody(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices for model %s", params.Model)
	}

	tokens := parsed.Usage.TotalTokens
	c.log.WithFields(logrus.Fields{
		"model":    params.Model,
		"tokens":   tokens,
		"duration": time.Since(started),
	}).Debug("Generation call completed")

	return &GenerationResult{
		Text:       parsed.Choices[0].Message.Content,
		TokensUsed: tokens,
		CostUSD:    float64(tokens) / 1000 * c.costPer1K,
	}, nil
}

func truncateBody(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
