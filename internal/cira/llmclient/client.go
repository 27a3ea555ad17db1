// Package llmclient implements ports.LLM against Ollama and OpenAI-
// compatible backends, generalizing the teacher's internal/ai/llm.go
// LLMClient.Generate (provider switch, raw prompt in/string out) onto the
// ports.LLM.Complete contract, which additionally reports input/output
// token counts for TokenUsage accounting.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cira-systems/cira-core/internal/cira/ciraerr"
	"github.com/cira-systems/cira-core/internal/cira/metrics"
	"github.com/cira-systems/cira-core/internal/cira/ports"
)

// Provider selects the backend wire protocol.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Config configures a Client.
type Config struct {
	Provider    Provider
	Endpoint    string
	Model       string
	APIKey      string
	Temperature float64
}

// Client implements ports.LLM.
type Client struct {
	cfg     Config
	client  *http.Client
	metrics *metrics.Registry // optional; nil disables instrumentation
}

// New builds a Client.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// WithMetrics attaches a metrics registry, returning the receiver for
// chaining at construction time.
func (c *Client) WithMetrics(reg *metrics.Registry) *Client {
	c.metrics = reg
	return c
}

// Complete implements ports.LLM.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int, timeout time.Duration) (*ports.CompletionResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.LLMCallDuration.Observe(time.Since(start).Seconds())
		}
	}()

	switch c.cfg.Provider {
	case ProviderOllama:
		return c.completeOllama(reqCtx, prompt, maxTokens)
	case ProviderOpenAI:
		return c.completeOpenAI(reqCtx, prompt, maxTokens)
	default:
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "complete", fmt.Errorf("unsupported LLM provider %q", c.cfg.Provider))
	}
}

func (c *Client) completeOllama(ctx context.Context, prompt string, maxTokens int) (*ports.CompletionResult, error) {
	payload := map[string]any{
		"model":  c.cfg.Model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": c.cfg.Temperature,
			"num_predict": maxTokens,
		},
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	if err := httpStatusErr(resp); err != nil {
		return nil, err
	}

	var result struct {
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "decode ollama response", err)
	}

	return &ports.CompletionResult{
		Text:         result.Response,
		InputTokens:  result.PromptEvalCount,
		OutputTokens: result.EvalCount,
	}, nil
}

func (c *Client) completeOpenAI(ctx context.Context, prompt string, maxTokens int) (*ports.CompletionResult, error) {
	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": c.cfg.Temperature,
	}
	body, _ := json.Marshal(payload)

	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "build openai request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	defer resp.Body.Close()

	if err := httpStatusErr(resp); err != nil {
		return nil, err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ciraerr.Wrap(ciraerr.CodePermanent, "decode openai response", err)
	}
	if len(result.Choices) == 0 {
		return nil, ciraerr.New(ciraerr.CodePermanent, "openai returned no choices")
	}

	return &ports.CompletionResult{
		Text:         result.Choices[0].Message.Content,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
	}, nil
}

func classifyHTTPErr(err error) error {
	return ciraerr.Wrap(ciraerr.CodeTransient, "LLM request", err)
}

func httpStatusErr(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &ciraerr.RateLimited{Op: "LLM complete", Cause: fmt.Errorf("HTTP 429"), RetryAfter: parseRetryAfterHeader(resp)}
	case resp.StatusCode >= 500:
		return ciraerr.Wrap(ciraerr.CodeTransient, "LLM complete", fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return ciraerr.Wrap(ciraerr.CodePermanent, "LLM complete", fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return nil
}

func parseRetryAfterHeader(resp *http.Response) float64 {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	var secs float64
	fmt.Sscanf(h, "%f", &secs)
	return secs
}
