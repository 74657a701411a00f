/**
 * @description
 * This package provides a client for the OpenRouter chat-completions
 * API, which generates the analysis content. Transient failures (rate
 * limiting, server errors, timeouts) are retried in-process with
 * doubling backoff before the caller gives up and fails the job.
 *
 * @notes
 * - Failures are typed: APIError carries the HTTP status so callers can
 *   distinguish retryable provider trouble from permanent request
 *   errors without string matching.
 */
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	defaultMaxTokens   = 3000
	defaultTemperature = 0.7
)

// ErrTimeout marks a provider call that exceeded its deadline.
var ErrTimeout = errors.New("generation request timed out")

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouter API error: status %d - %s", e.Status, e.Body)
}

// Retryable reports whether the failure is worth another attempt.
// Provider-side rate limiting (429) and server errors are transient;
// other client errors are not.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsRetryable classifies any error from Generate.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	// Timeouts and transport-level failures are retryable.
	return true
}

// GenerationRequest is one prompt to run.
type GenerationRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Generation is a successful provider response.
type Generation struct {
	Content     string
	Model       string
	TotalTokens int64
	Temperature float64
}

// Client is a client for the OpenRouter chat-completions endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
}

// NewClient creates a new OpenRouter client.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Generate runs the prompt, retrying transient failures with backoff
// doubling from the base delay. The context bounds the whole sequence.
func (c *Client) Generate(ctx context.Context, req GenerationRequest) (*Generation, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = defaultMaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = defaultTemperature
	}

	var lastErr error
	delay := c.baseDelay
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		gen, err := c.doGenerate(ctx, req)
		if err == nil {
			return gen, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == c.maxAttempts {
			break
		}

		log.Printf("level=warn component=llm_client msg=\"generation attempt failed; retrying\" attempt=%d delay=%s err=%v", attempt, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}
	return nil, lastErr
}

func (c *Client) doGenerate(ctx context.Context, req GenerationRequest) (*Generation, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("HTTP-Referer", "https://astro-bot.com")
	httpReq.Header.Set("X-Title", "Astro Bot")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to send request to OpenRouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode successful response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, &APIError{Status: resp.StatusCode, Body: "response contained no choices"}
	}

	return &Generation{
		Content:     chatResp.Choices[0].Message.Content,
		Model:       chatResp.Model,
		TotalTokens: chatResp.Usage.TotalTokens,
		Temperature: req.Temperature,
	}, nil
}
