// Package llm calls the OpenRouter chat-completions endpoint and
// guarantees callers receive syntactically valid JSON content. Prompt
// templates and output schemas live here too; each schema is validated
// into a self-contained value consumed by exactly one caller.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// DefaultTemperature applies when neither the prompt nor the call sets one.
	DefaultTemperature = 0.2

	maxAttempts = 3
)

// ErrorKind tags LLM failures by behavior.
type ErrorKind string

const (
	// KindInvalidOutput means retries were exhausted on malformed output
	// (transport body, missing content, or content that is not JSON).
	KindInvalidOutput ErrorKind = "invalid_output"
	// KindHTTPStatus is a terminal non-2xx, non-429 response.
	KindHTTPStatus ErrorKind = "http_status"
	// KindNetwork means retries were exhausted on transport failures.
	KindNetwork ErrorKind = "network"
)

// Error is the tagged error value returned by the client.
type Error struct {
	Kind   ErrorKind
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindInvalidOutput:
		return fmt.Sprintf("llm: invalid output after %d attempts: %v", maxAttempts, e.Err)
	case KindHTTPStatus:
		body := e.Body
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		return fmt.Sprintf("llm: unexpected status %d: %s", e.Status, body)
	default:
		return fmt.Sprintf("llm: network failure after %d attempts: %v", maxAttempts, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ChatRequest is one completion call. Temperature/MaxTokens of zero fall
// back to the client's configured defaults.
type ChatRequest struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Client calls the chat-completions endpoint. Transport, clock, and
// sleeper are injectable for tests.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	do          func(*http.Request) (*http.Response, error)
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	sem         *semaphore.Weighted
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxConcurrentCalls bounds in-flight completions (default 1; the
	// pipeline is sequential but the guard keeps that a policy, not an
	// accident).
	MaxConcurrentCalls int64
	Do                 func(*http.Request) (*http.Response, error)
	Now                func() time.Time
	Sleep              func(context.Context, time.Duration) error
}

// NewClient builds a client.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		do:          opts.Do,
		now:         opts.Now,
		sleep:       opts.Sleep,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.temperature == 0 {
		c.temperature = DefaultTemperature
	}
	if c.maxTokens == 0 {
		c.maxTokens = 2048
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.do == nil {
		httpClient := &http.Client{Timeout: 120 * time.Second}
		c.do = httpClient.Do
	}
	if c.sleep == nil {
		c.sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	concurrency := opts.MaxConcurrentCalls
	if concurrency <= 0 {
		concurrency = 1
	}
	c.sem = semaphore.NewWeighted(concurrency)
	return c
}

// Model returns the default model name.
func (c *Client) Model() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete performs one chat completion and returns the content payload,
// guaranteed to be valid JSON. Up to three attempts with exponential
// backoff 2^(attempt-1) seconds; retriable failures are network errors,
// 429, unparseable transport bodies, missing content, and non-JSON content.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (json.RawMessage, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire llm slot: %w", err)
	}
	defer c.sem.Release(1)

	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	payload := chatPayload{
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	payload.ResponseFormat.Type = "json_object"
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.User})

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	var lastErr error
	lastOutputShaped := false
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(1<<(attempt-2)) * time.Second
			if ra, ok := lastErr.(*retryAfterError); ok && ra.wait > 0 {
				backoff = ra.wait
			}
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		content, retriable, outputShaped, err := c.attempt(ctx, body)
		if err == nil {
			return content, nil
		}
		if !retriable {
			return nil, err
		}
		lastErr = err
		lastOutputShaped = outputShaped
	}

	if lastOutputShaped {
		return nil, &Error{Kind: KindInvalidOutput, Err: lastErr}
	}
	return nil, &Error{Kind: KindNetwork, Err: lastErr}
}

// retryAfterError carries the server-requested wait for 429 responses.
type retryAfterError struct {
	wait time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("llm: rate limited, retry after %s", e.wait)
}

// attempt performs a single HTTP round trip. Returns the content on
// success; otherwise whether the failure is retriable and whether it was
// output-shaped (vs transport-shaped).
func (c *Client) attempt(ctx context.Context, body []byte) (json.RawMessage, bool, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, true, false, fmt.Errorf("llm request failed: %w", err)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, true, false, fmt.Errorf("failed to read llm response: %w", readErr)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := time.Duration(0)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs >= 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		return nil, true, false, &retryAfterError{wait: wait}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, false, &Error{Kind: KindHTTPStatus, Status: resp.StatusCode, Body: string(respBody)}
	}

	var env chatEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, true, true, fmt.Errorf("llm transport body is not JSON: %w", err)
	}
	if len(env.Choices) == 0 || env.Choices[0].Message.Content == "" {
		return nil, true, true, fmt.Errorf("llm response missing content field")
	}

	content := strings.TrimSpace(env.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		return nil, true, true, fmt.Errorf("llm content is not valid JSON")
	}
	return json.RawMessage(content), false, false, nil
}
