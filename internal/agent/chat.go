package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

const (
	defaultMaxRetries = 2
	defaultRetryDelay = time.Second

	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 2048
)

// Logger is the subset of logging.Logger used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Message is one chat message in the OpenAI wire format.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool advertises a callable function to the model.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a function's name and JSON Schema parameters.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatRequest is a chat completion request. Zero values fall back to the
// client defaults.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

// Completer sends one chat completion and returns the first choice.
type Completer interface {
	Complete(ctx context.Context, req ChatRequest) (*Message, error)
}

// ChatConfig configures a ChatClient.
type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int

	// RequestsPerSecond <= 0 disables client-side rate limiting.
	RequestsPerSecond float64
	Burst             int

	MaxRetries int
	RetryDelay time.Duration
}

// ChatClient talks to an OpenAI-compatible /chat/completions endpoint.
//
// Thread Safety:
//   - Safe for concurrent use; the rate limiter is shared by all callers.
type ChatClient struct {
	cfg     ChatConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  Logger
}

// NewChatClient creates a client. httpClient may be nil, in which case a
// client with a 90s timeout is used.
func NewChatClient(cfg ChatConfig, httpClient *http.Client, logger Logger) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &ChatClient{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Model returns the default model name.
func (c *ChatClient) Model() string {
	return c.cfg.Model
}

// Complete sends req, retrying rate-limit, server and transport errors
// with linear backoff.
//
// Parameters:
//   - ctx: Bounds rate limiter waits, retries and the HTTP calls
//   - req: Messages and optional tools; empty fields use client defaults
//
// Returns:
//   - *Message: The first choice's message
//   - error: ErrNoAPIKey, ErrNoChoices, *StatusError, or a transport error
func (c *ChatClient) Complete(ctx context.Context, req ChatRequest) (*Message, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.WithHint(ErrNoAPIKey, "set llm.api_key or TRIGGERFLOW_LLM_API_KEY")
	}
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.Temperature == nil {
		t := c.cfg.Temperature
		req.Temperature = &t
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.cfg.RetryDelay
			c.logger.Debug("retrying chat completion", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), "chat completion cancelled during backoff")
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "waiting for rate limiter")
		}

		resp, err := c.send(ctx, body)
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, ErrNoChoices
			}
			msg := resp.Choices[0].Message
			return &msg, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			return nil, err
		}
		c.logger.Warn("chat completion failed", "attempt", attempt+1, "model", req.Model, "error", err)
	}

	return nil, errors.Wrapf(lastErr, "chat completion failed after %d attempts", c.cfg.MaxRetries+1)
}

func (c *ChatClient) send(ctx context.Context, body []byte) (*chatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("X-Title", "triggerflow")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to send request"), errTransport)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best effort detail
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "failed to decode response")
	}
	if out.Usage != nil {
		c.logger.Debug("chat completion usage",
			"prompt_tokens", out.Usage.PromptTokens,
			"completion_tokens", out.Usage.CompletionTokens)
	}
	return &out, nil
}
