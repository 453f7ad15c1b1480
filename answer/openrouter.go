package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/certflow/certflow/errors"
)

const (
	// DefaultModel is the fallback model when none is specified
	// Should match the default in am/defaults.go for consistency
	DefaultModel = "openai/gpt-4o-mini"

	defaultBaseURL = "https://openrouter.ai/api/v1"
)

// Config holds OpenRouter client configuration.
type Config struct {
	APIKey      string
	Model       string
	Temperature *float64 // nil = use default (0.2)
	MaxTokens   *int     // nil = use default (1000)

	// RequestsPerMinute caps outbound calls client-side. 0 disables limiting.
	RequestsPerMinute int

	// Timeout bounds each HTTP round trip. Callers may tighten further via ctx.
	Timeout time.Duration

	// BaseURL overrides the API endpoint. Tests point this at a local server.
	BaseURL string

	Logger *zap.SugaredLogger // Structured logger (nil = nop logger)

	// Usage receives per-request accounting rows. Optional.
	Usage *UsageStore
}

// Client is the OpenRouter-backed answer engine.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	config     Config
	limiter    *rate.Limiter
	usage      *UsageStore
	logger     *zap.SugaredLogger
}

var _ Engine = (*Client)(nil)

// NewClient creates an OpenRouter client with engine defaults.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		defaultTemp := 0.2
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 1000
		config.MaxTokens = &defaultTokens
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1)
	}

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    config.BaseURL,
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		limiter:    limiter,
		usage:      config.Usage,
		logger:     logger,
	}
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Complete sends one chat completion request and returns a typed outcome.
func (c *Client) Complete(ctx context.Context, req Request) (*Answer, error) {
	if c.apiKey == "" {
		return nil, errors.WithKind(errors.New("OpenRouter API key not configured"), errors.KindAuth)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter wait")
		}
	}

	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}

	var userMsg Message
	if len(req.Attachments) > 0 {
		userMsg = NewMultimodalMessage("user", req.UserPrompt, req.Attachments)
	} else {
		userMsg = NewTextMessage("user", req.UserPrompt)
	}
	messages := []Message{userMsg}
	if req.SystemPrompt != "" {
		messages = append([]Message{NewTextMessage("system", req.SystemPrompt)}, messages...)
	}

	c.logger.Debugw("Answer engine request",
		"model", model,
		"temperature", *c.config.Temperature,
		"max_tokens", *c.config.MaxTokens,
		"attachments", len(req.Attachments),
	)

	requestTime := time.Now()
	resp, err := c.createChatCompletion(ctx, chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: *c.config.Temperature,
		MaxTokens:   *c.config.MaxTokens,
	})
	elapsed := time.Since(requestTime)

	if err != nil {
		c.recordUsage(req.TaskID, model, Usage{}, elapsed, err)
		return nil, err
	}

	if len(resp.Choices) == 0 {
		respErr := errors.WithKind(
			errors.Mark(errors.New("no response choices"), ErrInvalidResponse),
			errors.KindInvalidResponse)
		c.recordUsage(req.TaskID, model, Usage{}, elapsed, respErr)
		return nil, respErr
	}

	content := strings.TrimSpace(resp.Choices[0].Message.TextContent())

	c.logger.Debugw("Answer engine response",
		"model", resp.Model,
		"content_length", len(content),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
	)

	c.recordUsage(req.TaskID, model, resp.Usage, elapsed, nil)

	return &Answer{
		Content: content,
		Model:   resp.Model,
		Usage:   resp.Usage,
	}, nil
}

func (c *Client) recordUsage(taskID, model string, usage Usage, elapsed time.Duration, callErr error) {
	if c.usage == nil {
		return
	}
	if err := c.usage.Record(taskID, model, usage, elapsed, callErr); err != nil {
		// Accounting must never fail a completion
		c.logger.Warnw("Failed to record model usage", "error", err, "model", model)
	}
}

func (c *Client) createChatCompletion(ctx context.Context, req chatCompletionRequest) (*chatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", "certflow")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.WithKind(
			errors.Mark(errors.Wrap(err, "failed to send request"), ErrUnavailable),
			errors.KindUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithKind(
			errors.Mark(errors.Wrap(err, "failed to read response"), ErrUnavailable),
			errors.KindUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, respBody)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.WithKind(
			errors.Mark(errors.Wrap(err, "failed to unmarshal response"), ErrInvalidResponse),
			errors.KindInvalidResponse)
	}

	return &chatResp, nil
}

// statusError maps HTTP status codes to the engine's typed failures.
func (c *Client) statusError(status int, body []byte) error {
	err := errors.Newf("API request failed with status %d: %s", status, string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return errors.WithKind(errors.Mark(err, ErrRateLimited), errors.KindRateLimited)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.WithKind(err, errors.KindAuth)
	case status >= 500:
		return errors.WithKind(errors.Mark(err, ErrUnavailable), errors.KindUnavailable)
	case status == http.StatusBadRequest:
		return errors.WithKind(err, errors.KindInvalidInput)
	default:
		return errors.WithKind(errors.Mark(err, ErrInvalidResponse), errors.KindInvalidResponse)
	}
}
