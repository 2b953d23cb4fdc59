// Package vision provides the client for the remote vision inference API
// (OpenAI-compatible chat completions) with streaming support, request
// construction and error classification.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/SeverMM/ai-mri-analyzer/pkg/logging"
)

// Prometheus metrics for inference API operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mri_api_requests_total",
		Help: "Total inference API requests by mode and status",
	}, []string{"mode", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mri_api_request_duration_seconds",
		Help:    "Inference API request duration in seconds by mode",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"mode"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mri_api_errors_total",
		Help: "Total inference API errors by class",
	}, []string{"class"})
)

const completionsPath = "/v1/chat/completions"

// Config holds the inference API client configuration.
type Config struct {
	// APIKey authenticates requests (REQUIRED).
	APIKey string

	// Model is the default model identifier.
	Model string

	// BaseURL of the API.
	BaseURL string

	// MaxCompletionTokens caps the response length per request.
	MaxCompletionTokens int

	// Timeout covers one full request including stream consumption.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration for the given credential.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:              apiKey,
		Model:               "gpt-4o-mini",
		BaseURL:             "https://api.openai.com",
		MaxCompletionTokens: 1024,
		Timeout:             5 * time.Minute,
	}
}

// Client is the inference API client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new inference API client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.MaxCompletionTokens <= 0 {
		cfg.MaxCompletionTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logging.NewLogger("vision-client"),
	}, nil
}

// Model returns the configured default model identifier.
func (c *Client) Model() string {
	return c.config.Model
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Stream              bool            `json:"stream,omitempty"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse is the non-streaming chat completions response body.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CreateStream starts a streaming chat completion for the given messages.
// The response is returned as a fragment stream; the request body asks the
// model for a JSON object.
func (c *Client) CreateStream(ctx context.Context, model string, messages []Message) (Fragments, error) {
	if model == "" {
		model = c.config.Model
	}

	body := chatRequest{
		Model:               model,
		Messages:            messages,
		Stream:              true,
		MaxCompletionTokens: c.config.MaxCompletionTokens,
		ResponseFormat:      &responseFormat{Type: "json_object"},
	}

	resp, err := c.post(ctx, "stream", body)
	if err != nil {
		return nil, err
	}

	return newStream(resp.Body), nil
}

// Completion performs a non-streaming chat completion and returns the
// response text. Used by the report pipeline for the narrative summary.
func (c *Client) Completion(ctx context.Context, model string, messages []Message) (string, error) {
	if model == "" {
		model = c.config.Model
	}

	body := chatRequest{
		Model:               model,
		Messages:            messages,
		MaxCompletionTokens: c.config.MaxCompletionTokens,
	}

	resp, err := c.post(ctx, "completion", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return "", &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "malformed completion response",
			Err:        err,
		}
	}
	if len(parsed.Choices) == 0 {
		apiErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return "", &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "completion response has no choices",
		}
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// post sends one chat completions request and returns the raw response on
// 2xx. Error statuses are classified, counted and closed here.
func (c *Client) post(ctx context.Context, mode string, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + completionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	apiRequestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	if err != nil {
		apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		apiRequestsTotal.WithLabelValues(mode, "network_error").Inc()
		c.logger.Warn().Err(err).Str("mode", mode).Msg("Inference API request failed")
		return nil, networkError(err)
	}

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		msg := readErrorMessage(resp.Body)
		resp.Body.Close()

		apiErrorsTotal.WithLabelValues(string(class)).Inc()
		apiRequestsTotal.WithLabelValues(mode, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		c.logger.Warn().
			Str("mode", mode).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Inference API error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    msg,
		}
	}

	apiRequestsTotal.WithLabelValues(mode, fmt.Sprintf("%d", resp.StatusCode)).Inc()
	return resp, nil
}

// readErrorMessage extracts a human-readable message from an error response
// body, falling back to the raw (truncated) body.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}

	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}

	return strings.TrimSpace(string(raw))
}
