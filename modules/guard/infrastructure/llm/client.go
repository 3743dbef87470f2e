package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultBaseURL = "https://api.friendli.ai/serverless/v1"
	DefaultModel   = "meta-llama-3.1-8b-instruct"

	maxResponseBytes = 4 << 20
)

type Config struct {
	BaseURL    string
	Token      string
	Model      string
	Timeout    time.Duration
	MaxRetries uint64
	Backoff    time.Duration
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// completer is what the classifier and generator need from a chat backend.
type completer interface {
	Complete(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint. Transient
// failures (transport errors, 429, 5xx) are retried with exponential backoff;
// the caller's context bounds the whole exchange.
type Client struct {
	baseURL    string
	token      string
	model      string
	httpClient *http.Client
	maxRetries uint64
	backoff    time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
	}
}

// StatusError is a non-2xx response from the chat endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat completions status %d: %s", e.StatusCode, e.Body)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func (c *Client) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: temperature})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	var out string
	b := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		text, err := c.do(ctx, body)
		if err == nil {
			out = text
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if se, ok := errors.AsType[*StatusError](err); ok && !retryableStatus(se.StatusCode) {
			return err
		}
		if _, ok := errors.AsType[*decodeError](err); ok {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode chat response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (c *Client) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(raw))
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return "", &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &decodeError{err: err}
	}
	if len(parsed.Choices) == 0 {
		return "", &decodeError{err: errors.New("no choices")}
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
