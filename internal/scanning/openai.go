package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultOpenAIBaseURL points at OpenRouter, which speaks the OpenAI chat/completions protocol
const DefaultOpenAIBaseURL = "https://openrouter.ai/api/v1"

// OpenAIConfig configures an OpenAI-compatible chat/completions client
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Title   string // sent as X-Title, used by OpenRouter for attribution
	Timeout time.Duration
}

// OpenAI implements Completer against any OpenAI-compatible chat/completions endpoint
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAI creates an OpenAI-compatible Completer. A missing API key is a ConfigurationError.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigurationError{Err: errors.New("completion api key is required")}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends a single user message and returns choices[0].message.content
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	rid := uuid.NewString()
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model:    o.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(o.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.Title != "" {
		req.Header.Set("X-Title", o.cfg.Title)
	}

	slog.Info("llm.complete.start", "req_id", rid, "model", o.cfg.Model, "prompt_len", len(prompt))

	resp, err := o.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		slog.Error("llm.complete.http_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", &TransientError{Err: fmt.Errorf("calling completion endpoint: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Err: fmt.Errorf("reading response: %w", err)}
	}

	if err := classifyStatus(resp.StatusCode, raw); err != nil {
		slog.Error("llm.complete.status_error", "req_id", rid, "status", resp.StatusCode,
			"error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		// An unreadable envelope is treated as a bad answer, not a failed call
		slog.Warn("llm.complete.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return "", nil
	}
	if len(cc.Choices) == 0 {
		slog.Warn("llm.complete.no_choices", "req_id", rid)
		return "", nil
	}

	content := cc.Choices[0].Message.Content
	slog.Info("llm.complete.ok", "req_id", rid, "content_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds())
	return content, nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}

// classifyStatus maps a completion endpoint status code onto the error taxonomy
func classifyStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("status %d: %s", code, truncate(strings.TrimSpace(string(body)), 512))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &ConfigurationError{Err: err}
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return &TransientError{Err: err}
	}
	return fmt.Errorf("completion request rejected: %w", err)
}
