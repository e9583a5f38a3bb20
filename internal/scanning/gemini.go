package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini implements the Completer interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Completer instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigurationError{Err: errors.New("gemini api key is required")}
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("creating gemini client: %w", err)}
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Complete sends the prompt as a single text part and concatenates the text answer
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return geminiFailure(err, time.Since(start))
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		slog.Warn("llm.complete.no_candidates")
		return "", nil
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

// geminiFailure turns a GenerateContent error into the Completer result.
// A safety or recitation block is a deterministic answer, so it yields empty
// content (a malformed scan) rather than an error that would be retried.
func geminiFailure(err error, elapsed time.Duration) (string, error) {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		slog.Warn("llm.complete.gemini_blocked", "error", err, "elapsed_ms", elapsed.Milliseconds())
		return "", nil
	}
	slog.Error("llm.complete.gemini_error", "error", err, "elapsed_ms", elapsed.Milliseconds())
	return "", classifyGeminiError(err)
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return &ConfigurationError{Err: err}
		case apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "API key"):
			return &ConfigurationError{Err: err}
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return &TransientError{Err: err}
		}
		return fmt.Errorf("gemini request rejected: %w", err)
	}
	return &TransientError{Err: fmt.Errorf("generating content: %w", err)}
}
