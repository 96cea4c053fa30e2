package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GeminiConverter sends the file as an inline blob together with the prompt
// and asks for a JSON response.
type GeminiConverter struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewGeminiConverter(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiConverter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiConverter{client: client, model: model, logger: logger}, nil
}

func (c *GeminiConverter) Convert(ctx context.Context, data []byte, mimeType, prompt string) (json.RawMessage, error) {
	start := time.Now()

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(prompt))
	if err != nil {
		c.logger.Warn("extract.gemini.error", "model", c.model, "mime_type", mimeType,
			"elapsed_ms", time.Since(start).Milliseconds(), "err", err)
		return nil, classifyGeminiError(err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, Permanent(err)
	}
	text = cleanJSONBlock(text)
	if !json.Valid([]byte(text)) {
		return nil, Permanent(fmt.Errorf("%w: model returned non-JSON output", ErrInvalidPayload))
	}

	c.logger.Info("extract.gemini.done", "model", c.model, "mime_type", mimeType,
		"bytes_in", len(data), "bytes_out", len(text), "elapsed_ms", time.Since(start).Milliseconds())
	return json.RawMessage(text), nil
}

func (c *GeminiConverter) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return Permanent(err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return classifyHTTPStatus(gerr.Code, err)
	}

	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return Transient(err)
		default:
			return Permanent(err)
		}
	}
	// transport-level failure, no response at all
	return Transient(err)
}

func classifyHTTPStatus(code int, err error) error {
	if code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 {
		return Transient(err)
	}
	return Permanent(err)
}

func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}

// cleanJSONBlock removes markdown code fences around JSON.
func cleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
