package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPConverter posts the file to an extraction service speaking a small
// JSON protocol:
//
//	request:  {"mime_type": "...", "prompt": "...", "content": "<base64>"}
//	response: the structured record as a JSON object
type HTTPConverter struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

type httpConvertRequest struct {
	MimeType string `json:"mime_type"`
	Prompt   string `json:"prompt"`
	Content  []byte `json:"content"`
}

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

func NewHTTPConverter(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *HTTPConverter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPConverter{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (c *HTTPConverter) Convert(ctx context.Context, data []byte, mimeType, prompt string) (json.RawMessage, error) {
	reqID := uuid.NewString()
	start := time.Now()

	bs, err := json.Marshal(httpConvertRequest{MimeType: mimeType, Prompt: prompt, Content: data})
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode json: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bs))
	if err != nil {
		return nil, Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("extract.http.send_error", "req_id", reqID, "err", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, Transient(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("extract.http.response_body_close_error", "req_id", reqID, "err", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, Transient(fmt.Errorf("read response: %w", err))
	}

	c.logger.Info("extract.http.response", "req_id", reqID, "status", resp.StatusCode,
		"bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		return nil, classifyHTTPStatus(resp.StatusCode, fmt.Errorf("non-2xx status: %d", resp.StatusCode))
	}
	if !json.Valid(raw) {
		return nil, Permanent(fmt.Errorf("%w: response is not JSON", ErrInvalidPayload))
	}
	return json.RawMessage(raw), nil
}
