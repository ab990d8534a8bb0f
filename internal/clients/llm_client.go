/**
 * LLM Service Client - OCR over an OpenAI-compatible chat completions API
 *
 * Every OCR engine is exposed by the LLM service as a model named
 * "ocr/<engine>". A page is sent as a PNG data URL together with a text
 * prompt; the first choice's message content is the page text.
 *
 * The client never retries. Retry policy belongs to the queue.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Oremus-Labs/ol-rag-pipeline-core/internal/errors"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/logging"
	"github.com/Oremus-Labs/ol-rag-pipeline-core/internal/ocr"
)

// DefaultLLMTimeout bounds a single OCR call.
const DefaultLLMTimeout = 900 * time.Second

// LLMServiceClient handles communication with the LLM service
type LLMServiceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// ChatMessage is one message of a chat completion request
type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is a text or image part of a message
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, here always a data URL
type ImageURL struct {
	URL string `json:"url"`
}

// ChatCompletionRequest is the request body for /v1/chat/completions
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// NewLLMServiceClient creates a new LLM service client.
// An empty apiKey sends no Authorization header.
func NewLLMServiceClient(baseURL, apiKey string, timeout time.Duration) *LLMServiceClient {
	if timeout <= 0 {
		timeout = DefaultLLMTimeout
	}
	return &LLMServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.NewLogger("LLMServiceClient"),
	}
}

// OCRPage extracts the text of one page with one engine.
// Any failure is reported as an engine call failure for (engine, page).
func (c *LLMServiceClient) OCRPage(ctx context.Context, engine ocr.EngineSpec, page ocr.PageInput, prompt string, maxTokens int) (string, error) {
	req := &ChatCompletionRequest{
		Model: engine.Model(),
		Messages: []ChatMessage{{
			Role: "user",
			Content: []ContentPart{
				{Type: "image_url", ImageURL: &ImageURL{URL: ImageDataURL(page.PNG)}},
				{Type: "text", Text: prompt},
			},
		}},
		MaxTokens:   maxTokens,
		Temperature: 0,
	}

	start := time.Now()
	text, err := c.ChatCompletion(ctx, req)
	if err != nil {
		c.logger.Warn("OCR call failed",
			"engine", engine.Name,
			"page", page.PageNumber,
			"error", err)
		return "", apperrors.NewEngineCallError(engine.Name, page.PageNumber, err)
	}

	c.logger.Debug("OCR call complete",
		"engine", engine.Name,
		"page", page.PageNumber,
		"textLength", len(text),
		"duration", time.Since(start))

	return text, nil
}

// ChatCompletion posts a chat completion request and returns the first choice's text.
func (c *LLMServiceClient) ChatCompletion(ctx context.Context, req *ChatCompletionRequest) (string, error) {
	endpoint := c.baseURL + "/v1/chat/completions"

	// Marshal request
	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// Create HTTP request
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Source", "ocr-worker")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Execute request
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request to LLM service failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	// Check status code
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("LLM service returned error status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	return ExtractMessageContent(body)
}

// HealthCheck verifies the LLM service is reachable
func (c *LLMServiceClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("LLM service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("LLM service health check returned status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}

	return nil
}

// ImageDataURL encodes PNG bytes as a data URL.
func ImageDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// ExtractMessageContent pulls the page text out of a chat completion response.
//
// A string message content wins, trimmed; a blank string content means a blank
// page and yields "". Without string content the choice's "text" field is used.
func ExtractMessageContent(body []byte) (string, error) {
	var payload struct {
		Choices json.RawMessage `json:"choices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var choices []json.RawMessage
	if len(payload.Choices) == 0 || json.Unmarshal(payload.Choices, &choices) != nil || len(choices) == 0 {
		return "", fmt.Errorf("response missing choices")
	}

	var first map[string]json.RawMessage
	if err := json.Unmarshal(choices[0], &first); err != nil {
		first = nil
	}

	var message map[string]json.RawMessage
	if raw, ok := first["message"]; ok {
		if err := json.Unmarshal(raw, &message); err != nil {
			message = nil
		}
	}

	if content, ok := jsonString(message["content"]); ok {
		return strings.TrimSpace(content), nil
	}

	if text, ok := jsonString(first["text"]); ok {
		return strings.TrimSpace(text), nil
	}

	return "", nil
}

// jsonString decodes raw only when it is a JSON string literal.
func jsonString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
