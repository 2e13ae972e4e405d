package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/allaspectsdev/modelmux/internal/tracing"
)

// maxResponseBody caps how much of an upstream response is read.
const maxResponseBody = 8 << 20

// HTTP talks to any endpoint implementing the OpenAI chat-completions wire
// format directly (local Ollama, vLLM, DeepSeek and similar gateways).
type HTTP struct {
	name    string
	model   string
	apiKey  string
	baseURL string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewHTTP creates an OpenAI-compatible backend rooted at baseURL, e.g.
// "http://localhost:11434/v1". apiKey may be empty for local servers.
func NewHTTP(name, model, apiKey, baseURL string) *HTTP {
	return &HTTP{
		name:    name,
		model:   model,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(),
	}
}

// Name returns the backend id.
func (h *HTTP) Name() string { return h.name }

// Execute posts a non-streaming chat completion.
func (h *HTTP) Execute(ctx context.Context, query, systemPrompt string, budget Budget) (string, error) {
	req := chatRequest{Model: h.model, MaxTokens: budget.MaxOutputTokens}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: query})

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshalling request: %w", err)
	}

	url := h.baseURL + "/chat/completions"
	ctx, span := tracing.StartUpstreamSpan(ctx, url, h.name)
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
	tracing.InjectHeaders(ctx, httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		tracing.RecordError(ctx, err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Backend: h.name, Temporary: true, Err: fmt.Errorf("calling %s: %w", url, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &Error{Backend: h.name, Status: resp.StatusCode, Temporary: true, Err: fmt.Errorf("reading response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &Error{
			Backend:   h.name,
			Status:    resp.StatusCode,
			Temporary: retryableStatus(resp.StatusCode),
			Err:       fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, truncate(string(raw), 200)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &Error{Backend: h.name, Status: resp.StatusCode, Err: fmt.Errorf("parsing response: %w", err)}
	}
	if parsed.Error != nil {
		return "", &Error{Backend: h.name, Status: resp.StatusCode, Err: fmt.Errorf("upstream error (%s): %s", parsed.Error.Type, parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", &Error{Backend: h.name, Status: resp.StatusCode, Err: fmt.Errorf("response contained no choices")}
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
