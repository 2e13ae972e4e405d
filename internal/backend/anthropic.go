package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic calls the Claude Messages API.
type Anthropic struct {
	name   string
	model  string
	client anthropic.Client
}

// NewAnthropic creates a Claude backend. An empty apiKey falls back to the
// SDK's ANTHROPIC_API_KEY lookup; an empty baseURL uses the public API.
func NewAnthropic(name, model, apiKey, baseURL string) *Anthropic {
	opts := []option.RequestOption{
		option.WithHTTPClient(newHTTPClient()),
		// Retries belong to the engine's cascade.
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Anthropic{name: name, model: model, client: anthropic.NewClient(opts...)}
}

// Name returns the backend id.
func (a *Anthropic) Name() string { return a.name }

// Execute sends query as a single user turn.
func (a *Anthropic) Execute(ctx context.Context, query, systemPrompt string, budget Budget) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(budget.MaxOutputTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(query)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapSDKError(a.name, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", &Error{Backend: a.name, Err: fmt.Errorf("response contained no text (stop reason %q)", resp.StopReason)}
	}
	return sb.String(), nil
}
