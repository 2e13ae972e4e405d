package backend

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI calls the Chat Completions API.
type OpenAI struct {
	name   string
	model  string
	client openai.Client
}

// NewOpenAI creates an OpenAI backend. baseURL may point at any endpoint
// speaking the same API.
func NewOpenAI(name, model, apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{
		option.WithHTTPClient(newHTTPClient()),
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{name: name, model: model, client: openai.NewClient(opts...)}
}

// Name returns the backend id.
func (o *OpenAI) Name() string { return o.name }

// Execute sends query as a single user message.
func (o *OpenAI) Execute(ctx context.Context, query, systemPrompt string, budget Budget) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(query))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(budget.MaxOutputTokens)),
	})
	if err != nil {
		return "", wrapSDKError(o.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Backend: o.name, Err: fmt.Errorf("response contained no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}
