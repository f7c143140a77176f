package enhance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ChatProvider talks to any OpenAI-compatible chat completion API
// (Groq, Mistral, Cohere's compatibility endpoint and OpenAI itself).
type ChatProvider struct {
	name   string
	model  string
	client *openai.Client
}

var _ Provider = (*ChatProvider)(nil)

// NewChatProvider builds a provider; an empty baseURL keeps the library default.
func NewChatProvider(name, apiKey, model, baseURL string, httpClient *http.Client) *ChatProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &ChatProvider{name: name, model: model, client: openai.NewClientWithConfig(cfg)}
}

func (p *ChatProvider) Name() string { return p.name }

func (p *ChatProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   2000,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
