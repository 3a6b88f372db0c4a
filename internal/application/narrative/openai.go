package narrative

import (
	"context"
	"fmt"
	"strings"

	"smartfolio-backend/internal/application/valuation"
	"smartfolio-backend/internal/domain"

	"github.com/sashabaranov/go-openai"
)

type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds a chat-completions narrator. baseURL overrides the API endpoint when set.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Analyze(ctx context.Context, snap valuation.Snapshot) (Analysis, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: analysisPrompt(snap)},
		},
		Temperature:    0.7,
		MaxTokens:      1000,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: openai: %v", domain.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, fmt.Errorf("%w: openai: no choices", domain.ErrMalformedNarrative)
	}
	return ParseAnalysis(resp.Choices[0].Message.Content)
}

func (o *OpenAI) Chat(ctx context.Context, snap valuation.Snapshot, question string, history []Turn) (string, error) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: chatContextPrompt(snap)},
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: question})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", domain.ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: openai: empty answer", domain.ErrMalformedNarrative)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
