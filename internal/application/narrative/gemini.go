package narrative

import (
	"context"
	"fmt"
	"strings"

	"smartfolio-backend/internal/application/valuation"
	"smartfolio-backend/internal/domain"

	"google.golang.org/genai"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Gemini struct {
	models contentGenerator
	model  string
}

func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Gemini{models: client.Models, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func systemInstruction() *genai.Content {
	return &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}}
}

func userContent(text string) *genai.Content {
	return &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}}
}

func (g *Gemini) Analyze(ctx context.Context, snap valuation.Snapshot) (Analysis, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{userContent(analysisPrompt(snap))}, &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.7),
		MaxOutputTokens:   1000,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("%w: gemini: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp == nil {
		return Analysis{}, fmt.Errorf("%w: gemini: empty response", domain.ErrMalformedNarrative)
	}
	return ParseAnalysis(resp.Text())
}

func (g *Gemini) Chat(ctx context.Context, snap valuation.Snapshot, question string, history []Turn) (string, error) {
	contents := []*genai.Content{userContent(chatContextPrompt(snap))}
	for _, t := range history {
		role := genai.RoleUser
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: t.Content}}})
	}
	contents = append(contents, userContent(question))

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction(),
		Temperature:       genai.Ptr[float32](0.7),
		MaxOutputTokens:   500,
	})
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %v", domain.ErrUpstreamUnavailable, err)
	}
	if resp == nil || strings.TrimSpace(resp.Text()) == "" {
		return "", fmt.Errorf("%w: gemini: empty answer", domain.ErrMalformedNarrative)
	}
	return strings.TrimSpace(resp.Text()), nil
}
