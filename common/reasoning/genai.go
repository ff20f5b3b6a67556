package reasoning

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GenAIService implements Service on Google's Gemini API
type GenAIService struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIService creates a Gemini-backed reasoning service
func NewGenAIService(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("reasoning API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIService{client: client, model: model, timeout: timeout}, nil
}

// Classify asks the model for a verdict on one recommendation
func (s *GenAIService) Classify(ctx context.Context, change ChangeContext) (*Judgement, error) {
	text, err := s.generate(ctx, judgeSystem, judgePrompt(change), "application/json")
	if err != nil {
		return nil, err
	}
	return DecodeJudgement(text)
}

// GeneratePatch asks the model for a unified diff implementing one recommendation
func (s *GenAIService) GeneratePatch(ctx context.Context, req PatchRequest) (string, error) {
	text, err := s.generate(ctx, patchSystem, patchPrompt(req), "text/plain")
	if err != nil {
		return "", err
	}
	return ExtractDiff(text)
}

func (s *GenAIService) generate(ctx context.Context, system, prompt, mime string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	temperature := float32(0.2)
	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  mime,
		Temperature:       &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("reasoning call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	return text, nil
}
