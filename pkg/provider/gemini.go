package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements LLMProvider for Google Gemini
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// NewGeminiProvider creates a Gemini API client for the profile.
func NewGeminiProvider(ctx context.Context, profile Profile) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  profile.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if profile.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: profile.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: profile.Model}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return Gemini
}

// Call makes an API call to Google Gemini
func (p *GeminiProvider) Call(ctx context.Context, request Request) (resp *Response, err error) {
	start := time.Now()
	defer func() { observe(Gemini, start, err) }()

	system, turns := splitSystem(request)

	contents := make([]*genai.Content, 0, len(turns))
	for _, msg := range turns {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if request.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(request.Temperature))
	}

	model := request.Model
	if model == "" {
		model = p.model
	}

	response, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, wrapGeminiError(err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return nil, newError(Gemini, 0, fmt.Errorf("no candidates returned"))
	}

	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}

	return &Response{Content: sb.String(), Model: model}, nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newError(Gemini, apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return newError(Gemini, apiErrPtr.Code, err)
	}
	return newError(Gemini, 0, err)
}
