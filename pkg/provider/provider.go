// Package provider adapts LLM vendor SDKs to a single call shape.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/jobats/internal/observability"
)

// Provider names.
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Gemini    = "gemini"
)

// DefaultMaxTokens is used when a request leaves MaxTokens unset.
const DefaultMaxTokens = 2000

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes one LLM API call. Implementations do not retry.
	Call(ctx context.Context, request Request) (*Response, error)

	// Provider returns the provider name
	Provider() string
}

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request contains the request parameters for an LLM call
type Request struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Response contains the response from an LLM
type Response struct {
	Content string      `json:"content"`
	Model   string      `json:"model,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Profile holds credentials and defaults for one provider account.
type Profile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Factory builds a provider for a profile.
type Factory func(ctx context.Context, profile Profile) (LLMProvider, error)

// New creates an LLM provider for the profile's vendor.
func New(ctx context.Context, profile Profile) (LLMProvider, error) {
	switch profile.Provider {
	case OpenAI:
		return NewOpenAIProvider(profile), nil
	case Anthropic:
		return NewAnthropicProvider(profile), nil
	case Gemini:
		return NewGeminiProvider(ctx, profile)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// splitSystem moves system turns into the system prompt.
func splitSystem(request Request) (string, []Message) {
	system := request.SystemPrompt
	turns := make([]Message, 0, len(request.Messages))
	for _, msg := range request.Messages {
		if msg.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		turns = append(turns, msg)
	}
	return system, turns
}

func observe(name string, start time.Time, err error) {
	observability.RecordProviderCall(name, time.Since(start), err == nil)
}
