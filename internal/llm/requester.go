// Package llm issues single decision requests against an OpenAI-compatible
// chat-completions endpoint and maps failures onto the advisor's error
// taxonomy. Retry policy belongs to the caller; this package never retries.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"battlenerd/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

// Role values mirror the wire protocol.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Requester issues exactly one external decision call per invocation.
type Requester interface {
	Request(ctx context.Context, messages []Message, settings config.Settings) (string, error)
}

// OpenAIRequester talks to api.openai.com or any compatible base URL. The
// client is rebuilt per call from the settings snapshot, so key/endpoint/timeout
// changes take effect on the next request without shared mutable state.
type OpenAIRequester struct{}

func NewOpenAIRequester() *OpenAIRequester {
	return &OpenAIRequester{}
}

// Request performs a single chat completion and returns the first choice,
// trimmed of surrounding whitespace.
func (r *OpenAIRequester) Request(ctx context.Context, messages []Message, settings config.Settings) (string, error) {
	if strings.TrimSpace(settings.APIKey) == "" {
		return "", &AuthError{Reason: "no API key configured; set advisor.api_key or use the configure-advisor tool"}
	}

	clientCfg := openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: settings.RequestTimeout}
	client := openai.NewClientWithConfig(clientCfg)

	req := openai.ChatCompletionRequest{
		Model:            settings.Model,
		Messages:         toWireMessages(messages),
		Temperature:      float32(settings.Temperature),
		MaxTokens:        settings.MaxTokens,
		TopP:             float32(settings.TopP),
		PresencePenalty:  float32(settings.PresencePenalty),
		FrequencyPenalty: float32(settings.FrequencyPenalty),
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Detail: "response carried no completion choices"}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func toWireMessages(messages []Message) []openai.ChatCompletionMessage {
	wire := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return wire
}

// classify maps client errors onto the taxonomy: API-level failures become
// ProviderError with the HTTP status, everything else is transport.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Status: apiErr.HTTPStatusCode, Detail: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Status: reqErr.HTTPStatusCode, Detail: reqErr.Error()}
	}
	return &NetworkError{Err: err}
}
