package llm

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/nutrimap/resolver/internal/domain"
)

// completionAPI is the slice of the go-openai client we use, split out so
// tests can substitute a fake.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client wraps a chat-completions backend. Any OpenAI-compatible endpoint
// works; the base URL and model come from configuration.
type Client struct {
	api   completionAPI
	model string
	log   zerolog.Logger
}

// NewClient builds a chat client. An empty API key is allowed only when the
// caller intends to run without LLM stages; New returns nil in that case so
// callers can treat the absence uniformly.
func NewClient(apiKey, baseURL, model string, logger zerolog.Logger) *Client {
	if apiKey == "" {
		return nil
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
		log:   logger.With().Str("component", "llm").Logger(),
	}
}

// Complete sends a single-turn prompt. With jsonMode set the request asks for
// a JSON-object response; some backends reject that parameter, so a rejected
// request is retried once without it.
func (c *Client) Complete(ctx context.Context, system, user string, temperature float32, jsonMode bool) (string, error) {
	reply, err := c.complete(ctx, system, user, temperature, jsonMode)
	if err != nil && jsonMode {
		c.log.Debug().Err(err).Msg("json-mode completion failed, retrying without format constraint")
		reply, err = c.complete(ctx, system, user, temperature, false)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLLMUnavailable, err)
	}
	return reply, nil
}

func (c *Client) complete(ctx context.Context, system, user string, temperature float32, jsonMode bool) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	// The request struct marshals Temperature with omitempty, so a literal 0
	// never reaches the wire and the backend falls back to its default. The
	// smallest positive float survives marshaling and is 0 for any practical
	// sampler.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ExtractJSON strips markdown code fences that some models wrap around JSON
// replies and returns the inner payload.
func ExtractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	// Fall back to the outermost object when the model added prose.
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}
