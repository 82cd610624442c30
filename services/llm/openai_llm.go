package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/greenguardian-ai/gateway/services/gateway/datatypes"
)

// OpenAIClient talks to OpenAI or any OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// Compile-time check that OpenAIClient implements LLMClient.
var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client from OPENAI_API_KEY and OPENAI_MODEL.
// The key falls back to the container secret at /run/secrets/openai_api_key.
// OPENAI_BASE_URL overrides the API endpoint for compatible backends.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL") // e.g., "gpt-4o"
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// buildRequest maps messages and params to an OpenAI chat request,
// applying defaults for nil fields.
func (o *OpenAIClient) buildRequest(messages []datatypes.Message, params GenerationParams) openai.ChatCompletionRequest {
	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    chatMessages,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

// Chat performs a buffered chat completion and reports token usage.
func (o *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (*ChatResult, error) {

	slog.Debug("Generating text via OpenAI", "model", o.model, "num_messages", len(messages))

	resp, err := o.client.CreateChatCompletion(ctx, o.buildRequest(messages, params))
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices")
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return &ChatResult{
		Content: resp.Choices[0].Message.Content,
		Usage: &datatypes.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// ChatStream performs a streaming chat completion.
//
// OpenAI's streaming protocol does not include token usage, so only
// content deltas and the final done event are forwarded.
func (o *OpenAIClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	req := o.buildRequest(messages, params)
	req.Stream = true

	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		slog.Error("OpenAI stream call failed", "error", err)
		return fmt.Errorf("OpenAI stream call failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			event := StreamEvent{Type: StreamEventError, Error: err.Error()}
			if cbErr := callback(event); cbErr != nil {
				return fmt.Errorf("stream callback failed: %w", cbErr)
			}
			return fmt.Errorf("OpenAI stream receive failed: %w", err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if cbErr := callback(StreamEvent{Type: StreamEventToken, Content: delta}); cbErr != nil {
			return fmt.Errorf("stream callback failed: %w", cbErr)
		}
	}

	if cbErr := callback(StreamEvent{Type: StreamEventDone}); cbErr != nil {
		return fmt.Errorf("stream callback failed: %w", cbErr)
	}
	return nil
}
