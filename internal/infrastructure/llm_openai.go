package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"wabot/internal/entities"
)

type OpenAIClient struct {
	client    openai.Client
	model     string
	maxTokens int64
}

// NewOpenAIClient creates an LLM provider backed by Chat Completions. Any
// OpenAI-compatible endpoint works through BaseURL.
func NewOpenAIClient(cfg LLMClientConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	return &OpenAIClient{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

func (c *OpenAIClient) GenerateReply(ctx context.Context, systemPrompt string, history []entities.ChatMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, m := range history {
		if m.Role == entities.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", c.providerErr(apiErr.StatusCode, err)
		}
		return "", c.providerErr(0, err)
	}

	if len(resp.Choices) == 0 {
		return "", c.providerErr(0, errors.New("no choices in response"))
	}

	slog.DebugContext(ctx, "llm reply generated",
		"provider", "openai",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason)

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", c.providerErr(0, errors.New("empty reply"))
	}
	return reply, nil
}

func (c *OpenAIClient) providerErr(status int, err error) error {
	return &entities.ProviderError{Provider: "openai", Op: "generate_reply", StatusCode: status, Err: err}
}
