package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"wabot/internal/entities"
)

type LLMClientConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient creates an LLM provider backed by the Messages API.
// SDK retries are off; webhook redelivery is the retry path.
func NewAnthropicClient(cfg LLMClientConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
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
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
	}, nil
}

func (c *AnthropicClient) GenerateReply(ctx context.Context, systemPrompt string, history []entities.ChatMessage) (string, error) {
	messages := c.convertMessages(history)
	if len(messages) == 0 {
		return "", c.providerErr(0, errors.New("no conversation history to reply to"))
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: systemPrompt}}
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", c.providerErr(apiErr.StatusCode, err)
		}
		return "", c.providerErr(0, err)
	}

	slog.DebugContext(ctx, "llm reply generated",
		"provider", "anthropic",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason)

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return "", c.providerErr(0, errors.New("empty reply"))
	}
	return reply, nil
}

// convertMessages maps history onto Anthropic turns. Consecutive turns with
// the same role are merged and leading assistant turns dropped, since the API
// expects alternating roles starting with the user.
func (c *AnthropicClient) convertMessages(history []entities.ChatMessage) []anthropic.MessageParam {
	turns := mergeTurns(history)
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		role := anthropic.MessageParamRoleUser
		if t.Role == entities.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(t.Content)},
		})
	}
	return messages
}

func (c *AnthropicClient) providerErr(status int, err error) error {
	return &entities.ProviderError{Provider: "anthropic", Op: "generate_reply", StatusCode: status, Err: err}
}

// mergeTurns collapses same-role neighbours and trims leading assistant turns.
func mergeTurns(history []entities.ChatMessage) []entities.ChatMessage {
	var out []entities.ChatMessage
	for _, m := range history {
		role := m.Role
		if role != entities.RoleAssistant {
			role = entities.RoleUser
		}
		if len(out) == 0 && role == entities.RoleAssistant {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, entities.ChatMessage{Role: role, Content: m.Content})
	}
	return out
}
