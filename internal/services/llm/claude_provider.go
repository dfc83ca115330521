package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

// claudeProvider serves claude-* models through the Anthropic API
type claudeProvider struct {
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	client    anthropic.Client
	limiter   *rate.Limiter
	maxTokens int
}

// newClaudeProvider creates a Claude provider instance. The API key is
// resolved environment-first, then KV store, then config.
func newClaudeProvider(cfg *common.ClaudeConfig, kv interfaces.KeyValueStorage, logger arbor.ILogger) (*claudeProvider, error) {
	ctx := context.Background()
	apiKey, err := common.ResolveAPIKey(ctx, kv, "anthropic_api_key", cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("Anthropic API key is required (set via ANTHROPIC_API_KEY or claude.api_key in config): %w", err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	interval := common.Duration(cfg.RateLimit, time.Second)
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	logger.Debug().
		Str("model", cfg.Model).
		Int("max_tokens", maxTokens).
		Dur("rate_limit", interval).
		Msg("Claude provider initialized")

	return &claudeProvider{
		config:    cfg,
		logger:    logger,
		client:    client,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		maxTokens: maxTokens,
	}, nil
}

func (p *claudeProvider) Kind() ProviderKind {
	return ProviderClaude
}

// convertMessages maps gateway messages to the Claude wire format, pulling
// the first system message out for the System parameter
func convertMessages(messages []interfaces.Message) ([]anthropic.MessageParam, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}
	hasUser := false
	for _, msg := range messages {
		if msg.Role == "user" {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	claudeMessages := make([]anthropic.MessageParam, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}
		switch msg.Role {
		case "assistant":
			claudeMessages = append(claudeMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		default:
			claudeMessages = append(claudeMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}
	return claudeMessages, systemText, nil
}

func (p *claudeProvider) Generate(ctx context.Context, model string, req *interfaces.CompletionRequest) (*providerResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	claudeMessages, systemText, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  claudeMessages,
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(float64(temperature))
	}
	if req.Format == interfaces.ResponseFormatJSON {
		// Claude has no native JSON response mode; the instruction goes in
		// the system prompt and the gateway validates the decode
		instruction := "Respond with a single valid JSON object and nothing else."
		if systemText != "" {
			systemText = systemText + "\n\n" + instruction
		} else {
			systemText = instruction
		}
	}
	if systemText != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemText}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Claude API")
	}

	return &providerResult{
		Text:             text.String(),
		TokensPrompt:     int(resp.Usage.InputTokens),
		TokensCompletion: int(resp.Usage.OutputTokens),
	}, nil
}

// HealthCheck issues a minimal completion to verify credentials
func (p *claudeProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Generate(ctx, p.config.Model, &interfaces.CompletionRequest{
		Messages:  []interfaces.Message{{Role: "user", Content: "ping"}},
		MaxTokens: 8,
	})
	return err
}

func (p *claudeProvider) Close() error {
	return nil
}
