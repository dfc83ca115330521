package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

// geminiProvider serves gemini-* models through the Gemini API
type geminiProvider struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	limiter *rate.Limiter
}

// newGeminiProvider creates a Gemini provider instance
func newGeminiProvider(cfg *common.GeminiConfig, kv interfaces.KeyValueStorage, logger arbor.ILogger) (*geminiProvider, error) {
	ctx := context.Background()
	apiKey, err := common.ResolveAPIKey(ctx, kv, "gemini_api_key", cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("Gemini API key is required (set via GEMINI_API_KEY or gemini.api_key in config): %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	interval := common.Duration(cfg.RateLimit, 4*time.Second)

	logger.Debug().
		Str("model", cfg.Model).
		Dur("rate_limit", interval).
		Msg("Gemini provider initialized")

	return &geminiProvider{
		config:  cfg,
		logger:  logger,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

func (p *geminiProvider) Kind() ProviderKind {
	return ProviderGemini
}

// convertMessagesToGemini maps gateway messages to Gemini contents, pulling
// the first system message out for SystemInstruction
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
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

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}
		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}
	return contents, systemText, nil
}

func (p *geminiProvider) Generate(ctx context.Context, model string, req *interfaces.CompletionRequest) (*providerResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	contents, systemText, err := convertMessagesToGemini(req.Messages)
	if err != nil {
		return nil, err
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}
	if req.Format == interfaces.ResponseFormatJSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Gemini API")
	}

	result := &providerResult{Text: text.String()}
	if resp.UsageMetadata != nil {
		result.TokensPrompt = int(resp.UsageMetadata.PromptTokenCount)
		result.TokensCompletion = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

// HealthCheck issues a minimal completion to verify credentials
func (p *geminiProvider) HealthCheck(ctx context.Context) error {
	_, err := p.Generate(ctx, p.config.Model, &interfaces.CompletionRequest{
		Messages:  []interfaces.Message{{Role: "user", Content: "ping"}},
		MaxTokens: 8,
	})
	return err
}

func (p *geminiProvider) Close() error {
	return nil
}
