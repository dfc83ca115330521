// Completion gateway. Routes each request to the provider that serves its
// model, performs at most one local retry per model on rate limits and
// overloads, and walks the configured escalation ladder when a model cannot
// produce usable output. Every successful call is reported to the cost
// recorder before it is returned.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/pipeline"
)

// CostRecorder receives per-call accounting data. The metrics ledger
// implements it; a nil recorder disables accounting.
type CostRecorder interface {
	RecordCompletion(model string, tokensPrompt, tokensCompletion int, costUSD float64, duration time.Duration)
}

// Gateway implements interfaces.CompletionService over the Claude and Gemini
// providers
type Gateway struct {
	config    *common.LLMConfig
	logger    arbor.ILogger
	providers map[ProviderKind]provider
	recorder  CostRecorder
	timeout   time.Duration
}

// NewGateway creates the completion gateway. Providers are initialized
// lazily per configured model family: a ladder that never names a claude
// model needs no Anthropic credentials.
func NewGateway(cfg *common.Config, kv interfaces.KeyValueStorage, recorder CostRecorder, logger arbor.ILogger) (*Gateway, error) {
	g := &Gateway{
		config:    &cfg.LLM,
		logger:    logger,
		providers: make(map[ProviderKind]provider),
		recorder:  recorder,
		timeout:   common.Duration(cfg.Gemini.Timeout, 5*time.Minute),
	}

	needed := make(map[ProviderKind]bool)
	for _, model := range []string{
		cfg.LLM.Models.Summarization,
		cfg.LLM.Models.Analysis,
		cfg.LLM.Models.Structure,
		cfg.LLM.Models.Lesson,
		cfg.LLM.Models.Judge,
		cfg.LLM.Models.Fallback,
		cfg.LLM.Models.Emergency,
	} {
		if model != "" {
			needed[providerForModel(model, cfg.LLM.DefaultProvider)] = true
		}
	}
	if len(needed) == 0 {
		needed[providerForModel("", cfg.LLM.DefaultProvider)] = true
	}

	if needed[ProviderGemini] {
		p, err := newGeminiProvider(&cfg.Gemini, kv, logger)
		if err != nil {
			return nil, err
		}
		g.providers[ProviderGemini] = p
	}
	if needed[ProviderClaude] {
		p, err := newClaudeProvider(&cfg.Claude, kv, logger)
		if err != nil {
			return nil, err
		}
		g.providers[ProviderClaude] = p
	}

	logger.Info().
		Int("providers", len(g.providers)).
		Str("default_provider", string(cfg.LLM.DefaultProvider)).
		Msg("Completion gateway initialized")
	return g, nil
}

// Complete runs one completion against the requested (or default) model with
// a single local retry on rate limits
func (g *Gateway) Complete(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel()
	}
	return g.completeWithModel(ctx, model, req)
}

// CompleteWithEscalation walks the model ladder (requested -> fallback ->
// emergency) until one model produces usable output. Fatal upstream errors
// (auth, invalid request) stop the walk immediately.
func (g *Gateway) CompleteWithEscalation(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	ladder := g.ladder(req.Model)

	var lastErr error
	for i, model := range ladder {
		resp, err := g.completeWithModel(ctx, model, req)
		if err == nil {
			if i > 0 {
				g.logger.Warn().
					Str("model", model).
					Int("rung", i).
					Msg("Completion succeeded after escalation")
			}
			return resp, nil
		}
		lastErr = err
		if pipeline.Fatal(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, pipeline.NewError(pipeline.KindTimeout, "completion cancelled", ctx.Err())
		}
		g.logger.Warn().
			Err(err).
			Str("model", model).
			Msg("Model failed, escalating to next rung")
	}
	return nil, pipeline.NewError(pipeline.KindUpstreamError, "all models in escalation ladder failed", lastErr)
}

// completeWithModel performs the call with the token cap, the per-call
// timeout, one local retry, and JSON validation
func (g *Gateway) completeWithModel(ctx context.Context, model string, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	if g.config.TokenCap > 0 {
		if estimate := estimateTokens(req.Messages); estimate > g.config.TokenCap {
			return nil, pipeline.Errorf(pipeline.KindBudgetExceeded,
				"request estimated at %d tokens exceeds cap of %d", estimate, g.config.TokenCap)
		}
	}

	p, ok := g.providers[providerForModel(model, g.config.DefaultProvider)]
	if !ok {
		return nil, pipeline.Errorf(pipeline.KindValidationError, "no provider configured for model %s", model)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}

	maxRetries := g.config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var result *providerResult
	var err error
	start := time.Now()
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err = p.Generate(callCtx, model, req)
		cancel()

		if err == nil {
			break
		}
		if attempt >= maxRetries || !(isRateLimitError(err) || isOverloadedError(err)) {
			return nil, classifyProviderError(err)
		}

		backoff := extractRetryDelay(err)
		if backoff == 0 {
			backoff = defaultRetryBackoff
		}
		g.logger.Warn().
			Err(err).
			Str("model", model).
			Dur("backoff", backoff).
			Msg("Provider throttled, retrying after backoff")
		select {
		case <-ctx.Done():
			return nil, pipeline.NewError(pipeline.KindTimeout, "completion cancelled during backoff", ctx.Err())
		case <-time.After(backoff):
		}
	}
	duration := time.Since(start)

	text := result.Text
	if req.Format == interfaces.ResponseFormatJSON {
		cleaned, jsonErr := extractJSON(text)
		if jsonErr != nil {
			return nil, pipeline.NewError(pipeline.KindDecodingError, "model output is not valid JSON", jsonErr)
		}
		text = cleaned
	}

	cost := costUSD(model, result.TokensPrompt, result.TokensCompletion)
	if g.recorder != nil {
		g.recorder.RecordCompletion(model, result.TokensPrompt, result.TokensCompletion, cost, duration)
	}

	g.logger.Debug().
		Str("model", model).
		Int("tokens_prompt", result.TokensPrompt).
		Int("tokens_completion", result.TokensCompletion).
		Dur("duration", duration).
		Msg("Completion finished")

	return &interfaces.CompletionResponse{
		Text:             text,
		TokensPrompt:     result.TokensPrompt,
		TokensCompletion: result.TokensCompletion,
		CostUSD:          cost,
		ModelUsed:        model,
		Duration:         duration,
	}, nil
}

// HealthCheck verifies every configured provider can complete a request
func (g *Gateway) HealthCheck(ctx context.Context) error {
	for kind, p := range g.providers {
		if err := p.HealthCheck(ctx); err != nil {
			return fmt.Errorf("provider %s failed health check: %w", kind, err)
		}
	}
	return nil
}

// Close releases provider resources
func (g *Gateway) Close() error {
	for _, p := range g.providers {
		if err := p.Close(); err != nil {
			return err
		}
	}
	return nil
}

// ladder builds the escalation sequence starting from the requested model,
// skipping duplicates
func (g *Gateway) ladder(requested string) []string {
	first := requested
	if first == "" {
		first = g.defaultModel()
	}
	candidates := []string{first, g.config.Models.Fallback, g.config.Models.Emergency}
	seen := make(map[string]bool, len(candidates))
	var ladder []string
	for _, m := range candidates {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		ladder = append(ladder, m)
	}
	return ladder
}

func (g *Gateway) defaultModel() string {
	if g.config.Models.Summarization != "" {
		return g.config.Models.Summarization
	}
	if g.config.DefaultProvider == common.LLMProviderClaude {
		return "claude-haiku-3-5-20241022"
	}
	return "gemini-3-flash-preview"
}

// classifyProviderError maps a raw provider error onto the pipeline taxonomy
func classifyProviderError(err error) error {
	switch {
	case isRateLimitError(err) || isOverloadedError(err):
		return pipeline.NewError(pipeline.KindNetTransient, "provider throttled", err)
	case strings.Contains(err.Error(), "context deadline exceeded"):
		return pipeline.NewError(pipeline.KindTimeout, "provider call timed out", err)
	case strings.Contains(err.Error(), "401") || strings.Contains(err.Error(), "403") ||
		strings.Contains(err.Error(), "400") || strings.Contains(err.Error(), "API key"):
		return pipeline.NewError(pipeline.KindUpstreamError, "provider rejected request", err)
	default:
		return pipeline.NewError(pipeline.KindNetTransient, "provider call failed", err)
	}
}

// estimateTokens approximates request size at four characters per token
func estimateTokens(messages []interfaces.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	return chars / 4
}

// extractJSON validates that text decodes as JSON, stripping a markdown code
// fence if the model wrapped its output in one
func extractJSON(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var probe interface{}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return "", err
	}
	return trimmed, nil
}
