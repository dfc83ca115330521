package llm

import (
	"context"
	"strings"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

// ProviderKind identifies which backing API serves a model id
type ProviderKind string

const (
	ProviderClaude ProviderKind = "claude"
	ProviderGemini ProviderKind = "gemini"
)

// providerResult is the raw output of a single provider call
type providerResult struct {
	Text             string
	TokensPrompt     int
	TokensCompletion int
}

// provider is one backing chat-completion API. Implementations apply their
// own rate limiting; retries and escalation live in the gateway.
type provider interface {
	Kind() ProviderKind
	Generate(ctx context.Context, model string, req *interfaces.CompletionRequest) (*providerResult, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// providerForModel routes a model id to its backing API. Model families are
// recognized by prefix; unknown ids go to the configured default provider.
func providerForModel(model string, defaultProvider common.LLMProvider) ProviderKind {
	switch {
	case strings.HasPrefix(model, "claude"):
		return ProviderClaude
	case strings.HasPrefix(model, "gemini"):
		return ProviderGemini
	default:
		if defaultProvider == common.LLMProviderClaude {
			return ProviderClaude
		}
		return ProviderGemini
	}
}
