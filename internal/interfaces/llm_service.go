package interfaces

import (
	"context"
	"time"
)

// Message represents a single message in a chat conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// ResponseFormat hints how the model output should be shaped
type ResponseFormat string

const (
	ResponseFormatMarkdown ResponseFormat = "markdown"
	ResponseFormatJSON     ResponseFormat = "json"
)

// CompletionRequest is a typed request to the LLM gateway
type CompletionRequest struct {
	Model        string // per-call model override; empty uses the configured default
	Messages     []Message
	Temperature  float32
	MaxTokens    int
	Format       ResponseFormat
	JSONSchema   map[string]interface{} // optional schema when Format is JSON
	Timeout      time.Duration          // per-call deadline; zero uses the service default
}

// CompletionResponse carries the model output plus the accounting data fed to
// the cost ledger
type CompletionResponse struct {
	Text             string
	TokensPrompt     int
	TokensCompletion int
	CostUSD          float64
	ModelUsed        string
	Duration         time.Duration
}

// CompletionService - typed chat-completion gateway with model escalation and
// cost accounting. Implementations perform at most one retry per model with
// backoff; escalating to the next model tier is the caller's decision via
// CompleteWithEscalation.
type CompletionService interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	// CompleteWithEscalation walks the configured model ladder
	// (primary -> fallback -> emergency) on transient or decoding failures.
	CompleteWithEscalation(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
