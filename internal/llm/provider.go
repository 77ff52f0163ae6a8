// Package llm wraps the model providers used for summarization.
package llm

import (
	"context"
	"errors"
	"time"
)

// TimeoutLLMCall bounds a single model call.
const TimeoutLLMCall = 60 * time.Second

// ErrProviderNotAvailable means the configured provider could not be reached.
var ErrProviderNotAvailable = errors.New("provider not available")

// Provider is the interface all model providers implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "ollama", "openai").
	Name() string
	// Generate sends a completion request and returns the response.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents a generation request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Message represents a chat message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Response represents a generation response.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
