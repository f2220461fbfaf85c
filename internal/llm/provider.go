// Package llm abstracts the chat-completion providers used to generate
// replies. Conversations here are plain text; there is no tool calling.
package llm

import "context"

// Message is one turn of a conversation in provider-neutral form.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// ChatRequest holds parameters for a chat completion.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse is the response from a chat completion.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        map[string]int
}

// Provider is the interface for LLM providers.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	DefaultModel() string
}
