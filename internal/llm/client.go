// Package llm provides the reasoning-provider client used for structured
// intent classification of inbound lead messages.
package llm

import "context"

// ChatRole identifies who authored a chat message.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is a single turn in a model conversation.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// Request describes one completion call.
type Request struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// TokenUsage reports token accounting for one call.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Response is the model's completion.
type Response struct {
	Text       string
	StopReason string
	Usage      TokenUsage
}

// Client is the minimal completion interface the classifier depends on.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
