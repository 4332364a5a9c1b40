package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leaseline/leasing-ai-platform/internal/intent"
	"github.com/leaseline/leasing-ai-platform/internal/reply"
)

const classifierPrompt = `Classify this message from a prospective tenant into ONE intent. Respond with JSON only.

Intents:
%s

Rules:
- "unsubscribe" whenever the lead asks to stop being contacted, even if they ask something else too.
- Set "ambiguous" to true when the message could reasonably carry more than one intent or you are not confident.
- "suggested_reply" is optional; offer one only for tour scheduling, and keep it under two sentences.

Message: %s

Respond with: {"intent": "<intent>", "ambiguous": <bool>, "suggested_reply": "<text or empty>", "reason": "<short code>"}`

// IntentClassifier asks a reasoning provider for a structured intent decision.
// It satisfies the reply pipeline's external-classifier dependency.
type IntentClassifier struct {
	client Client
	model  string
}

func NewIntentClassifier(client Client, model string) *IntentClassifier {
	if client == nil {
		panic("llm: completion client cannot be nil")
	}
	return &IntentClassifier{client: client, model: model}
}

var _ reply.ExternalClassifier = (*IntentClassifier)(nil)

// ClassifyMessage returns the provider's decision constrained to the closed
// intent vocabulary. Unknown intents from the model map to "unknown".
func (c *IntentClassifier) ClassifyMessage(ctx context.Context, body string, candidates []intent.Intent) (*reply.ExternalDecision, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return &reply.ExternalDecision{Intent: intent.IntentUnknown}, nil
	}

	var vocab strings.Builder
	for _, it := range candidates {
		fmt.Fprintf(&vocab, "- %s\n", it)
	}
	prompt := fmt.Sprintf(classifierPrompt, strings.TrimRight(vocab.String(), "\n"), body)

	resp, err := c.client.Complete(ctx, Request{
		Model:       c.model,
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: prompt}},
		MaxTokens:   200,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: intent classification: %w", err)
	}

	var decoded struct {
		Intent         string `json:"intent"`
		Ambiguous      bool   `json:"ambiguous"`
		SuggestedReply string `json:"suggested_reply"`
		Reason         string `json:"reason"`
	}

	// The model may wrap the JSON in prose; take the outermost object.
	content := strings.TrimSpace(resp.Text)
	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil, fmt.Errorf("llm: intent classification response parse: %w", err)
	}

	return &reply.ExternalDecision{
		Intent:         intent.Parse(decoded.Intent),
		Ambiguous:      decoded.Ambiguous,
		SuggestedReply: strings.TrimSpace(decoded.SuggestedReply),
		ReasonCode:     strings.TrimSpace(decoded.Reason),
	}, nil
}
