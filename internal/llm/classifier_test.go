package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseline/leasing-ai-platform/internal/intent"
)

type stubClient struct {
	resp Response
	err  error
	last Request
}

func (s *stubClient) Complete(_ context.Context, req Request) (Response, error) {
	s.last = req
	return s.resp, s.err
}

func TestClassifyMessageParsesStructuredOutput(t *testing.T) {
	stub := &stubClient{resp: Response{
		Text: `{"intent": "tour_request", "ambiguous": false, "suggested_reply": "How about Saturday at 10am?", "reason": "explicit_tour_ask"}`,
	}}
	c := NewIntentClassifier(stub, "model-id")

	decision, err := c.ClassifyMessage(context.Background(), "Can I see the place?", intent.All)
	require.NoError(t, err)
	assert.Equal(t, intent.IntentTourRequest, decision.Intent)
	assert.False(t, decision.Ambiguous)
	assert.Equal(t, "How about Saturday at 10am?", decision.SuggestedReply)
	assert.Equal(t, "explicit_tour_ask", decision.ReasonCode)

	assert.Equal(t, "model-id", stub.last.Model)
	require.Len(t, stub.last.Messages, 1)
	assert.Contains(t, stub.last.Messages[0].Content, "Can I see the place?")
	assert.Contains(t, stub.last.Messages[0].Content, "tour_request")
}

func TestClassifyMessageExtractsJSONFromProse(t *testing.T) {
	stub := &stubClient{resp: Response{
		Text: "Here is my classification:\n{\"intent\": \"pricing_question\", \"ambiguous\": true}\nHope that helps.",
	}}
	c := NewIntentClassifier(stub, "model-id")

	decision, err := c.ClassifyMessage(context.Background(), "rent?", intent.All)
	require.NoError(t, err)
	assert.Equal(t, intent.IntentPricing, decision.Intent)
	assert.True(t, decision.Ambiguous)
}

func TestClassifyMessageUnknownIntentFromModel(t *testing.T) {
	stub := &stubClient{resp: Response{Text: `{"intent": "buy_the_building"}`}}
	c := NewIntentClassifier(stub, "model-id")

	decision, err := c.ClassifyMessage(context.Background(), "I want to buy it", intent.All)
	require.NoError(t, err)
	assert.Equal(t, intent.IntentUnknown, decision.Intent)
}

func TestClassifyMessageProviderError(t *testing.T) {
	stub := &stubClient{err: errors.New("throttled")}
	c := NewIntentClassifier(stub, "model-id")

	_, err := c.ClassifyMessage(context.Background(), "hello", intent.All)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intent classification")
}

func TestClassifyMessageMalformedJSON(t *testing.T) {
	stub := &stubClient{resp: Response{Text: "sorry, I cannot help with that"}}
	c := NewIntentClassifier(stub, "model-id")

	_, err := c.ClassifyMessage(context.Background(), "hello", intent.All)
	require.Error(t, err)
}

func TestClassifyMessageEmptyBodySkipsProvider(t *testing.T) {
	stub := &stubClient{}
	c := NewIntentClassifier(stub, "model-id")

	decision, err := c.ClassifyMessage(context.Background(), "   ", intent.All)
	require.NoError(t, err)
	assert.Equal(t, intent.IntentUnknown, decision.Intent)
	assert.Empty(t, stub.last.Model, "provider must not be called for empty input")
}
