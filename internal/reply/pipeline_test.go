package reply

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseline/leasing-ai-platform/internal/intent"
	"github.com/leaseline/leasing-ai-platform/pkg/logging"
)

type stubClassifier struct {
	decision *ExternalDecision
	err      error
	calls    int
}

func (s *stubClassifier) ClassifyMessage(_ context.Context, _ string, _ []intent.Intent) (*ExternalDecision, error) {
	s.calls++
	return s.decision, s.err
}

func tourInput() Input {
	return Input{
		Body:           "Can we do a tour this weekend?",
		FallbackIntent: intent.IntentTourRequest,
		Rule:           &Rule{ID: "r1", Name: "tour-autoreply", Intent: intent.IntentTourRequest},
		Template: &Template{
			ID:   "t1",
			Name: "tour-times",
			Body: "Hi {lead_name}, thanks for your interest in {unit_label}! We have tours at: {slot_options}.",
		},
		Context: RenderContext{
			UnitLabel:  "Unit 4B",
			SlotLabels: []string{"Sat 10:00–10:30 AM (Agent A)"},
			LeadName:   "Jordan",
		},
	}
}

func TestTourRequestDraftsReplyWithSlot(t *testing.T) {
	p := NewPipeline(logging.Default())

	res := p.Evaluate(context.Background(), tourInput())

	assert.True(t, res.Eligibility.Eligible)
	assert.Equal(t, OutcomeDraft, res.Outcome)
	assert.Equal(t, intent.IntentTourRequest, res.PolicyIntent)
	assert.Equal(t, intent.IntentTourRequest, res.EffectiveIntent)
	assert.Equal(t, ProviderHeuristic, res.Provider)
	assert.Contains(t, res.Body, "Sat 10:00–10:30 AM (Agent A)")
	assert.Contains(t, res.Body, "Jordan")
}

func TestTourRequestAutoSend(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.AutoSend = true

	res := p.Evaluate(context.Background(), in)
	require.True(t, res.Eligibility.Eligible)
	assert.Equal(t, OutcomeSend, res.Outcome)
}

func TestUnsubscribeAlwaysEscalates(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Body = "STOP contacting me"
	in.AutoSend = true

	res := p.Evaluate(context.Background(), in)
	assert.False(t, res.Eligibility.Eligible)
	assert.Equal(t, ReasonUnsubscribe, res.Eligibility.Reason)
	assert.Equal(t, OutcomeEscalate, res.Outcome)
	assert.Empty(t, res.Body, "no reply may be rendered for an opt-out")
}

func TestUnsubscribeBeatsExternalOverride(t *testing.T) {
	// Even if the external classifier calls it a tour request, a heuristic
	// opt-out match still escalates.
	stub := &stubClassifier{decision: &ExternalDecision{Intent: intent.IntentTourRequest}}
	p := NewPipeline(logging.Default(), WithExternalClassifier(stub))

	in := tourInput()
	in.Body = "Please unsubscribe me, though the tour sounded nice"

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, ReasonUnsubscribe, res.Eligibility.Reason)
}

func TestGuardrailBlockEscalatesWithCategoryReason(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Body = "I want a tour but also my lawyer will be in touch"

	res := p.Evaluate(context.Background(), in)
	assert.False(t, res.Eligibility.Eligible)
	assert.Equal(t, "escalate_legal", res.Eligibility.Reason)
	assert.Equal(t, OutcomeEscalate, res.Outcome)
	assert.True(t, res.Guardrail.Blocked)
}

func TestOutboundGuardrailNeverSends(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.AutoSend = true
	in.Template.Body = "Your reference is 123-45-6789"

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, OutcomeEscalate, res.Outcome)
	assert.Equal(t, "escalate_outbound_ssn", res.Eligibility.Reason)
}

func TestAmbiguousIntentEscalates(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Body = "Not sure, maybe a tour? What do you mean by deposit?"

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, ReasonAmbiguousIntent, res.Eligibility.Reason)
}

func TestUnknownIntentEscalates(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Body = "My cousin lives nearby"
	in.FallbackIntent = intent.IntentUnknown

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, ReasonAmbiguousIntent, res.Eligibility.Reason)
}

func TestNonTourIntentEscalates(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Body = "How much is the rent per month?"

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, intent.IntentPricing, res.PolicyIntent)
	assert.Equal(t, ReasonNonTourIntent, res.Eligibility.Reason)
}

func TestNoSlotCandidatesEscalates(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Context.SlotLabels = nil

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, ReasonNoSlotCandidates, res.Eligibility.Reason)
}

func TestNoMatchingRuleEscalates(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Rule = nil

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, ReasonNoMatchingRule, res.Eligibility.Reason)
}

func TestNonTourIntentSkipsDefaultReply(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Body = "How much is rent?"
	in.Template = &Template{ID: "t1", Body: "   "}

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, ReasonNonTourIntent, res.Eligibility.Reason)
	assert.Empty(t, res.Body)
}

func TestDefaultTourReplyWhenTemplateRendersEmpty(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Template = &Template{ID: "t1", Body: "{lead_name}"}
	in.Context.LeadName = ""

	res := p.Evaluate(context.Background(), in)
	require.True(t, res.Eligibility.Eligible)
	assert.Contains(t, res.Body, "Sat 10:00–10:30 AM (Agent A)")
	assert.Contains(t, res.Body, "Unit 4B")
}

func TestFollowUpUsesFallbackIntent(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Body = "Just checking in, any update?"
	in.HadPriorOutbound = true
	in.FallbackIntent = intent.IntentTourRequest

	res := p.Evaluate(context.Background(), in)
	assert.True(t, res.FollowUp)
	assert.Equal(t, intent.IntentTourRequest, res.PolicyIntent)
	assert.Equal(t, intent.IntentFollowUp, res.EffectiveIntent)
	assert.True(t, res.Eligibility.Eligible)
}

func TestFollowUpRequiresPriorOutbound(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()
	in.Body = "Just checking in, any update?"
	in.HadPriorOutbound = false

	res := p.Evaluate(context.Background(), in)
	assert.False(t, res.FollowUp)
	assert.Equal(t, ReasonAmbiguousIntent, res.Eligibility.Reason)
}

func TestExternalClassifierOverridesIntent(t *testing.T) {
	stub := &stubClassifier{decision: &ExternalDecision{Intent: intent.IntentTourRequest}}
	p := NewPipeline(logging.Default(), WithExternalClassifier(stub))

	in := tourInput()
	in.Body = "We would like to come see it sometime"

	res := p.Evaluate(context.Background(), in)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, ProviderExternal, res.Provider)
	assert.Equal(t, intent.IntentTourRequest, res.PolicyIntent)
	assert.True(t, res.Eligibility.Eligible)
}

func TestExternalClassifierAmbiguityEscalates(t *testing.T) {
	stub := &stubClassifier{decision: &ExternalDecision{Intent: intent.IntentTourRequest, Ambiguous: true}}
	p := NewPipeline(logging.Default(), WithExternalClassifier(stub))

	res := p.Evaluate(context.Background(), tourInput())
	assert.Equal(t, ReasonAmbiguousIntent, res.Eligibility.Reason)
}

func TestExternalClassifierFailureFallsBackToHeuristic(t *testing.T) {
	stub := &stubClassifier{err: errors.New("provider timeout")}
	p := NewPipeline(logging.Default(), WithExternalClassifier(stub))

	res := p.Evaluate(context.Background(), tourInput())
	assert.Equal(t, ProviderHeuristic, res.Provider)
	assert.True(t, res.Eligibility.Eligible)
	assert.Equal(t, OutcomeDraft, res.Outcome)
}

func TestExternalSuggestionUsedForFallbackReply(t *testing.T) {
	stub := &stubClassifier{decision: &ExternalDecision{
		Intent:         intent.IntentTourRequest,
		SuggestedReply: "Happy to host you Saturday at 10am, does that work?",
	}}
	p := NewPipeline(logging.Default(), WithExternalClassifier(stub))

	in := tourInput()
	in.Template = nil

	res := p.Evaluate(context.Background(), in)
	require.True(t, res.Eligibility.Eligible)
	assert.Equal(t, "Happy to host you Saturday at 10am, does that work?", res.Body)
}

func TestDeterministicForIdenticalInputs(t *testing.T) {
	p := NewPipeline(logging.Default())
	in := tourInput()

	first := p.Evaluate(context.Background(), in)
	second := p.Evaluate(context.Background(), in)
	assert.Equal(t, first, second)
}
