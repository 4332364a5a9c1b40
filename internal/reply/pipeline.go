// Package reply turns an inbound lead message into an eligibility decision
// and, when eligible, a rendered reply body.
package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/leaseline/leasing-ai-platform/internal/guardrail"
	"github.com/leaseline/leasing-ai-platform/internal/intent"
	"github.com/leaseline/leasing-ai-platform/pkg/logging"
)

// Outcome is the terminal disposition of one inbound message.
type Outcome string

const (
	OutcomeSend     Outcome = "send"
	OutcomeDraft    Outcome = "draft"
	OutcomeEscalate Outcome = "escalate"
)

// Provider identifies which classifier produced the policy intent.
type Provider string

const (
	ProviderHeuristic Provider = "heuristic"
	ProviderExternal  Provider = "external"
)

// Escalation reason codes. These are stable API: dashboards and audit queries
// key off the exact strings.
const (
	ReasonUnsubscribe      = "escalate_unsubscribe_requested"
	ReasonAmbiguousIntent  = "escalate_ambiguous_intent"
	ReasonNonTourIntent    = "escalate_non_tour_intent"
	ReasonNoSlotCandidates = "escalate_no_slot_candidates"
	ReasonNoMatchingRule   = "escalate_no_matching_rule"
	ReasonTemplateMissing  = "escalate_template_missing"
)

// GuardrailReason builds the escalation reason for a blocked content category.
func GuardrailReason(category string) string {
	return "escalate_" + category
}

// Rule is a matched automation rule, resolved by the orchestrator's store.
type Rule struct {
	ID           string
	Name         string
	Intent       intent.Intent
	TemplateName string
}

// Template is a reply template body with placeholder tokens.
type Template struct {
	ID   string
	Name string
	Body string
}

// RenderContext carries the values substituted into a template.
type RenderContext struct {
	UnitLabel  string
	SlotLabels []string
	LeadName   string
}

// ExternalDecision is the structured output of a pluggable reasoning provider.
type ExternalDecision struct {
	Intent         intent.Intent
	Ambiguous      bool
	SuggestedReply string
	ReasonCode     string
}

// ExternalClassifier augments the heuristic classifier with an external
// reasoning provider. Implementations must constrain output to the closed
// intent vocabulary.
type ExternalClassifier interface {
	ClassifyMessage(ctx context.Context, body string, candidates []intent.Intent) (*ExternalDecision, error)
}

// Eligibility is the tagged reply-eligibility verdict.
type Eligibility struct {
	Eligible bool
	Reason   string
}

// Input is everything the pipeline needs for one decision.
type Input struct {
	Body             string
	HadPriorOutbound bool
	FallbackIntent   intent.Intent
	Rule             *Rule
	Template         *Template
	Context          RenderContext
	AutoSend         bool
}

// Result is the full pipeline decision for one inbound message.
type Result struct {
	PolicyIntent    intent.Intent
	EffectiveIntent intent.Intent
	FollowUp        bool
	Guardrail       guardrail.Result
	Eligibility     Eligibility
	Outcome         Outcome
	Body            string
	Provider        Provider
}

// Pipeline evaluates reply eligibility. It holds no per-message state; one
// instance is safe for concurrent use.
type Pipeline struct {
	external ExternalClassifier
	logger   *logging.Logger
}

// Option customizes pipeline construction.
type Option func(*Pipeline)

// WithExternalClassifier enables the pluggable reasoning provider.
func WithExternalClassifier(c ExternalClassifier) Option {
	return func(p *Pipeline) {
		p.external = c
	}
}

// NewPipeline builds a reply pipeline.
func NewPipeline(logger *logging.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	p := &Pipeline{logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// tourIntents is the set of effective intents the automated tour flow handles.
var tourIntents = map[intent.Intent]bool{
	intent.IntentTourRequest: true,
	intent.IntentFollowUp:    true,
}

// Evaluate runs the full decision flow. It has no side effects; given
// identical inputs and the same external decision, the output is identical.
func (p *Pipeline) Evaluate(ctx context.Context, in Input) Result {
	heur := intent.Classify(in.Body)
	followUp := intent.DetectFollowUp(in.Body, in.HadPriorOutbound)

	var external *ExternalDecision
	provider := ProviderHeuristic
	if p.external != nil {
		decision, err := p.external.ClassifyMessage(ctx, in.Body, intent.All)
		if err != nil {
			p.logger.Warn("external classifier failed; using heuristic intent", "error", err)
		} else if decision != nil {
			external = decision
			provider = ProviderExternal
		}
	}

	policyIntent := heur.Intent
	if external != nil {
		policyIntent = intent.Parse(string(external.Intent))
	}
	if followUp && policyIntent == intent.IntentUnknown {
		policyIntent = in.FallbackIntent
	}

	effective := policyIntent
	if followUp {
		effective = intent.IntentFollowUp
	}

	body := renderTemplate(in.Template, in.Context)
	if body == "" && tourIntents[effective] && len(in.Context.SlotLabels) > 0 {
		body = defaultTourReply(in.Context, external)
	}

	guard := guardrail.Evaluate(in.Body, body)

	ambiguous := heur.Ambiguous
	if external != nil && external.Ambiguous {
		ambiguous = true
	}

	result := Result{
		PolicyIntent:    policyIntent,
		EffectiveIntent: effective,
		FollowUp:        followUp,
		Guardrail:       guard,
		Provider:        provider,
		Body:            body,
	}

	eligibility := decide(decisionInput{
		policyIntent:    policyIntent,
		heuristicIntent: heur.Intent,
		effective:       effective,
		guard:           guard,
		ambiguous:       ambiguous,
		slotCount:       len(in.Context.SlotLabels),
		hasRule:         in.Rule != nil,
		rendered:        body,
	})
	result.Eligibility = eligibility

	if !eligibility.Eligible {
		result.Outcome = OutcomeEscalate
		result.Body = ""
		return result
	}
	if in.AutoSend {
		result.Outcome = OutcomeSend
	} else {
		result.Outcome = OutcomeDraft
	}
	return result
}

type decisionInput struct {
	policyIntent    intent.Intent
	heuristicIntent intent.Intent
	effective       intent.Intent
	guard           guardrail.Result
	ambiguous       bool
	slotCount       int
	hasRule         bool
	rendered        string
}

// decide applies the eligibility checks in strict precedence order. Each check
// short-circuits with its own reason code.
func decide(in decisionInput) Eligibility {
	escalate := func(reason string) Eligibility {
		return Eligibility{Reason: reason}
	}

	if in.policyIntent == intent.IntentUnsubscribe || in.heuristicIntent == intent.IntentUnsubscribe {
		return escalate(ReasonUnsubscribe)
	}
	if in.guard.Blocked {
		return escalate(GuardrailReason(in.guard.FirstReason()))
	}
	if in.ambiguous || in.policyIntent == intent.IntentUnknown {
		return escalate(ReasonAmbiguousIntent)
	}
	if !tourIntents[in.effective] {
		return escalate(ReasonNonTourIntent)
	}
	if in.slotCount == 0 {
		return escalate(ReasonNoSlotCandidates)
	}
	if !in.hasRule {
		return escalate(ReasonNoMatchingRule)
	}
	if strings.TrimSpace(in.rendered) == "" {
		return escalate(ReasonTemplateMissing)
	}
	return Eligibility{Eligible: true}
}

// renderTemplate substitutes the context into the template body. A nil
// template or an all-placeholder body that renders empty yields "".
func renderTemplate(tpl *Template, rc RenderContext) string {
	if tpl == nil {
		return ""
	}
	r := strings.NewReplacer(
		"{lead_name}", rc.LeadName,
		"{unit_label}", rc.UnitLabel,
		"{slot_options}", strings.Join(rc.SlotLabels, ", "),
	)
	return strings.TrimSpace(r.Replace(tpl.Body))
}

// defaultTourReply is the fallback body when a tour-ready lead has no usable
// template. An external suggestion, when offered, takes precedence.
func defaultTourReply(rc RenderContext, external *ExternalDecision) string {
	if external != nil && strings.TrimSpace(external.SuggestedReply) != "" {
		return strings.TrimSpace(external.SuggestedReply)
	}

	greeting := "Hi there"
	if rc.LeadName != "" {
		greeting = "Hi " + rc.LeadName
	}
	subject := "the unit"
	if rc.UnitLabel != "" {
		subject = rc.UnitLabel
	}
	return fmt.Sprintf(
		"%s! Thanks for reaching out about %s. We'd love to show you around. Upcoming tour times: %s. Would any of those work for you?",
		greeting, subject, strings.Join(rc.SlotLabels, ", "),
	)
}
