// Package intent maps free-form lead messages to a small closed set of intents.
package intent

import (
	"regexp"
	"strings"
)

// Intent is one of the closed policy intents understood by the reply flow.
type Intent string

const (
	IntentUnsubscribe  Intent = "unsubscribe"
	IntentTourRequest  Intent = "tour_request"
	IntentPricing      Intent = "pricing_question"
	IntentAvailability Intent = "availability_question"
	IntentFollowUp     Intent = "follow_up"
	IntentUnknown      Intent = "unknown"
)

// All lists the intents an external classifier may return.
var All = []Intent{
	IntentUnsubscribe,
	IntentTourRequest,
	IntentPricing,
	IntentAvailability,
	IntentFollowUp,
	IntentUnknown,
}

// Parse maps an arbitrary string to a known intent, defaulting to unknown.
func Parse(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentUnsubscribe:
		return IntentUnsubscribe
	case IntentTourRequest:
		return IntentTourRequest
	case IntentPricing:
		return IntentPricing
	case IntentAvailability:
		return IntentAvailability
	case IntentFollowUp:
		return IntentFollowUp
	default:
		return IntentUnknown
	}
}

// Keyword vocabularies, checked in priority order. Unsubscribe always wins so a
// "STOP, but when can I tour?" message still opts the lead out.
var (
	unsubscribeRe = regexp.MustCompile(`(?i)\b(stop|unsubscribe|opt\s*out|remove\s+me|do\s+not\s+contact|don'?t\s+contact\s+me|quit\s+(texting|messaging|emailing))\b`)
	tourRe        = regexp.MustCompile(`(?i)\b(tour|showing|visit|see\s+(the|this)\s+(place|unit|apartment|property|house)|walk[\s-]?through|come\s+(by|see)|view\s+(the|this)|in[\s-]?person|open\s+house)\b`)
	pricingRe     = regexp.MustCompile(`(?i)\b(price|pricing|rent|cost|how\s+much|monthly|per\s+month|deposit\s+amount|fees?|special|discount|concession)\b`)
	availRe       = regexp.MustCompile(`(?i)\b(available|availability|still\s+(open|free|on\s+the\s+market)|move[\s-]?in|vacan(t|cy)|when\s+can\s+i\s+move|lease\s+start)\b`)
	ambiguousRe   = regexp.MustCompile(`(?i)\b(not\s+sure|maybe|i\s+guess|what\s+do\s+you\s+mean|confused|\?{3,})\b`)
	followUpRe    = regexp.MustCompile(`(?i)\b(checking\s+in|any\s+update|following\s+up|just\s+follow(ing)?\s+up|heard\s+back|still\s+waiting|did\s+you\s+get\s+my|bump(ing)?\s+this)\b`)
)

// Classification is the heuristic result for one inbound message.
type Classification struct {
	Intent Intent
	// Ambiguous is set when the text matched several unrelated intents or an
	// explicit uncertainty phrase; ambiguous messages are escalated downstream.
	Ambiguous bool
	// Matched lists every vocabulary bucket that fired, for audit detail.
	Matched []string
}

// Classify runs the keyword classifier over an inbound message body.
// Pure and deterministic; never errors.
func Classify(body string) Classification {
	text := strings.TrimSpace(body)
	if text == "" {
		return Classification{Intent: IntentUnknown}
	}

	var matched []string
	if unsubscribeRe.MatchString(text) {
		matched = append(matched, string(IntentUnsubscribe))
	}
	if tourRe.MatchString(text) {
		matched = append(matched, string(IntentTourRequest))
	}
	if pricingRe.MatchString(text) {
		matched = append(matched, string(IntentPricing))
	}
	if availRe.MatchString(text) {
		matched = append(matched, string(IntentAvailability))
	}

	c := Classification{Intent: IntentUnknown, Matched: matched}

	switch {
	case len(matched) > 0:
		c.Intent = Intent(matched[0])
	}

	if ambiguousRe.MatchString(text) {
		c.Ambiguous = true
	}
	// Unsubscribe is never ambiguous: the opt-out always takes precedence.
	if c.Intent == IntentUnsubscribe {
		c.Ambiguous = false
	}

	return c
}

// DetectFollowUp reports whether the message is a re-contact nudge. True only
// when a prior outbound message exists AND the text reads like a check-in.
func DetectFollowUp(body string, hadPriorOutbound bool) bool {
	if !hadPriorOutbound {
		return false
	}
	return followUpRe.MatchString(body)
}
