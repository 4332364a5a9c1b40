// Package guardrail scans lead-facing text for content categories that must
// never be handled by the automated reply flow.
package guardrail

import (
	"regexp"
	"strings"
)

// Result contains the outcome of a guardrail scan.
type Result struct {
	// Blocked is true if the message must NOT be answered automatically.
	Blocked bool
	// Reasons lists the matched category labels in match order.
	Reasons []string
}

// FirstReason returns the highest-precedence matched category, or "".
func (r Result) FirstReason() string {
	if len(r.Reasons) == 0 {
		return ""
	}
	return r.Reasons[0]
}

type pattern struct {
	re     *regexp.Regexp
	reason string
}

// Inbound categories. Order matters: the first match becomes the escalation
// reason suffix, so legal outranks abusive outranks payment requests.
var inboundPatterns = []pattern{
	{regexp.MustCompile(`(?i)\b(lawyer|attorney|lawsuit|sue\s+you|suing|legal\s+action|small\s+claims|fair\s+housing|discriminat\w*|housing\s+authority)\b`), "legal"},
	{regexp.MustCompile(`(?i)\b(f[u*]ck|sh[i*]t|bitch|asshole|bastard|go\s+to\s+hell|scumbag|slumlord)\b`), "abusive"},
	{regexp.MustCompile(`(?i)\b(wire\s+(me\s+)?money|send\s+(me\s+)?(a\s+)?deposit|cash\s*app|venmo|zelle|western\s+union|gift\s*card|routing\s+number|bank\s+account\s+number|social\s+security)\b`), "payment_info_request"},
	{regexp.MustCompile(`(?i)\b(credit\s+card\s+number|card\s+number|cvv|ssn)\b`), "payment_info_request"},
}

// Outbound scan: a rendered reply must never carry an SSN-shaped value.
var outboundSSN = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

// ScanInbound checks a lead message against the blocked content categories.
// It is pure and never errors; empty input is always clean.
func ScanInbound(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{}
	}

	var reasons []string
	seen := map[string]bool{}
	for _, p := range inboundPatterns {
		if p.re.MatchString(text) && !seen[p.reason] {
			seen[p.reason] = true
			reasons = append(reasons, p.reason)
		}
	}

	return Result{Blocked: len(reasons) > 0, Reasons: reasons}
}

// ScanOutbound checks a candidate reply body before it leaves the system.
func ScanOutbound(reply string) Result {
	if strings.TrimSpace(reply) == "" {
		return Result{}
	}
	if outboundSSN.MatchString(reply) {
		return Result{Blocked: true, Reasons: []string{"outbound_ssn"}}
	}
	return Result{}
}

// Evaluate runs both scans and merges the results, inbound reasons first.
func Evaluate(inbound, outboundCandidate string) Result {
	in := ScanInbound(inbound)
	out := ScanOutbound(outboundCandidate)
	if !in.Blocked && !out.Blocked {
		return Result{}
	}
	merged := Result{Blocked: true}
	merged.Reasons = append(merged.Reasons, in.Reasons...)
	merged.Reasons = append(merged.Reasons, out.Reasons...)
	return merged
}
