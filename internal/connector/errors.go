// Package connector composes pacing, circuit breaking, retries, and session
// recovery around browser-driven platform actions.
package connector

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind identifies one failure class in the connector taxonomy.
type ErrorKind string

const (
	// Fatal, non-retryable kinds. These never consume retry budget.
	KindCredentialMissing      ErrorKind = "CREDENTIAL_MISSING"
	KindCredentialNotReference ErrorKind = "CREDENTIAL_NOT_REFERENCE"
	KindUnsupportedPlatform    ErrorKind = "UNSUPPORTED_PLATFORM"
	KindUnsupportedAction      ErrorKind = "UNSUPPORTED_ACTION"
	KindOutboundThreadRequired ErrorKind = "OUTBOUND_THREAD_REQUIRED"
	KindOutboundBodyRequired   ErrorKind = "OUTBOUND_BODY_REQUIRED"
	KindCircuitOpen            ErrorKind = "CIRCUIT_OPEN"

	// Retryable kinds, consumed by the retry policy.
	KindSessionExpired  ErrorKind = "SESSION_EXPIRED"
	KindCaptchaRequired ErrorKind = "CAPTCHA_REQUIRED"
	KindBotChallenge    ErrorKind = "BOT_CHALLENGE"
	KindAutomation      ErrorKind = "AUTOMATION_FAILURE"
)

// Error is a typed connector failure carrying retry semantics.
type Error struct {
	Kind      ErrorKind
	Platform  string
	Action    string
	Retryable bool
	// RetryAfter is the remaining cooldown for circuit-open errors.
	RetryAfter time.Duration
	Message    string
	cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if e.Platform != "" {
		return fmt.Sprintf("connector: %s [%s/%s]: %s", e.Kind, e.Platform, e.Action, msg)
	}
	return fmt.Sprintf("connector: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Fatal builds a non-retryable error of the given kind.
func Fatal(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Retryable builds a retryable error of the given kind.
func Retryable(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Retryable: true, Message: fmt.Sprintf(format, args...)}
}

// Wrap normalizes an arbitrary driver failure into a retryable automation error,
// preserving an existing *Error unchanged.
func Wrap(err error, platform, action string) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Platform == "" {
			ce.Platform = platform
		}
		if ce.Action == "" {
			ce.Action = action
		}
		return ce
	}
	return &Error{
		Kind:      KindAutomation,
		Platform:  platform,
		Action:    action,
		Retryable: true,
		cause:     err,
	}
}

// CircuitOpen builds the fail-fast error returned while a breaker is open.
func CircuitOpen(platform, account, action string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindCircuitOpen,
		Platform:   platform,
		Action:     action,
		RetryAfter: retryAfter,
		Message:    fmt.Sprintf("circuit open for %s:%s:%s", platform, account, action),
	}
}

// IsRetryable reports whether err should consume retry budget.
func IsRetryable(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	// Unknown failures are treated as transient automation faults.
	return err != nil
}

// KindOf extracts the error kind, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// NeedsSessionRefresh reports whether the failure should trigger a session
// refresh before the next attempt.
func NeedsSessionRefresh(err error) bool {
	switch KindOf(err) {
	case KindSessionExpired, KindCaptchaRequired, KindBotChallenge:
		return true
	default:
		return false
	}
}
