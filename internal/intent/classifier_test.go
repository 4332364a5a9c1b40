package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Intent
	}{
		{"tour weekend", "Can we do a tour this weekend?", IntentTourRequest},
		{"showing", "Is a showing possible on Friday?", IntentTourRequest},
		{"walkthrough", "Could I do a walk-through tomorrow?", IntentTourRequest},
		{"pricing", "How much is rent per month?", IntentPricing},
		{"fees", "Are there any application fees?", IntentPricing},
		{"availability", "Is the unit still available?", IntentAvailability},
		{"move in", "When can I move in?", IntentAvailability},
		{"stop", "STOP contacting me", IntentUnsubscribe},
		{"opt out", "Please opt me out of these messages", IntentUnsubscribe},
		{"remove me", "remove me from your list", IntentUnsubscribe},
		{"unknown", "Hello there", IntentUnknown},
		{"empty", "", IntentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.body)
			assert.Equal(t, tt.want, got.Intent)
		})
	}
}

func TestClassifyUnsubscribeWinsOverTour(t *testing.T) {
	got := Classify("STOP. Although, when could I tour?")
	assert.Equal(t, IntentUnsubscribe, got.Intent)
	assert.False(t, got.Ambiguous)
	assert.Contains(t, got.Matched, string(IntentTourRequest))
}

func TestClassifyAmbiguity(t *testing.T) {
	got := Classify("Not sure, maybe I want to see the place???")
	assert.True(t, got.Ambiguous)

	got = Classify("Can we do a tour this weekend?")
	assert.False(t, got.Ambiguous)
}

func TestDetectFollowUp(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		prior bool
		want  bool
	}{
		{"checking in with prior outbound", "Hey, just checking in, any update?", true, true},
		{"checking in without prior outbound", "Hey, just checking in, any update?", false, false},
		{"following up", "Following up on my earlier message", true, true},
		{"still waiting", "Still waiting to hear back from you", true, true},
		{"fresh tour request with prior outbound", "Can we do a tour this weekend?", true, false},
		{"empty", "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFollowUp(tt.body, tt.prior))
		})
	}
}

func TestParse(t *testing.T) {
	assert.Equal(t, IntentTourRequest, Parse("tour_request"))
	assert.Equal(t, IntentTourRequest, Parse(" Tour_Request "))
	assert.Equal(t, IntentUnknown, Parse("something_else"))
	assert.Equal(t, IntentUnknown, Parse(""))
	assert.Equal(t, IntentFollowUp, Parse("follow_up"))
}
