// Package queue provides the dead-letter channel for messages that exhaust
// their dispatch retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client is the minimal queue surface the orchestrator depends on.
type Client interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one delivered queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// DeadLetter is the payload parked for human follow-up when automated
// dispatch gives up on a message.
type DeadLetter struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	Platform    string    `json:"platform"`
	AccountID   string    `json:"account_id"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Stage       string    `json:"stage"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Attempts    int       `json:"attempts"`
	QueuedAt    time.Time `json:"queued_at"`
}

// DeadLetterPublisher serializes dead letters onto a queue client.
type DeadLetterPublisher struct {
	client Client
	now    func() time.Time
}

// NewDeadLetterPublisher wraps client as the DLQ sink.
func NewDeadLetterPublisher(client Client) *DeadLetterPublisher {
	if client == nil {
		panic("queue: dead-letter client cannot be nil")
	}
	return &DeadLetterPublisher{client: client, now: time.Now}
}

// Publish parks one dead letter.
func (p *DeadLetterPublisher) Publish(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.QueuedAt.IsZero() {
		dl.QueuedAt = p.now().UTC()
	}

	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("queue: failed to encode dead letter: %w", err)
	}
	if err := p.client.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("queue: failed to publish dead letter: %w", err)
	}
	return nil
}

// DecodeDeadLetter parses a queue body back into a DeadLetter.
func DecodeDeadLetter(body string) (DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal([]byte(body), &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("queue: failed to decode dead letter: %w", err)
	}
	return dl, nil
}
