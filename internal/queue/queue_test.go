package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterPublishRoundTrip(t *testing.T) {
	mem := NewMemoryQueue(4)
	pub := NewDeadLetterPublisher(mem)

	err := pub.Publish(context.Background(), DeadLetter{
		MessageID:   "msg-1",
		Platform:    "zillow",
		AccountID:   "acct-1",
		ThreadID:    "th-9",
		Stage:       "dispatch",
		ErrorKind:   "AUTOMATION_FAILURE",
		ErrorDetail: "composer selector missing",
		Attempts:    4,
	})
	require.NoError(t, err)

	msgs, err := mem.Receive(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	dl, err := DecodeDeadLetter(msgs[0].Body)
	require.NoError(t, err)
	assert.NotEmpty(t, dl.ID)
	assert.False(t, dl.QueuedAt.IsZero())
	assert.Equal(t, "msg-1", dl.MessageID)
	assert.Equal(t, "zillow", dl.Platform)
	assert.Equal(t, 4, dl.Attempts)
}

func TestDecodeDeadLetterMalformed(t *testing.T) {
	_, err := DecodeDeadLetter("not json")
	assert.Error(t, err)
}

func TestMemoryQueueCollectsBatch(t *testing.T) {
	mem := NewMemoryQueue(8)
	for i := 0; i < 3; i++ {
		require.NoError(t, mem.Send(context.Background(), "body"))
	}

	msgs, err := mem.Receive(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	msgs, err = mem.Receive(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMemoryQueueReceiveTimeout(t *testing.T) {
	mem := NewMemoryQueue(1)

	start := time.Now()
	msgs, err := mem.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Nil(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestMemoryQueueReceiveCancelled(t *testing.T) {
	mem := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mem.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
