package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

func TestQueue_PublishConsume(t *testing.T) {
	q := New(4, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task := model.DispatchTask{NotificationID: uuid.New()}
	require.NoError(t, q.Publish(ctx, task, retry.Strategy{}))
	assert.Equal(t, 1, q.Len())

	out := make(chan model.DispatchTask, 1)
	done := make(chan error, 1)
	go func() { done <- q.Consume(ctx, out, retry.Strategy{}) }()

	select {
	case got := <-out:
		assert.Equal(t, task, got)
	case <-time.After(time.Second):
		t.Fatal("task was not consumed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consume did not stop")
	}
}

func TestQueue_Full(t *testing.T) {
	q := New(1, time.Millisecond)

	require.NoError(t, q.Publish(context.Background(), model.DispatchTask{NotificationID: uuid.New()}, retry.Strategy{}))
	err := q.Publish(context.Background(), model.DispatchTask{NotificationID: uuid.New()}, retry.Strategy{})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueue_Retry(t *testing.T) {
	q := New(1, 10*time.Millisecond)
	task := model.DispatchTask{NotificationID: uuid.New()}

	require.NoError(t, q.Retry(context.Background(), task, retry.Strategy{}))
	assert.Equal(t, 0, q.Len(), "retried task is delayed")

	assert.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)
}
