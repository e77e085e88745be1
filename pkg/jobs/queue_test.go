package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDeliversJobs(t *testing.T) {
	done := make(chan Job, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		done <- job
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 4})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j-1", Type: "mail", Payload: "hello"}))
	select {
	case job := <-done:
		assert.Equal(t, "j-1", job.ID)
		assert.False(t, job.Enqueued.IsZero(), "enqueue stamps the job")
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered")
	}
}

func TestQueueRetriesThenDrops(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue("test", func(_ context.Context, _ Job) error {
		calls.Add(1)
		return errors.New("downstream unavailable")
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j-1", Type: "mail"}))
	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond,
		"a failing job is attempted MaxRetries times and then dropped")
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(_ context.Context, _ Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "j-1"}))
}
