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

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var calls int32
	done := make(chan Job, 1)
	q := NewQueue("test", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		done <- job
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1", Type: "certificate"}))

	select {
	case job := <-done:
		assert.Equal(t, 2, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job not completed")
	}
}

func TestQueueGivesUp(t *testing.T) {
	gaveUp := make(chan error, 1)
	q := NewQueue("test", func(context.Context, Job) error {
		return errors.New("permanent")
	}, QueueConfig{MaxRetries: 1, RetryDelay: time.Millisecond, OnGiveUp: func(_ Job, err error) { gaveUp <- err }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j2"}))
	select {
	case err := <-gaveUp:
		assert.EqualError(t, err, "permanent")
	case <-time.After(2 * time.Second):
		t.Fatal("expected give up")
	}
}

func TestEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestQueueCoalescesByKey(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	q := NewQueue("test", func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		<-release
		return nil
	}, QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a", Key: "student-1"}))
	require.NoError(t, q.Enqueue(Job{ID: "b", Key: "student-1"}))
	assert.Equal(t, 1, q.Pending())

	close(release)
	assert.Eventually(t, func() bool { return q.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	require.NoError(t, q.Enqueue(Job{ID: "c", Key: "student-1"}))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestQueuePermanentErrorSkipsRetries(t *testing.T) {
	var calls int32
	gaveUp := make(chan Job, 1)
	q := NewQueue("test", func(context.Context, Job) error {
		atomic.AddInt32(&calls, 1)
		return Permanent(errors.New("student not found"))
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Millisecond, OnGiveUp: func(job Job, _ error) { gaveUp <- job }})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "p", Key: "student-2"}))
	select {
	case job := <-gaveUp:
		assert.Equal(t, 1, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("expected give up")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, 0, q.Pending())
}

func TestQueueRetryDelayIsCapped(t *testing.T) {
	q := NewQueue("test", func(context.Context, Job) error { return nil },
		QueueConfig{RetryDelay: time.Second, MaxRetryDelay: time.Minute})

	assert.Equal(t, time.Second, q.retryDelay(1))
	assert.Equal(t, 2*time.Second, q.retryDelay(2))
	assert.Equal(t, 32*time.Second, q.retryDelay(6))
	assert.Equal(t, time.Minute, q.retryDelay(7))
	assert.Equal(t, time.Minute, q.retryDelay(200))
}
