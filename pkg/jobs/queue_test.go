package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesAllJobs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	q := NewQueue("recompute", func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.Key]++
		mu.Unlock()
		return nil
	}, QueueConfig{Workers: 3})
	q.Start(context.Background())
	defer q.Stop()

	for _, key := range []string{"COMP1511", "COMP2521", "MATH1131", "ARTS1000"} {
		require.NoError(t, q.Enqueue(Job{ID: key, Key: key}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
	assert.Len(t, seen, 4)
	for _, n := range seen {
		assert.Equal(t, 1, n)
	}
}

func TestQueueRetriesThenReportsFailure(t *testing.T) {
	var attempts int32
	var failed []string
	var mu sync.Mutex
	q := NewQueue("recompute", func(_ context.Context, job Job) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("store unavailable")
	}, QueueConfig{
		Workers:    1,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnFailure: func(job Job, _ error) {
			mu.Lock()
			failed = append(failed, job.Key)
			mu.Unlock()
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Key: "COMP1511"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
	assert.EqualValues(t, 3, atomic.LoadInt32(&attempts))
	assert.Equal(t, []string{"COMP1511"}, failed)
}

func TestQueueRetrySucceeds(t *testing.T) {
	var attempts int32
	q := NewQueue("recompute", func(_ context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("serialization failure")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Key: "COMP1511"}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx))
	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
}

func TestEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("recompute", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "1"}))
}
