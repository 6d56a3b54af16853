package queue

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

func dequeueOne(t *testing.T, q *Queue) *Job {
	t.Helper()
	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestPool_ProcessSuccess(t *testing.T) {
	q, _, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()
	_, _, err := q.Enqueue(ctx, payload{DeliveryLogID: "d-1"}, EnqueueOptions{})
	require.NoError(t, err)

	var seen string
	pool := NewPool(q, func(_ context.Context, job *Job) error {
		var p payload
		require.NoError(t, job.Decode(&p))
		seen = p.DeliveryLogID
		return nil
	}, nil, PoolConfig{}, nil)

	pool.Process(ctx, dequeueOne(t, q))

	assert.Equal(t, "d-1", seen)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 1}, stats)
}

func TestPool_ProcessFailureSchedulesRetry(t *testing.T) {
	q, _, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()
	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{})
	require.NoError(t, err)

	hookCalled := false
	pool := NewPool(q, func(context.Context, *Job) error { return errors.New("smtp timeout") }, nil, PoolConfig{}, nil)
	pool.OnFailure(func(context.Context, *Job, error) { hookCalled = true })

	pool.Process(ctx, dequeueOne(t, q))

	assert.False(t, hookCalled)
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Delayed: 1}, stats)
}

func TestPool_PermanentFailureRunsHook(t *testing.T) {
	q, _, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()
	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{JobID: "job-9"})
	require.NoError(t, err)

	var hookJob *Job
	var hookErr error
	pool := NewPool(q, func(context.Context, *Job) error {
		return Permanent(errors.New("address rejected"))
	}, nil, PoolConfig{}, nil)
	pool.OnFailure(func(_ context.Context, job *Job, err error) {
		hookJob, hookErr = job, err
	})

	pool.Process(ctx, dequeueOne(t, q))

	require.NotNil(t, hookJob)
	assert.Equal(t, "job-9", hookJob.ID)
	assert.True(t, IsPermanent(hookErr))
}

func TestPool_PanicIsAFailure(t *testing.T) {
	q, _, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()
	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{JobID: "job-p"})
	require.NoError(t, err)

	pool := NewPool(q, func(context.Context, *Job) error { panic("nil map") }, nil, PoolConfig{}, nil)
	pool.Process(ctx, dequeueOne(t, q))

	stored, err := q.Get(ctx, "job-p")
	require.NoError(t, err)
	assert.Contains(t, stored.LastError, "nil map")
}

func TestPool_RunDrainsQueueAndStops(t *testing.T) {
	_, client := setupRedis(t)
	q := New(client, "sms", DefaultOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const total = 5
	for i := 0; i < total; i++ {
		_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{})
		require.NoError(t, err)
	}

	var (
		processed atomic.Int32
		inFlight  atomic.Int32
		maxSeen   atomic.Int32
		wg        sync.WaitGroup
	)
	wg.Add(total)
	handler := func(context.Context, *Job) error {
		n := inFlight.Add(1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		processed.Add(1)
		wg.Done()
		return nil
	}

	limiter := NewRateLimiter(client, "sms-limit", 100, time.Minute)
	pool := NewPool(q, handler, limiter, PoolConfig{Concurrency: 2, PollTimeout: time.Second}, nil)

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	wg.Wait()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}

	assert.Equal(t, int32(total), processed.Load())
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))

	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(total), stats.Completed)
}

func TestPool_IdlePollsDoNotSpendRateLimit(t *testing.T) {
	_, client := setupRedis(t)
	q := New(client, "sms", DefaultOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan string, 1)
	limiter := NewRateLimiter(client, "sms-limit", 3, time.Minute)
	pool := NewPool(q, func(_ context.Context, job *Job) error {
		handled <- job.ID
		return nil
	}, limiter, PoolConfig{Concurrency: 1, PollTimeout: time.Second}, nil)

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	// Several empty polls pass before anything is enqueued.
	time.Sleep(3500 * time.Millisecond)
	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{JobID: "late-job"})
	require.NoError(t, err)

	select {
	case id := <-handled:
		assert.Equal(t, "late-job", id)
	case <-time.After(3 * time.Second):
		t.Fatal("job waited on a rate limit spent by empty polls")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestPool_ShutdownWhileRateLimitedReleasesJob(t *testing.T) {
	_, client := setupRedis(t)
	q := New(client, "sms", DefaultOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := NewRateLimiter(client, "sms-limit", 1, time.Minute)
	window := time.Now()
	limiter.now = func() time.Time { return window }
	res, err := limiter.IncrementAndCheck(ctx)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	_, _, err = q.Enqueue(ctx, payload{}, EnqueueOptions{JobID: "held"})
	require.NoError(t, err)

	var calls atomic.Int32
	pool := NewPool(q, func(context.Context, *Job) error {
		calls.Add(1)
		return nil
	}, limiter, PoolConfig{Concurrency: 1, PollTimeout: time.Second}, nil)

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats.Active == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}

	assert.Zero(t, calls.Load())
	stats, err := q.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Counts{Wait: 1}, stats)
	stored, err := q.Get(context.Background(), "held")
	require.NoError(t, err)
	assert.Zero(t, stored.Attempt)
}
