package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	DeliveryLogID string `json:"deliveryLogId"`
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// testQueue returns a queue whose clock is controlled by the returned pointer.
func testQueue(t *testing.T, opts Options) (*Queue, *miniredis.Miniredis, *time.Time) {
	mr, client := setupRedis(t)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := New(client, "email", opts, nil)
	q.now = func() time.Time { return clock }
	return q, mr, &clock
}

func TestQueue_EnqueueDequeueComplete(t *testing.T) {
	q, _, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()

	job, added, err := q.Enqueue(ctx, payload{DeliveryLogID: "d-1"}, EnqueueOptions{})
	require.NoError(t, err)
	assert.True(t, added)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 3, job.MaxAttempts)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, 1, got.Attempt)

	var p payload
	require.NoError(t, got.Decode(&p))
	assert.Equal(t, "d-1", p.DeliveryLogID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Active: 1}, stats)

	require.NoError(t, q.Complete(ctx, got))
	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Completed: 1}, stats)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.FinishedAt)
}

func TestQueue_DequeueEmptyTimesOut(t *testing.T) {
	q, _, _ := testQueue(t, DefaultOptions())

	job, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_DuplicateJobIDSuppressed(t *testing.T) {
	q, _, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()

	first, added, err := q.Enqueue(ctx, payload{DeliveryLogID: "d-1"}, EnqueueOptions{JobID: "d-1"})
	require.NoError(t, err)
	require.True(t, added)

	second, added, err := q.Enqueue(ctx, payload{DeliveryLogID: "other"}, EnqueueOptions{JobID: "d-1"})
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first.ID, second.ID)
	assert.JSONEq(t, `{"deliveryLogId":"d-1"}`, string(second.Data))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Wait)
}

func TestQueue_DelayedEnqueue(t *testing.T) {
	q, _, clock := testQueue(t, DefaultOptions())
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{Delay: time.Minute})
	require.NoError(t, err)

	n, err := q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	*clock = clock.Add(time.Minute)
	n, err = q.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Wait: 1}, stats)
}

func TestQueue_FailRetriesWithBackoffThenFails(t *testing.T) {
	q, _, clock := testQueue(t, DefaultOptions())
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, payload{DeliveryLogID: "d-0"}, EnqueueOptions{JobID: "job-1"})
	require.NoError(t, err)

	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, attempt, job.Attempt)

		// Handlers may rewrite the payload between attempts.
		require.NoError(t, job.SetData(payload{DeliveryLogID: "d-" + string(rune('0'+attempt))}))

		retried, err := q.Fail(ctx, job, errors.New("provider timeout"))
		require.NoError(t, err)

		if attempt == 3 {
			assert.False(t, retried)
			break
		}
		assert.True(t, retried)

		// Not due one millisecond early.
		*clock = clock.Add(wantDelays[attempt-1] - time.Millisecond)
		n, err := q.PromoteDue(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		*clock = clock.Add(time.Millisecond)
		n, err = q.PromoteDue(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Failed: 1}, stats)

	stored, err := q.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "provider timeout", stored.LastError)
	assert.JSONEq(t, `{"deliveryLogId":"d-3"}`, string(stored.Data))
}

func TestQueue_PermanentSkipsRetries(t *testing.T) {
	q, _, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	retried, err := q.Fail(ctx, job, Permanent(errors.New("invalid phone number")))
	require.NoError(t, err)
	assert.False(t, retried)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Failed: 1}, stats)
}

func TestQueue_RetentionTrimsCompleted(t *testing.T) {
	opts := DefaultOptions()
	opts.KeepCompleted = 2
	q, mr, _ := testQueue(t, opts)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{})
		require.NoError(t, err)
		job, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job))
	}

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Completed)

	ids, err := mr.List(q.key("completed"))
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, 24*time.Hour, mr.TTL(q.jobKey(ids[0])))
}

func TestQueue_RecoverStalled(t *testing.T) {
	q, mr, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{JobID: "job-1"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	// A live lease keeps the job active.
	n, err := q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The worker dies: its lease expires.
	mr.Del(q.lockKey("job-1"))

	n, err = q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "first sighting only marks the job")

	n, err = q.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempt)
}

func TestQueue_ReleaseKeepsAttempt(t *testing.T) {
	q, mr, _ := testQueue(t, DefaultOptions())
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{JobID: "job-1"})
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, payload{}, EnqueueOptions{JobID: "job-2"})
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "job-1", job.ID)

	require.NoError(t, q.Release(ctx, job))
	assert.False(t, mr.Exists(q.lockKey("job-1")))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Wait: 2}, stats)

	again, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "job-1", again.ID, "a released job is next in line")
	assert.Equal(t, 1, again.Attempt)
}

func TestQueue_StalledAfterFinalAttemptFails(t *testing.T) {
	opts := DefaultOptions()
	opts.Attempts = 1
	q, mr, _ := testQueue(t, opts)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, payload{}, EnqueueOptions{JobID: "job-1"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)

	mr.Del(q.lockKey("job-1"))
	_, err = q.RecoverStalled(ctx)
	require.NoError(t, err)
	_, err = q.RecoverStalled(ctx)
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Failed: 1}, stats)
}

func TestBackoff_Delay(t *testing.T) {
	b := DefaultBackoff
	assert.Equal(t, 5*time.Second, b.Delay(1))
	assert.Equal(t, 10*time.Second, b.Delay(2))
	assert.Equal(t, 20*time.Second, b.Delay(3))
	assert.Equal(t, 5*time.Minute, b.Delay(20))
	assert.Equal(t, 5*time.Second, b.Delay(0))
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	base := errors.New("rejected")
	err := Permanent(base)
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsPermanent(base))
}
