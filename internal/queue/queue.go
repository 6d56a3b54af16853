// Package queue implements named, Redis-backed job queues with delayed
// retries, lease-based stalled-job recovery and bounded retention of finished
// jobs, plus a worker pool that drains a queue with bounded concurrency and a
// shared per-minute rate limit.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"medinotify/internal/types"
)

// Job is one unit of work. Data is the caller's payload; a handler may
// rewrite it and the change is persisted when the job is retried.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Data        json.RawMessage `json:"data"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

// SetData replaces the job payload.
func (j *Job) SetData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.Data = data
	return nil
}

// Exhausted reports whether the job has used all of its attempts.
func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// Options configures a Queue.
type Options struct {
	Prefix        string
	Attempts      int
	Backoff       Backoff
	KeepCompleted int64
	CompletedTTL  time.Duration
	KeepFailed    int64
	FailedTTL     time.Duration
	LockDuration  time.Duration
}

// DefaultOptions mirrors the service defaults: three attempts, 5s exponential
// backoff, the 1000 most recent completed jobs kept for a day and 5000 failed
// jobs kept for a week.
func DefaultOptions() Options {
	return Options{
		Prefix:        "medinotify",
		Attempts:      3,
		Backoff:       DefaultBackoff,
		KeepCompleted: 1000,
		CompletedTTL:  24 * time.Hour,
		KeepFailed:    5000,
		FailedTTL:     7 * 24 * time.Hour,
		LockDuration:  30 * time.Second,
	}
}

// EnqueueOptions tunes a single Enqueue call.
type EnqueueOptions struct {
	// JobID makes enqueueing idempotent: a second job with the same ID is
	// dropped while the first is still stored.
	JobID string
	Delay time.Duration
}

// Counts is a snapshot of queue sizes.
type Counts struct {
	Wait      int64 `json:"wait"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is a named Redis-backed job queue. Jobs move
// wait -> active -> {completed | failed | delayed -> wait}.
type Queue struct {
	client redis.UniversalClient
	name   string
	opts   Options
	logger types.Logger
	now    func() time.Time

	// suspects holds active job IDs seen without a lease on the previous
	// stalled-job check.
	suspects map[string]struct{}
}

// New creates a Queue named name.
func New(client redis.UniversalClient, name string, opts Options, logger types.Logger) *Queue {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = 30 * time.Second
	}
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Queue{
		client:   client,
		name:     name,
		opts:     opts,
		logger:   logger.With("queue", name),
		now:      time.Now,
		suspects: make(map[string]struct{}),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(part string) string {
	return q.opts.Prefix + ":" + q.name + ":" + part
}

func (q *Queue) jobKey(id string) string  { return q.key("job:" + id) }
func (q *Queue) lockKey(id string) string { return q.key("lock:" + id) }

// enqueueScript stores the job only if its ID is free, then schedules it.
// KEYS: job, wait, delayed. ARGV: payload, id, runAt (unix ms, 0 = now).
var enqueueScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX') then
  return 0
end
local runAt = tonumber(ARGV[3])
if runAt > 0 then
  redis.call('ZADD', KEYS[3], runAt, ARGV[2])
else
  redis.call('LPUSH', KEYS[2], ARGV[2])
end
return 1
`)

// promoteScript moves due delayed jobs to the wait list.
// KEYS: delayed, wait. ARGV: now (unix ms), batch size.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
end
return #ids
`)

// Enqueue adds a job carrying data. It returns the stored job and whether it
// was newly added; with a JobID already in use the existing job is returned
// with added=false.
func (q *Queue) Enqueue(ctx context.Context, data any, opts EnqueueOptions) (*Job, bool, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalQueue, "failed to encode job payload", err)
	}

	job := &Job{
		ID:          opts.JobID,
		Queue:       q.name,
		Data:        payload,
		MaxAttempts: q.opts.Attempts,
		EnqueuedAt:  q.now().UTC(),
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalQueue, "failed to encode job", err)
	}

	var runAt int64
	if opts.Delay > 0 {
		runAt = q.now().Add(opts.Delay).UnixMilli()
	}

	added, err := enqueueScript.Run(ctx, q.client,
		[]string{q.jobKey(job.ID), q.key("wait"), q.key("delayed")},
		string(raw), job.ID, runAt,
	).Int()
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalQueue, "failed to enqueue job", err)
	}
	if added == 0 {
		existing, getErr := q.Get(ctx, job.ID)
		if getErr != nil {
			return nil, false, getErr
		}
		q.logger.Info("duplicate job suppressed", "job_id", job.ID)
		return existing, false, nil
	}
	return job, true, nil
}

// Get loads a stored job by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeInternalQueue, "job not found", nil,
			map[string]any{"job_id": id, "queue": q.name})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to load job", err)
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to decode job", err)
	}
	return &job, nil
}

// Dequeue blocks for up to timeout waiting for a job, leases it and counts
// the attempt. It returns nil without error when the wait times out.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	id, err := q.client.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to fetch job", err)
	}

	if err := q.client.Set(ctx, q.lockKey(id), uuid.NewString(), q.opts.LockDuration).Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to lease job", err)
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		// The payload expired or was removed; drop the orphaned ID.
		q.client.LRem(ctx, q.key("active"), 1, id)
		q.client.Del(ctx, q.lockKey(id))
		q.logger.Warn("dropped job without payload", "job_id", id, "error", err.Error())
		return nil, nil
	}
	job.Attempt++

	if job.Attempt > job.MaxAttempts {
		// Re-queued by stalled-job recovery after its last attempt.
		if _, err := q.finish(ctx, job, errors.New("job stalled after its final attempt"), true); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err := q.save(ctx, q.client, job, 0); err != nil {
		return nil, err
	}
	return job, nil
}

// Extend renews the job's lease.
func (q *Queue) Extend(ctx context.Context, job *Job) error {
	if err := q.client.PExpire(ctx, q.lockKey(job.ID), q.opts.LockDuration).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to extend job lease", err)
	}
	return nil
}

// Release hands a leased job back to the front of the wait list without
// using up the attempt Dequeue counted.
func (q *Queue) Release(ctx context.Context, job *Job) error {
	if job.Attempt > 0 {
		job.Attempt--
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.Del(ctx, q.lockKey(job.ID))
		pipe.RPush(ctx, q.key("wait"), job.ID)
		return q.save(ctx, pipe, job, 0)
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to release job", err)
	}
	return nil
}

// Complete moves a leased job to the completed list.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	now := q.now().UTC()
	job.FinishedAt = &now
	job.LastError = ""

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.Del(ctx, q.lockKey(job.ID))
		pipe.LPush(ctx, q.key("completed"), job.ID)
		if q.opts.KeepCompleted > 0 {
			pipe.LTrim(ctx, q.key("completed"), 0, q.opts.KeepCompleted-1)
		}
		return q.save(ctx, pipe, job, q.opts.CompletedTTL)
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to complete job", err)
	}
	return nil
}

// Fail records a failed run. The job is scheduled again after its backoff
// delay unless cause is Permanent or the job has no attempts left, in which
// case it moves to the failed list. The returned bool reports a retry.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	terminal := IsPermanent(cause) || job.Exhausted()
	return q.finish(ctx, job, cause, terminal)
}

func (q *Queue) finish(ctx context.Context, job *Job, cause error, terminal bool) (bool, error) {
	if cause != nil {
		job.LastError = cause.Error()
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.key("active"), 1, job.ID)
		pipe.Del(ctx, q.lockKey(job.ID))
		if !terminal {
			runAt := q.now().Add(q.opts.Backoff.Delay(job.Attempt))
			pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(runAt.UnixMilli()), Member: job.ID})
			return q.save(ctx, pipe, job, 0)
		}
		now := q.now().UTC()
		job.FinishedAt = &now
		pipe.LPush(ctx, q.key("failed"), job.ID)
		if q.opts.KeepFailed > 0 {
			pipe.LTrim(ctx, q.key("failed"), 0, q.opts.KeepFailed-1)
		}
		return q.save(ctx, pipe, job, q.opts.FailedTTL)
	})
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalQueue, "failed to record job failure", err)
	}
	return !terminal, nil
}

func (q *Queue) save(ctx context.Context, c redis.Cmdable, job *Job, ttl time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalQueue, "failed to encode job", err)
	}
	return c.Set(ctx, q.jobKey(job.ID), raw, ttl).Err()
}

// PromoteDue moves delayed jobs whose run time has passed onto the wait list.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("wait")},
		strconv.FormatInt(q.now().UnixMilli(), 10), 100,
	).Int()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalQueue, "failed to promote delayed jobs", err)
	}
	return n, nil
}

// RecoverStalled returns active jobs to the wait list when their lease has
// been missing on two consecutive checks, which happens when a worker died
// mid-job. The attempt is counted when the job is fetched again.
func (q *Queue) RecoverStalled(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalQueue, "failed to list active jobs", err)
	}

	unlocked := make(map[string]struct{})
	recovered := 0
	for _, id := range ids {
		exists, err := q.client.Exists(ctx, q.lockKey(id)).Result()
		if err != nil {
			return recovered, types.NewAppError(types.ErrCodeInternalQueue, "failed to check job lease", err)
		}
		if exists == 1 {
			continue
		}
		if _, seen := q.suspects[id]; !seen {
			unlocked[id] = struct{}{}
			continue
		}

		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.key("active"), 1, id)
			pipe.RPush(ctx, q.key("wait"), id)
			return nil
		})
		if err != nil {
			return recovered, types.NewAppError(types.ErrCodeInternalQueue, "failed to recover stalled job", err)
		}
		recovered++
		q.logger.Warn("recovered stalled job", "job_id", id)
	}
	q.suspects = unlocked
	return recovered, nil
}

// Stats returns the current queue sizes.
func (q *Queue) Stats(ctx context.Context) (Counts, error) {
	var wait, active, delayed, completed, failed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		wait = pipe.LLen(ctx, q.key("wait"))
		active = pipe.LLen(ctx, q.key("active"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		completed = pipe.LLen(ctx, q.key("completed"))
		failed = pipe.LLen(ctx, q.key("failed"))
		return nil
	})
	if err != nil {
		return Counts{}, types.NewAppError(types.ErrCodeInternalQueue, fmt.Sprintf("failed to read %s stats", q.name), err)
	}
	return Counts{
		Wait:      wait.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}
