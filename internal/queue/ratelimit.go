package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"medinotify/internal/types"
)

// RateLimitResult is the outcome of one rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter is a fixed-window counter shared by every process that uses the
// same key, so a per-minute provider limit holds across replicas.
type RateLimiter struct {
	client redis.UniversalClient
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter allows limit acquisitions per window under key. A limit of
// zero or less disables limiting.
func NewRateLimiter(client redis.UniversalClient, key string, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{client: client, key: key, limit: limit, window: window, now: time.Now}
}

// IncrementAndCheck counts one acquisition in the current window and reports
// whether it is within the limit.
func (l *RateLimiter) IncrementAndCheck(ctx context.Context) (RateLimitResult, error) {
	now := l.now()
	start := now.Truncate(l.window)
	resetAt := start.Add(l.window)
	if l.limit <= 0 {
		return RateLimitResult{Allowed: true, Remaining: -1, ResetAt: resetAt}, nil
	}

	key := l.key + ":" + strconv.FormatInt(start.Unix(), 10)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.PExpire(ctx, key, l.window+time.Second)
		return nil
	})
	if err != nil {
		return RateLimitResult{}, types.NewAppError(types.ErrCodeInternalQueue, "failed to update rate limit counter", err)
	}

	count := int(incr.Val())
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{Allowed: count <= l.limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// Wait blocks until an acquisition is allowed or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		res, err := l.IncrementAndCheck(ctx)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}

		timer := time.NewTimer(res.ResetAt.Sub(l.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
