package source

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// lowWatermark is the remaining budget at which Wait blocks until the reset
const lowWatermark = 10

// RateLimiter paces requests against the source host's API budget
type RateLimiter interface {
	Wait(ctx context.Context) error
	CheckLimit() (remaining int, resetTime time.Time)
	UpdateLimit(remaining int, resetTime time.Time)
}

// headerRateLimiter tracks the budget advertised in RateLimit-* response headers
type headerRateLimiter struct {
	mu        sync.Mutex
	remaining int
	resetTime time.Time
	minDelay  time.Duration
	lastCall  time.Time
	logger    *slog.Logger
}

// NewRateLimiter creates a rate limiter that spaces requests at least minDelay
// apart. Until the host reports a budget the limiter assumes there is one.
func NewRateLimiter(minDelay time.Duration, logger *slog.Logger) RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &headerRateLimiter{
		remaining: -1,
		minDelay:  minDelay,
		logger:    logger,
	}
}

// Wait blocks until it is safe to make another request
func (r *headerRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remaining >= 0 && r.remaining <= lowWatermark {
		waitDuration := time.Until(r.resetTime)
		if waitDuration > 0 {
			r.logger.Info("rate limit low, waiting for reset",
				"remaining", r.remaining, "wait", waitDuration.Round(time.Second))
			if err := r.sleep(ctx, waitDuration); err != nil {
				return err
			}
		}
		// unknown until the next response reports it
		r.remaining = -1
	}

	if elapsed := time.Since(r.lastCall); elapsed < r.minDelay {
		if err := r.sleep(ctx, r.minDelay-elapsed); err != nil {
			return err
		}
	}

	r.lastCall = time.Now()
	return nil
}

// sleep releases the lock while waiting. Callers hold r.mu.
func (r *headerRateLimiter) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Unlock()
	defer r.mu.Lock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CheckLimit returns the last known budget; remaining is -1 when unknown
func (r *headerRateLimiter) CheckLimit() (remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.resetTime
}

// UpdateLimit records the budget reported by the host
func (r *headerRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}

// updateFromHeaders feeds GitLab's RateLimit-Remaining and RateLimit-Reset
// (unix seconds) into limiter. Responses without them are ignored.
func updateFromHeaders(limiter RateLimiter, h http.Header) {
	remaining, err := strconv.Atoi(h.Get("RateLimit-Remaining"))
	if err != nil {
		return
	}
	reset := time.Now().Add(time.Minute)
	if unix, err := strconv.ParseInt(h.Get("RateLimit-Reset"), 10, 64); err == nil {
		reset = time.Unix(unix, 0)
	}
	limiter.UpdateLimit(remaining, reset)
}
