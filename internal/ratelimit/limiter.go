package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
	"github.com/fitbridge/fitbridge-connect/internal/repository"
)

// Limiter throttles callers per (user, endpoint) against persistent storage,
// so the budget holds across process instances. The storage layer owns the
// atomic check-and-increment; this type only interprets the result.
type Limiter struct {
	repo repository.RateLimitRepository
}

// NewLimiter constructs a storage-backed limiter.
func NewLimiter(repo repository.RateLimitRepository) *Limiter {
	return &Limiter{repo: repo}
}

// Allow counts this request against the window and decides whether it may
// proceed. When rejected, RetryAfter tells the caller how long until the
// window resets; callers must reject rather than queue.
func (l *Limiter) Allow(ctx context.Context, userID int64, endpoint string, maxRequests int, window time.Duration) (domain.RateLimitDecision, error) {
	if maxRequests <= 0 {
		return domain.RateLimitDecision{Allowed: true}, nil
	}
	windowStart, count, err := l.repo.Increment(ctx, userID, endpoint, window)
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("rate limit %s: %w", endpoint, err)
	}
	if count <= maxRequests {
		return domain.RateLimitDecision{Allowed: true}, nil
	}
	retryAfter := time.Until(windowStart.Add(window))
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return domain.RateLimitDecision{Allowed: false, RetryAfter: retryAfter}, nil
}

// Guard is Allow with the rejection folded into the error, for entry points
// that treat throttling as a failure.
func (l *Limiter) Guard(ctx context.Context, userID int64, endpoint string, maxRequests int, window time.Duration) error {
	decision, err := l.Allow(ctx, userID, endpoint, maxRequests, window)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return &domain.RateLimitError{RetryAfter: decision.RetryAfter}
	}
	return nil
}
