package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
)

// memoryRateLimitRepo mirrors the SQL upsert semantics: reset the window when
// it has elapsed, otherwise increment, atomically under one lock.
type memoryRateLimitRepo struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

func newMemoryRateLimitRepo() *memoryRateLimitRepo {
	return &memoryRateLimitRepo{now: time.Now, windows: map[string]*window{}}
}

func (m *memoryRateLimitRepo) Increment(_ context.Context, userID int64, endpoint string, windowDur time.Duration) (time.Time, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d/%s", userID, endpoint)
	now := m.now()
	w, ok := m.windows[key]
	if !ok || !w.start.After(now.Add(-windowDur)) {
		w = &window{start: now, count: 1}
		m.windows[key] = w
		return w.start, w.count, nil
	}
	w.count++
	return w.start, w.count, nil
}

func TestLimiter_RejectsOverBudget(t *testing.T) {
	repo := newMemoryRateLimitRepo()
	limiter := NewLimiter(repo)
	ctx := context.Background()

	const max = 3
	for i := 0; i < max; i++ {
		decision, err := limiter.Allow(ctx, 1, "initiate", max, time.Minute)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "request %d within budget", i+1)
	}

	decision, err := limiter.Allow(ctx, 1, "initiate", max, time.Minute)
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestLimiter_WindowReset(t *testing.T) {
	repo := newMemoryRateLimitRepo()
	current := time.Now()
	repo.now = func() time.Time { return current }
	limiter := NewLimiter(repo)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, 7, "revoke", 1, time.Minute)
		require.NoError(t, err)
		require.Equal(t, i == 0, decision.Allowed)
	}

	current = current.Add(61 * time.Second)
	decision, err := limiter.Allow(ctx, 7, "revoke", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, decision.Allowed, "counter resets after the window elapses")
}

func TestLimiter_GuardReturnsTypedError(t *testing.T) {
	repo := newMemoryRateLimitRepo()
	limiter := NewLimiter(repo)
	ctx := context.Background()

	require.NoError(t, limiter.Guard(ctx, 2, "callback", 1, time.Minute))

	err := limiter.Guard(ctx, 2, "callback", 1, time.Minute)
	require.Error(t, err)
	rle, ok := domain.IsRateLimited(err)
	require.True(t, ok)
	require.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestLimiter_IsolatesUsersAndEndpoints(t *testing.T) {
	repo := newMemoryRateLimitRepo()
	limiter := NewLimiter(repo)
	ctx := context.Background()

	require.NoError(t, limiter.Guard(ctx, 1, "initiate", 1, time.Minute))
	require.Error(t, limiter.Guard(ctx, 1, "initiate", 1, time.Minute))

	require.NoError(t, limiter.Guard(ctx, 2, "initiate", 1, time.Minute))
	require.NoError(t, limiter.Guard(ctx, 1, "callback", 1, time.Minute))
}
