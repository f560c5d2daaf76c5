package replicate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The guard sleeps a fixed 30 seconds per re-issue and turns fatal once the
// per-window budget of 60 attempts is spent.
func TestGuardExhaustsFixedIntervalBudget(t *testing.T) {
	var sleeps []time.Duration
	guard := newConsistencyGuard("users", func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})

	start := mustTime("2020-01-01T00:00:00Z")
	stale := []string{"2019-12-31T00:00:00Z"}

	for i := 0; i < maxConsistencyRetries; i++ {
		require.NoError(t, guard.violated(context.Background(), start, stale), "attempt %d", i+1)
	}

	err := guard.violated(context.Background(), start, stale)
	var violation *ConsistencyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, maxConsistencyRetries, violation.Attempts)
	assert.True(t, violation.WindowStart.Equal(start))

	require.Len(t, sleeps, maxConsistencyRetries)
	for _, d := range sleeps {
		assert.Equal(t, consistencyRetryInterval, d)
	}
}

// A validated window restores the full budget for the next one.
func TestGuardPassedResetsBudget(t *testing.T) {
	guard := newConsistencyGuard("users", func(context.Context, time.Duration) error {
		return nil
	})

	start := mustTime("2020-01-01T00:00:00Z")
	for i := 0; i < maxConsistencyRetries; i++ {
		require.NoError(t, guard.violated(context.Background(), start, nil))
	}
	guard.passed()
	assert.Zero(t, guard.attempts)
	assert.NoError(t, guard.violated(context.Background(), start, nil))
}
