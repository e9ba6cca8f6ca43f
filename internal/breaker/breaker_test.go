package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBreaker(t *testing.T, opts ...Option) (*Breaker, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return NewBreaker(client, opts...), mr
}

func TestAvailable_ClosedByDefault(t *testing.T) {
	b, mr := setupTestBreaker(t)
	defer mr.Close()

	assert.True(t, b.Available())
	assert.Zero(t, b.RetryAfter())
	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func TestOpensExactlyAtThreshold(t *testing.T) {
	b, mr := setupTestBreaker(t)
	defer mr.Close()

	require.NoError(t, b.RecordFailure())
	require.NoError(t, b.RecordFailure())
	assert.True(t, b.Available())
	assert.Equal(t, StateClosed, b.Snapshot().State)

	require.NoError(t, b.RecordFailure())
	assert.False(t, b.Available())
	assert.Equal(t, StateOpen, b.Snapshot().State)
}

func TestRetryAfter_CountsDownFromOpen(t *testing.T) {
	b, mr := setupTestBreaker(t)
	defer mr.Close()

	for i := 0; i < DefaultFailureThreshold; i++ {
		require.NoError(t, b.RecordFailure())
	}

	retryAfter := b.RetryAfter()
	assert.Greater(t, retryAfter, 55*time.Second)
	assert.LessOrEqual(t, retryAfter, DefaultCooldown)
}

func TestFurtherFailuresDoNotRestampOpenedAt(t *testing.T) {
	b, mr := setupTestBreaker(t)
	defer mr.Close()

	for i := 0; i < DefaultFailureThreshold; i++ {
		require.NoError(t, b.RecordFailure())
	}

	first, ok := b.openedAt()
	require.True(t, ok)

	require.NoError(t, b.RecordFailure())
	require.NoError(t, b.RecordFailure())

	second, ok := b.openedAt()
	require.True(t, ok)
	assert.Equal(t, first, second)
	assert.Equal(t, 5, b.Snapshot().ConsecutiveFailures)
}

func TestAvailable_AfterCooldownElapsed(t *testing.T) {
	b, mr := setupTestBreaker(t, WithCooldown(50*time.Millisecond))
	defer mr.Close()

	for i := 0; i < DefaultFailureThreshold; i++ {
		require.NoError(t, b.RecordFailure())
	}
	assert.False(t, b.Available())

	time.Sleep(60 * time.Millisecond)

	// Permissive probe: the elapsed cooldown lets a trial through but
	// the circuit is still open until an outcome is recorded.
	assert.True(t, b.Available())
	assert.Equal(t, StateOpen, b.Snapshot().State)
}

func TestCooldownHoldsForFullWindow(t *testing.T) {
	// The open stamp keeps nanosecond precision; a stamp truncated to
	// whole seconds would let Available flip true up to a second early.
	for i := 0; i < 20; i++ {
		b, mr := setupTestBreaker(t, WithCooldown(500*time.Millisecond))

		for j := 0; j < DefaultFailureThreshold; j++ {
			require.NoError(t, b.RecordFailure())
		}

		assert.False(t, b.Available())
		assert.Greater(t, b.RetryAfter(), 400*time.Millisecond)

		mr.Close()
	}
}

func TestFailedTrialRearmsCooldown(t *testing.T) {
	b, mr := setupTestBreaker(t, WithCooldown(50*time.Millisecond))
	defer mr.Close()

	for i := 0; i < DefaultFailureThreshold; i++ {
		require.NoError(t, b.RecordFailure())
	}

	time.Sleep(60 * time.Millisecond)
	require.True(t, b.Available())

	require.NoError(t, b.RecordFailure())
	assert.False(t, b.Available())
}

func TestRecordSuccess_ClosesAndResets(t *testing.T) {
	b, mr := setupTestBreaker(t)
	defer mr.Close()

	for i := 0; i < 7; i++ {
		require.NoError(t, b.RecordFailure())
	}
	require.False(t, b.Available())

	require.NoError(t, b.RecordSuccess())

	assert.True(t, b.Available())
	snap := b.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.ConsecutiveFailures)
	assert.Zero(t, b.RetryAfter())
}

func TestReset(t *testing.T) {
	b, mr := setupTestBreaker(t)
	defer mr.Close()

	for i := 0; i < DefaultFailureThreshold; i++ {
		require.NoError(t, b.RecordFailure())
	}
	require.False(t, b.Available())

	require.NoError(t, b.Reset())
	assert.True(t, b.Available())
}

func TestConcurrentFailures_SingleOpenStamp(t *testing.T) {
	b, mr := setupTestBreaker(t)
	defer mr.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.RecordFailure()
		}()
	}
	wg.Wait()

	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, 10, snap.ConsecutiveFailures)
	assert.False(t, b.Available())
}

func TestSharedStateAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	first := NewBreaker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	second := NewBreaker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	for i := 0; i < DefaultFailureThreshold; i++ {
		require.NoError(t, first.RecordFailure())
	}

	assert.False(t, second.Available())
}
