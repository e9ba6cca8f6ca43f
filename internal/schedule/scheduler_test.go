package schedule

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avetrano/outpost/internal/audit"
	"github.com/avetrano/outpost/internal/config"
	"github.com/avetrano/outpost/internal/jobqueue"
)

func setupTestScheduler(t *testing.T, tasks config.Tasks, version string) (*TaskScheduler, *jobqueue.MockScheduler, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	queue := jobqueue.NewMockScheduler()

	return NewTaskScheduler(client, queue, audit.NewMockLedger(), tasks, version), queue, mr
}

func TestEnsureScheduled_FirstRunRegistersEnabledTasks(t *testing.T) {
	tasks := config.Tasks{Enabled: []string{"seo_health", "thin_content"}}
	s, queue, _ := setupTestScheduler(t, tasks, "1.0.0")

	changed, err := s.EnsureScheduled()
	require.NoError(t, err)
	assert.True(t, changed)

	// Every task in the interval table is unscheduled once...
	assert.Len(t, queue.UnscheduleCalls, len(DefaultIntervals))
	// ...and only enabled tasks are re-registered.
	require.Len(t, queue.RecurringCalls, 2)
	assert.Len(t, queue.RecurringFor("outpost_task_seo_health"), 1)
	assert.Len(t, queue.RecurringFor("outpost_task_thin_content"), 1)
	assert.Empty(t, queue.RecurringFor("outpost_task_broken_links"))
}

func TestEnsureScheduled_SecondCallIsNoop(t *testing.T) {
	tasks := config.Tasks{Enabled: []string{"seo_health"}}
	s, queue, _ := setupTestScheduler(t, tasks, "1.0.0")

	_, err := s.EnsureScheduled()
	require.NoError(t, err)
	before := queue.MutationCount()

	changed, err := s.EnsureScheduled()
	require.NoError(t, err)

	assert.False(t, changed)
	assert.Equal(t, before, queue.MutationCount(), "no-op call must not touch the queue")
}

func TestEnsureScheduled_MembershipChangeTouchesOnlyChangedTasks(t *testing.T) {
	s, queue, mr := setupTestScheduler(t, config.Tasks{Enabled: []string{"seo_health", "thin_content"}}, "1.0.0")

	_, err := s.EnsureScheduled()
	require.NoError(t, err)

	// Same fingerprint store, new enabled set: thin_content out, broken_links in.
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := NewTaskScheduler(client, queue, audit.NewMockLedger(), config.Tasks{Enabled: []string{"seo_health", "broken_links"}}, "1.0.0")

	before := queue.MutationCount()
	changed, err := next.EnsureScheduled()
	require.NoError(t, err)
	assert.True(t, changed)

	// Exactly two tasks changed membership: one unschedule each, one
	// registration for the newly enabled task.
	assert.Equal(t, 3, queue.MutationCount()-before)
	assert.Equal(t, []string{"outpost_task_broken_links", "outpost_task_thin_content"}, queue.UnscheduleCalls[len(queue.UnscheduleCalls)-2:])
	assert.Len(t, queue.RecurringFor("outpost_task_broken_links"), 1)
	// seo_health stayed enabled and was left untouched.
	assert.Len(t, queue.RecurringFor("outpost_task_seo_health"), 1)
}

func TestEnsureScheduled_VersionChangeReregistersEverything(t *testing.T) {
	s, queue, mr := setupTestScheduler(t, config.Tasks{Enabled: []string{"seo_health"}}, "1.0.0")

	_, err := s.EnsureScheduled()
	require.NoError(t, err)
	before := queue.MutationCount()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	next := NewTaskScheduler(client, queue, audit.NewMockLedger(), config.Tasks{Enabled: []string{"seo_health"}}, "1.1.0")

	changed, err := next.EnsureScheduled()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, len(DefaultIntervals)+1, queue.MutationCount()-before)
}

func TestEnsureScheduled_IntervalOverride(t *testing.T) {
	tasks := config.Tasks{
		Enabled:   []string{"seo_health"},
		Intervals: map[string]time.Duration{"seo_health": 15 * time.Minute},
	}
	s, queue, _ := setupTestScheduler(t, tasks, "1.0.0")

	_, err := s.EnsureScheduled()
	require.NoError(t, err)

	calls := queue.RecurringFor("outpost_task_seo_health")
	require.Len(t, calls, 1)
	assert.Equal(t, 15*time.Minute, calls[0].Interval)
}

func TestFingerprint_IgnoresEnabledOrder(t *testing.T) {
	a, _, _ := setupTestScheduler(t, config.Tasks{Enabled: []string{"a", "b"}}, "1.0.0")
	b, _, _ := setupTestScheduler(t, config.Tasks{Enabled: []string{"b", "a"}}, "1.0.0")

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_ChangesWithVersionAndTasks(t *testing.T) {
	base, _, _ := setupTestScheduler(t, config.Tasks{Enabled: []string{"a"}}, "1.0.0")
	newVersion, _, _ := setupTestScheduler(t, config.Tasks{Enabled: []string{"a"}}, "1.1.0")
	newTasks, _, _ := setupTestScheduler(t, config.Tasks{Enabled: []string{"a", "b"}}, "1.0.0")

	assert.NotEqual(t, base.Fingerprint(), newVersion.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), newTasks.Fingerprint())
}

func TestHookNameRoundTrip(t *testing.T) {
	hook := HookName("seo_health")
	assert.Equal(t, "outpost_task_seo_health", hook)

	name, ok := TaskFromHook(hook)
	assert.True(t, ok)
	assert.Equal(t, "seo_health", name)

	_, ok = TaskFromHook("outpost_delivery_retry")
	assert.False(t, ok)
}
