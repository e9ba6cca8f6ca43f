package jobqueue

import (
	"sync"
	"time"
)

// MockScheduler is a recording Scheduler used by tests that assert on
// scheduling behavior, including exact mutation counts.
type MockScheduler struct {
	mu                 sync.Mutex
	OnceCalls          []OnceCall
	RecurringCalls     []RecurringCall
	UnscheduleCalls    []string
	ScheduleOnceError  error
	RecurringError     error
	UnscheduleAllError error
}

type OnceCall struct {
	HookName string
	At       time.Time
	Args     map[string]any
}

type RecurringCall struct {
	HookName string
	Interval time.Duration
	Args     map[string]any
}

func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

func (m *MockScheduler) ScheduleOnceAt(hookName string, at time.Time, args map[string]any) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ScheduleOnceError != nil {
		return nil, m.ScheduleOnceError
	}

	m.OnceCalls = append(m.OnceCalls, OnceCall{HookName: hookName, At: at, Args: args})
	return NewJob(hookName, at, args), nil
}

func (m *MockScheduler) ScheduleRecurring(hookName string, interval time.Duration, args map[string]any) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecurringError != nil {
		return nil, m.RecurringError
	}

	m.RecurringCalls = append(m.RecurringCalls, RecurringCall{HookName: hookName, Interval: interval, Args: args})
	job := NewJob(hookName, time.Now().Add(interval), args)
	job.Interval = interval
	return job, nil
}

func (m *MockScheduler) UnscheduleAll(hookName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UnscheduleAllError != nil {
		return 0, m.UnscheduleAllError
	}

	m.UnscheduleCalls = append(m.UnscheduleCalls, hookName)
	return 0, nil
}

// MutationCount is the total number of queue mutations recorded.
func (m *MockScheduler) MutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.OnceCalls) + len(m.RecurringCalls) + len(m.UnscheduleCalls)
}

// RecurringFor returns the recorded recurring registrations for a hook.
func (m *MockScheduler) RecurringFor(hookName string) []RecurringCall {
	m.mu.Lock()
	defer m.mu.Unlock()

	var calls []RecurringCall
	for _, c := range m.RecurringCalls {
		if c.HookName == hookName {
			calls = append(calls, c)
		}
	}

	return calls
}
