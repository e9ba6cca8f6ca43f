// Package schedule maintains the recurring task registrations in the
// durable job queue. Registration is fingerprint-diffed: the queue is
// only touched when the enabled task set or the software version
// changes, so the check is cheap enough to run on every boot.
package schedule

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avetrano/outpost/internal/audit"
	"github.com/avetrano/outpost/internal/config"
	"github.com/avetrano/outpost/internal/jobqueue"
)

const (
	// HookPrefix namespaces task hooks in the shared job queue.
	HookPrefix = "outpost_task_"

	fingerprintKey = "outpost:schedule:fingerprint"
	stateKey       = "outpost:schedule:state"
)

// DefaultIntervals is the default recurring interval per known task.
// Per-task overrides come from configuration.
var DefaultIntervals = map[string]time.Duration{
	"seo_health":   time.Hour,
	"thin_content": 24 * time.Hour,
	"broken_links": 12 * time.Hour,
	"stale_drafts": 24 * time.Hour,
}

func HookName(taskName string) string {
	return HookPrefix + taskName
}

// TaskFromHook is the inverse of HookName; ok is false for hooks
// outside the task namespace.
func TaskFromHook(hookName string) (string, bool) {
	name := strings.TrimPrefix(hookName, HookPrefix)
	return name, name != hookName
}

type TaskScheduler struct {
	client  *redis.Client
	queue   jobqueue.Scheduler
	ledger  audit.Ledger
	tasks   config.Tasks
	version string
	ctx     context.Context
}

func NewTaskScheduler(client *redis.Client, queue jobqueue.Scheduler, ledger audit.Ledger, tasks config.Tasks, version string) *TaskScheduler {
	return &TaskScheduler{
		client:  client,
		queue:   queue,
		ledger:  ledger,
		tasks:   tasks,
		version: version,
		ctx:     context.Background(),
	}
}

// scheduleState is the persisted raw material behind the fingerprint,
// kept so a task-set change can be diffed per task instead of thrashing
// every registration.
type scheduleState struct {
	Version string   `json:"version"`
	Enabled []string `json:"enabled"`
}

// EnsureScheduled reconciles the job queue with the enabled task set.
// When the persisted fingerprint matches the current one the queue is
// not touched at all. A version change re-registers everything; a
// task-set change touches only the tasks whose membership changed.
// Returns whether registrations were recomputed.
func (s *TaskScheduler) EnsureScheduled() (bool, error) {
	current := s.Fingerprint()

	persisted, err := s.client.Get(s.ctx, fingerprintKey).Result()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to read schedule fingerprint: %w", err)
	}

	if persisted == current {
		return false, nil
	}

	prev, hasPrev := s.loadState()
	fullPass := !hasPrev || prev.Version != s.version

	changed := make([]string, 0, len(DefaultIntervals))
	for _, name := range sortedTaskNames() {
		enabled := s.tasks.IsEnabled(name)
		wasEnabled := contains(prev.Enabled, name)

		if !fullPass && enabled == wasEnabled {
			continue
		}

		hook := HookName(name)
		if _, err := s.queue.UnscheduleAll(hook); err != nil {
			return false, fmt.Errorf("failed to unschedule %s: %w", hook, err)
		}

		if enabled {
			if _, err := s.queue.ScheduleRecurring(hook, s.interval(name), map[string]any{"task": name}); err != nil {
				return false, fmt.Errorf("failed to schedule %s: %w", hook, err)
			}
		}
		changed = append(changed, name)
	}

	if err := s.persistState(current); err != nil {
		return false, err
	}

	s.auditRecompute(changed)
	return true, nil
}

func (s *TaskScheduler) loadState() (scheduleState, bool) {
	var state scheduleState

	raw, err := s.client.Get(s.ctx, stateKey).Result()
	if err != nil {
		return state, false
	}

	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return scheduleState{}, false
	}

	return state, true
}

func (s *TaskScheduler) persistState(fingerprint string) error {
	enabled := make([]string, len(s.tasks.Enabled))
	copy(enabled, s.tasks.Enabled)
	sort.Strings(enabled)

	raw, err := json.Marshal(scheduleState{Version: s.version, Enabled: enabled})
	if err != nil {
		return fmt.Errorf("failed to marshal schedule state: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(s.ctx, fingerprintKey, fingerprint, 0)
	pipe.Set(s.ctx, stateKey, raw, 0)
	if _, err := pipe.Exec(s.ctx); err != nil {
		return fmt.Errorf("failed to persist schedule fingerprint: %w", err)
	}

	return nil
}

// Fingerprint hashes the enabled task set together with the software
// version, so deploys re-register even when the task set is unchanged.
func (s *TaskScheduler) Fingerprint() string {
	enabled := make([]string, len(s.tasks.Enabled))
	copy(enabled, s.tasks.Enabled)
	sort.Strings(enabled)

	sum := sha256.Sum256([]byte(strings.Join(enabled, ",") + "|" + s.version))
	return hex.EncodeToString(sum[:])
}

func (s *TaskScheduler) interval(taskName string) time.Duration {
	if override, ok := s.tasks.Intervals[taskName]; ok {
		return override
	}

	return DefaultIntervals[taskName]
}

func (s *TaskScheduler) auditRecompute(changed []string) {
	if s.ledger == nil {
		return
	}

	_, err := s.ledger.Insert(s.ctx, audit.Entry{
		EventType: "schedule_recomputed",
		Source:    audit.SourceScheduler,
		Message:   fmt.Sprintf("task registrations recomputed, %d changed", len(changed)),
		Context: map[string]any{
			"tasks":   changed,
			"version": s.version,
		},
	})
	if err != nil {
		log.Printf("failed to write schedule audit entry: %v", err)
	}
}

func sortedTaskNames() []string {
	names := make([]string, 0, len(DefaultIntervals))
	for name := range DefaultIntervals {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}

	return false
}
