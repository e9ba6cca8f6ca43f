// Package runner executes governance tasks and turns their findings
// into outbound events. What a task inspects is domain detail supplied
// by the caller; the runner owns the plumbing around it.
package runner

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/avetrano/outpost/internal/audit"
	"github.com/avetrano/outpost/internal/event"
	"github.com/avetrano/outpost/internal/hooks"
	"github.com/avetrano/outpost/internal/metrics"
)

// EventTypeFinding is the event type for governance finding deliveries.
const EventTypeFinding = "governance_finding"

// TaskFunc inspects site state and reports findings. Task functions
// must be safe to re-run: read site state, optionally write lightweight
// diagnostic metadata, never mutate content.
type TaskFunc func(ctx context.Context) ([]event.Finding, error)

// EventDispatcher is the delivery contract the runner hands events to.
type EventDispatcher interface {
	Dispatch(eventType, message string, context map[string]any) bool
}

// Alerter delivers out-of-band operator alerts for critical findings.
type Alerter interface {
	AlertCritical(taskName string, findings []event.Finding) error
}

type Runner struct {
	tasks      map[string]TaskFunc
	dispatcher EventDispatcher
	ledger     audit.Ledger
	filters    *hooks.Registry
	alerter    Alerter
}

func NewRunner(dispatcher EventDispatcher, ledger audit.Ledger, filters *hooks.Registry, alerter Alerter) *Runner {
	return &Runner{
		tasks:      make(map[string]TaskFunc),
		dispatcher: dispatcher,
		ledger:     ledger,
		filters:    filters,
		alerter:    alerter,
	}
}

func (r *Runner) Register(name string, fn TaskFunc) {
	r.tasks[name] = fn
}

func (r *Runner) Registered(name string) bool {
	_, ok := r.tasks[name]
	return ok
}

// RunTask executes one task and dispatches its findings as a single
// outbound event. An unknown task name is a caller error and reported
// synchronously. Findings are not deduplicated against earlier runs:
// a persisting condition is re-reported every interval until fixed.
func (r *Runner) RunTask(ctx context.Context, taskName string) error {
	fn, ok := r.tasks[taskName]
	if !ok {
		return fmt.Errorf("unknown task: %s", taskName)
	}

	start := time.Now()
	findings, err := fn(ctx)
	if err != nil {
		metrics.RecordTaskRun(taskName, "failed", time.Since(start))
		return fmt.Errorf("task %s failed: %w", taskName, err)
	}
	metrics.RecordTaskRun(taskName, "succeeded", time.Since(start))

	if len(findings) == 0 {
		return nil
	}

	for _, f := range findings {
		metrics.RecordFinding(taskName, string(f.Severity))
	}

	filtered, ok := r.filters.Apply(hooks.PreDeliveryFindings, findings)
	if !ok {
		log.Printf("findings from task %s suppressed by delivery filter", taskName)
		return nil
	}
	if typed, ok := filtered.([]event.Finding); ok {
		findings = typed
	} else {
		log.Printf("findings filter returned %T, keeping original findings for task %s", filtered, taskName)
	}

	r.writeAudit(taskName, len(findings))

	summaries := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		summaries = append(summaries, map[string]any{
			"severity": string(f.Severity),
			"summary":  f.Summary,
			"context":  f.Context,
		})
	}

	message := fmt.Sprintf("task %s reported %d finding(s)", taskName, len(findings))
	r.dispatcher.Dispatch(EventTypeFinding, message, map[string]any{
		"task":     taskName,
		"count":    len(findings),
		"findings": summaries,
	})

	if r.alerter != nil {
		if err := r.alerter.AlertCritical(taskName, findings); err != nil {
			log.Printf("failed to send critical alert for task %s: %v", taskName, err)
		}
	}

	return nil
}

func (r *Runner) writeAudit(taskName string, count int) {
	_, err := r.ledger.Insert(context.Background(), audit.Entry{
		EventType: audit.EventTaskRun,
		Source:    audit.SourceRunner,
		Message:   fmt.Sprintf("task %s produced %d finding(s)", taskName, count),
		Context: map[string]any{
			"task":  taskName,
			"count": count,
		},
	})
	if err != nil {
		log.Printf("failed to write task run audit entry: %v", err)
		return
	}

	metrics.RecordAuditEntry(audit.SourceRunner)
}
