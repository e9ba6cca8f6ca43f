// Package dispatch sends outbound events to the agent gateway. A failed
// send never retries inline: the dispatcher enqueues a future retry in
// the durable job queue and returns, so the calling process does not
// block on an unhealthy gateway and a restart between attempts loses
// nothing.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/avetrano/outpost/internal/audit"
	"github.com/avetrano/outpost/internal/breaker"
	"github.com/avetrano/outpost/internal/config"
	"github.com/avetrano/outpost/internal/event"
	"github.com/avetrano/outpost/internal/hooks"
	"github.com/avetrano/outpost/internal/jobqueue"
	"github.com/avetrano/outpost/internal/metrics"
)

// RetryHook is the job queue hook name the worker routes back to Retry.
const RetryHook = "outpost_delivery_retry"

// MaxRetries is the number of retry attempts after the initial failed
// send, five send attempts in total.
const MaxRetries = 4

// RetryIntervals is the fixed retry ladder. Attempt k is scheduled
// RetryIntervals[k] after the failure that produced it. Fixed delays
// rather than computed backoff keep the audit trail predictable.
var RetryIntervals = [MaxRetries]time.Duration{
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

type Dispatcher struct {
	gateway config.Gateway
	breaker *breaker.Breaker
	ledger  audit.Ledger
	queue   jobqueue.Scheduler
	filters *hooks.Registry
	client  *http.Client
}

func NewDispatcher(gateway config.Gateway, b *breaker.Breaker, ledger audit.Ledger, queue jobqueue.Scheduler, filters *hooks.Registry) *Dispatcher {
	timeout := gateway.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Dispatcher{
		gateway: gateway,
		breaker: b,
		ledger:  ledger,
		queue:   queue,
		filters: filters,
		client:  &http.Client{Timeout: timeout},
	}
}

// Dispatch sends one event to the gateway. It returns false without a
// network call when no gateway is configured or the circuit breaker is
// open; an open breaker schedules the event as a future retry rather
// than dropping it. Downstream failures are never surfaced as errors:
// the audit ledger is the failure-visibility surface.
func (d *Dispatcher) Dispatch(eventType, message string, context map[string]any) bool {
	if !d.gateway.Configured() {
		return false
	}

	ev := event.NewOutboundEvent(eventType, message, context)

	if !d.breaker.Available() {
		d.recordSkip(ev, 0)
		d.scheduleRetry(ev, 0)
		return false
	}

	delivered, retryable := d.attempt(ev)
	if delivered {
		return true
	}

	if retryable {
		d.scheduleRetry(ev, 0)
	}
	return false
}

// Retry repeats a failed send. Invoked by the worker when a scheduled
// retry job fires, never by the original caller. An open breaker
// reschedules the same attempt at its own delay so the retry budget is
// only spent on real attempts; an exhausted budget ends the chain with
// a terminal ledger entry and nothing else.
func (d *Dispatcher) Retry(ev *event.OutboundEvent, attemptCount int) {
	if !d.gateway.Configured() {
		return
	}

	if !d.breaker.Available() {
		d.recordSkip(ev, attemptCount)
		d.scheduleRetry(ev, attemptCount)
		return
	}

	delivered, retryable := d.attempt(ev)
	if delivered || !retryable {
		return
	}

	next := attemptCount + 1
	if next < MaxRetries {
		d.scheduleRetry(ev, next)
		return
	}

	d.writeAudit(audit.Entry{
		EventType: audit.EventDeliveryTerminal,
		Source:    audit.SourceDispatcher,
		Message:   fmt.Sprintf("delivery of %s abandoned after %d attempts", ev.EventType, MaxRetries+1),
		Context: map[string]any{
			"event_id":   ev.ID,
			"event_type": ev.EventType,
		},
	})
	metrics.RecordDelivery(ev.EventType, metrics.OutcomeTerminal)
}

// HandleRetryJob adapts a fired job queue retry back into Retry.
func (d *Dispatcher) HandleRetryJob(job *jobqueue.Job) error {
	raw, ok := job.Args["event"].(string)
	if !ok {
		return fmt.Errorf("retry job %s has no event payload", job.ID)
	}

	ev, err := event.FromJSON(raw)
	if err != nil {
		return fmt.Errorf("failed to decode retry event: %w", err)
	}

	d.Retry(ev, intArg(job.Args["attempt"]))
	return nil
}

// attempt performs one synchronous POST and records the outcome to the
// breaker and the ledger. delivered is true on HTTP 2xx or a filter
// veto; retryable is false for failures that cannot succeed on a
// resend, such as an unserializable payload, so they are audited once
// instead of burning the whole retry budget on a deterministic error.
func (d *Dispatcher) attempt(ev *event.OutboundEvent) (delivered, retryable bool) {
	payload := map[string]any{
		"message":  ev.Message,
		"metadata": buildMetadata(ev),
	}

	filtered, ok := d.filters.Apply(hooks.PreDispatchPayload, payload)
	if !ok {
		log.Printf("delivery of event %s suppressed by payload filter", ev.ID)
		return true, false
	}
	if typed, ok := filtered.(map[string]any); ok {
		payload = typed
	} else {
		log.Printf("payload filter returned %T, keeping original payload for event %s", filtered, ev.ID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.recordFailure(ev, 0, fmt.Sprintf("failed to marshal payload: %v", err))
		return false, false
	}

	req, err := http.NewRequest(http.MethodPost, d.gateway.BaseURL+"/hooks/agent", bytes.NewReader(body))
	if err != nil {
		d.recordFailure(ev, 0, fmt.Sprintf("failed to build request: %v", err))
		return false, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.gateway.Token)

	resp, err := d.client.Do(req)
	if err != nil {
		if recordErr := d.breaker.RecordFailure(); recordErr != nil {
			log.Printf("failed to record breaker failure: %v", recordErr)
		}
		d.recordFailure(ev, 0, fmt.Sprintf("transport error: %v", err))
		return false, true
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := d.breaker.RecordSuccess(); err != nil {
			log.Printf("failed to record breaker success: %v", err)
		}

		d.writeAudit(audit.Entry{
			EventType: audit.EventDeliverySucceeded,
			Source:    audit.SourceDispatcher,
			Message:   fmt.Sprintf("delivered %s to gateway", ev.EventType),
			Context: map[string]any{
				"event_id":   ev.ID,
				"event_type": ev.EventType,
				"status":     resp.StatusCode,
			},
		})
		metrics.RecordDelivery(ev.EventType, metrics.OutcomeDelivered)
		return true, false
	}

	if err := d.breaker.RecordFailure(); err != nil {
		log.Printf("failed to record breaker failure: %v", err)
	}
	d.recordFailure(ev, resp.StatusCode, fmt.Sprintf("gateway returned %d", resp.StatusCode))
	return false, true
}

func (d *Dispatcher) scheduleRetry(ev *event.OutboundEvent, attemptCount int) {
	evJSON, err := ev.ToJSON()
	if err != nil {
		log.Printf("failed to serialize event %s for retry: %v", ev.ID, err)
		return
	}

	runAt := time.Now().Add(RetryIntervals[attemptCount])
	_, err = d.queue.ScheduleOnceAt(RetryHook, runAt, map[string]any{
		"event":   evJSON,
		"attempt": attemptCount,
	})
	if err != nil {
		log.Printf("failed to schedule retry for event %s: %v", ev.ID, err)
		return
	}

	metrics.RecordRetryScheduled(ev.EventType)
}

func (d *Dispatcher) recordFailure(ev *event.OutboundEvent, status int, detail string) {
	context := map[string]any{
		"event_id":   ev.ID,
		"event_type": ev.EventType,
		"detail":     detail,
	}
	if status != 0 {
		context["status"] = status
	}

	d.writeAudit(audit.Entry{
		EventType: audit.EventDeliveryFailed,
		Source:    audit.SourceDispatcher,
		Message:   fmt.Sprintf("delivery of %s failed: %s", ev.EventType, detail),
		Context:   context,
	})
	metrics.RecordDelivery(ev.EventType, metrics.OutcomeFailed)
}

func (d *Dispatcher) recordSkip(ev *event.OutboundEvent, attemptCount int) {
	d.writeAudit(audit.Entry{
		EventType: audit.EventDeliverySkipped,
		Source:    audit.SourceDispatcher,
		Message:   fmt.Sprintf("delivery of %s skipped, circuit open for %ds", ev.EventType, int(d.breaker.RetryAfter().Seconds())),
		Context: map[string]any{
			"event_id":   ev.ID,
			"event_type": ev.EventType,
			"attempt":    attemptCount,
		},
	})
	metrics.RecordDelivery(ev.EventType, metrics.OutcomeSkipped)
}

func (d *Dispatcher) writeAudit(e audit.Entry) {
	if _, err := d.ledger.Insert(context.Background(), e); err != nil {
		log.Printf("failed to write audit entry: %v", err)
		return
	}

	metrics.RecordAuditEntry(e.Source)
}

func buildMetadata(ev *event.OutboundEvent) map[string]any {
	metadata := map[string]any{"event": ev.EventType}
	for k, v := range ev.Context {
		metadata[k] = v
	}

	return metadata
}

func intArg(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return 0
	}
}
