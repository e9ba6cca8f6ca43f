package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avetrano/outpost/internal/audit"
	"github.com/avetrano/outpost/internal/breaker"
	"github.com/avetrano/outpost/internal/config"
	"github.com/avetrano/outpost/internal/dispatch"
	"github.com/avetrano/outpost/internal/hooks"
	"github.com/avetrano/outpost/internal/jobqueue"
	"github.com/avetrano/outpost/internal/metrics"
	"github.com/avetrano/outpost/internal/notify"
	"github.com/avetrano/outpost/internal/runner"
	"github.com/avetrano/outpost/internal/schedule"
	"github.com/avetrano/outpost/internal/tasks"
	"github.com/avetrano/outpost/internal/worker"
)

const retentionHook = "outpost_audit_retention"

func main() {
	cfg := config.Load()

	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	filters := hooks.Default()

	ledger, err := audit.NewPostgresLedger(cfg.PostgresDSN, filters)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := ledger.Close(); err != nil {
			log.Printf("failed to close audit ledger: %v", err)
		}
	}()

	q, err := jobqueue.NewQueue(cfg.RedisAddr)
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		if err := q.Close(); err != nil {
			log.Printf("failed to close job queue: %v", err)
		}
	}()

	b := breaker.NewBreaker(q.Client())
	dispatcher := dispatch.NewDispatcher(cfg.Gateway, b, ledger, q, filters)

	scheduler := schedule.NewTaskScheduler(q.Client(), q, ledger, cfg.Tasks, cfg.Version)
	if changed, err := scheduler.EnsureScheduled(); err != nil {
		log.Fatal(err)
	} else if changed {
		log.Printf("Task registrations recomputed for version %s", cfg.Version)
	}

	var alerter runner.Alerter
	if emailAlerter := notify.NewEmailAlerter(cfg.Email); emailAlerter.Enabled() {
		alerter = emailAlerter
	}

	r := runner.NewRunner(dispatcher, ledger, filters, alerter)
	tasks.RegisterSamples(r, cfg.Tasks)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		workerID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}

	w := worker.NewWorker(workerID, q)

	w.RegisterHandler(dispatch.RetryHook, dispatcher.HandleRetryJob)
	w.RegisterHandler(retentionHook, retentionHandler(ledger, cfg.Retention))

	for _, name := range cfg.Tasks.Enabled {
		if !r.Registered(name) {
			continue
		}

		taskName := name
		w.RegisterHandler(schedule.HookName(taskName), func(job *jobqueue.Job) error {
			return r.RunTask(context.Background(), taskName)
		})
	}

	ensureRetentionSweep(q)

	go w.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down worker...")
	w.Stop()
}

// ensureRetentionSweep keeps exactly one daily retention job scheduled.
func ensureRetentionSweep(q *jobqueue.Queue) {
	pending, err := q.PendingFor(retentionHook)
	if err != nil {
		log.Printf("failed to inspect retention schedule: %v", err)
		return
	}
	if len(pending) == 1 {
		return
	}

	if _, err := q.UnscheduleAll(retentionHook); err != nil {
		log.Printf("failed to clear retention schedule: %v", err)
		return
	}
	if _, err := q.ScheduleRecurring(retentionHook, 24*time.Hour, nil); err != nil {
		log.Printf("failed to schedule retention sweep: %v", err)
	}
}

func retentionHandler(ledger audit.Ledger, window time.Duration) worker.JobHandler {
	return func(job *jobqueue.Job) error {
		ctx := context.Background()

		deleted, err := ledger.PurgeOlderThan(ctx, window)
		if err != nil {
			return fmt.Errorf("retention sweep failed: %w", err)
		}

		if deleted == 0 {
			return nil
		}

		_, err = ledger.Insert(ctx, audit.Entry{
			EventType: audit.EventRetentionSweep,
			Source:    audit.SourceRetention,
			Message:   fmt.Sprintf("purged %d audit entries past retention", deleted),
			Context:   map[string]any{"deleted": deleted},
		})
		if err != nil {
			return err
		}

		metrics.RecordAuditEntry(audit.SourceRetention)
		return nil
	}
}
