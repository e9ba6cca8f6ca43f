package main

import (
	"log"
	"time"

	"github.com/avetrano/outpost/internal/breaker"
	"github.com/avetrano/outpost/internal/jobqueue"
	"github.com/avetrano/outpost/internal/metrics"
)

func startMetricsCollector(q *jobqueue.Queue, b *breaker.Breaker) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		updatePipelineMetrics(q, b)
	}
}

func updatePipelineMetrics(q *jobqueue.Queue, b *breaker.Breaker) {
	jobs, err := q.PendingJobs()
	if err != nil {
		log.Printf("Failed to get pending jobs for metrics: %v", err)
		return
	}

	metrics.UpdateJobsPending(len(jobs))

	snap := b.Snapshot()
	metrics.UpdateBreakerState(snap.State == breaker.StateOpen, snap.ConsecutiveFailures)
}
