// Package worker provides the background processor that claims due jobs
// from the durable queue and routes them to registered hook handlers.
package worker

import (
	"log"
	"time"

	"github.com/avetrano/outpost/internal/jobqueue"
)

type JobHandler func(job *jobqueue.Job) error

type Worker struct {
	id           string
	queue        *jobqueue.Queue
	handlers     map[string]JobHandler
	stop         chan bool
	pollInterval time.Duration
}

func NewWorker(id string, q *jobqueue.Queue) *Worker {
	return &Worker{
		id:           id,
		queue:        q,
		handlers:     make(map[string]JobHandler),
		stop:         make(chan bool),
		pollInterval: time.Second,
	}
}

func (w *Worker) RegisterHandler(hookName string, handler JobHandler) {
	w.handlers[hookName] = handler
}

func (w *Worker) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

func (w *Worker) Start() {
	log.Printf("Worker %s started", w.id)

	for {
		select {
		case <-w.stop:
			log.Printf("Worker %s stopped", w.id)
			return
		default:
			job, err := w.queue.Due()
			if err != nil || job == nil {
				time.Sleep(w.pollInterval)
				continue
			}

			w.processJob(job)
		}
	}
}

// processJob runs one claimed job. A hook with no registered handler is
// an orphan from a disabled feature and is dropped; handler errors are
// logged and not re-run here, since delivery retries are scheduled by
// the dispatcher itself.
func (w *Worker) processJob(job *jobqueue.Job) {
	handler, exists := w.handlers[job.HookName]
	if !exists {
		log.Printf("Worker %s dropping job %s: no handler for hook %s", w.id, job.ID, job.HookName)
		return
	}

	log.Printf("Worker %s processing job %s (hook: %s)", w.id, job.ID, job.HookName)

	if err := handler(job); err != nil {
		log.Printf("Job %s (hook %s) failed: %v", job.ID, job.HookName, err)
		return
	}

	log.Printf("Job %s completed", job.ID)
}

func (w *Worker) Stop() {
	w.stop <- true
}
