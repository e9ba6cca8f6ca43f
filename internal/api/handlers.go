// Package api exposes the operator surface of the pipeline: audit
// ledger queries and exports, circuit breaker health, manual task runs,
// pending jobs, and compliance erasure.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avetrano/outpost/internal/audit"
	"github.com/avetrano/outpost/internal/breaker"
	"github.com/avetrano/outpost/internal/httputil"
	"github.com/avetrano/outpost/internal/jobqueue"
	"github.com/avetrano/outpost/internal/runner"
)

// JobLister exposes the pending contents of the durable queue.
type JobLister interface {
	PendingJobs() ([]*jobqueue.Job, error)
}

type API struct {
	ledger  audit.Ledger
	breaker *breaker.Breaker
	runner  *runner.Runner
	jobs    JobLister
	mux     *http.ServeMux
}

func NewAPI(ledger audit.Ledger, b *breaker.Breaker, r *runner.Runner, jobs JobLister) *API {
	api := &API{
		ledger:  ledger,
		breaker: b,
		runner:  r,
		jobs:    jobs,
		mux:     http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/audit", a.handleAuditQuery)
	a.mux.HandleFunc("/api/audit/export", a.handleAuditExport)
	a.mux.HandleFunc("/api/breaker", a.handleBreaker)
	a.mux.HandleFunc("/api/breaker/reset", a.handleBreakerReset)
	a.mux.HandleFunc("/api/tasks/", a.handleTaskRun)
	a.mux.HandleFunc("/api/jobs", a.handleJobs)
	a.mux.HandleFunc("/api/compliance/users/", a.handleCompliance)
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *API) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	page, err := a.ledger.Query(r.Context(), filterFromQuery(r))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

func (a *API) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	csv, err := a.ledger.ExportCSV(r.Context(), filterFromQuery(r))
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_log.csv"`)
	if _, err := w.Write([]byte(csv)); err != nil {
		log.Printf("failed to write CSV response: %v", err)
	}
}

func (a *API) handleBreaker(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, a.breaker.Snapshot())
}

func (a *API) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := a.breaker.Reset(); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, a.breaker.Snapshot())
}

func (a *API) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	name, action, ok := strings.Cut(rest, "/")
	if !ok || action != "run" || name == "" {
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
		return
	}

	if !a.runner.Registered(name) {
		httputil.WriteJSONError(w, "Unknown task: "+name, http.StatusNotFound)
		return
	}

	if err := a.runner.RunTask(r.Context(), name); err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"task": name, "status": "completed"})
}

func (a *API) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobs, err := a.jobs.PendingJobs()
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, jobs)
}

// handleCompliance serves per-user export (GET) and batched hard
// erasure (DELETE). DELETE is repeated by the caller until done.
func (a *API) handleCompliance(w http.ResponseWriter, r *http.Request) {
	rawID := strings.TrimPrefix(r.URL.Path, "/api/compliance/users/")
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		httputil.WriteJSONError(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		entries, err := a.ledger.ExportUser(r.Context(), userID)
		if err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"user_id": userID, "entries": entries})
	case http.MethodDelete:
		batchSize := intQuery(r, "batch_size", 500)
		deleted, done, err := a.ledger.EraseUser(r.Context(), userID, batchSize)
		if err != nil {
			httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		a.auditErasure(r.Context(), userID, deleted, done)
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"deleted": deleted, "done": done})
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) auditErasure(ctx context.Context, userID, deleted int64, done bool) {
	_, err := a.ledger.Insert(ctx, audit.Entry{
		EventType: audit.EventUserErasure,
		Source:    audit.SourceCompliance,
		Message:   "audit entries erased for user",
		Context: map[string]any{
			"user_id": userID,
			"deleted": deleted,
			"done":    done,
		},
	})
	if err != nil {
		log.Printf("failed to write erasure audit entry: %v", err)
	}
}

func filterFromQuery(r *http.Request) audit.Filter {
	q := r.URL.Query()

	f := audit.Filter{
		EventType: q.Get("event_type"),
		Source:    q.Get("source"),
		Search:    q.Get("search"),
		Limit:     intQuery(r, "limit", 0),
		Offset:    intQuery(r, "offset", 0),
	}

	if from, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		f.From = from
	}
	if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		f.To = to
	}

	return f
}

func intQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}

	return n
}
