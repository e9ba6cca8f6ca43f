package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avetrano/outpost/internal/audit"
	"github.com/avetrano/outpost/internal/breaker"
	"github.com/avetrano/outpost/internal/event"
	"github.com/avetrano/outpost/internal/hooks"
	"github.com/avetrano/outpost/internal/jobqueue"
	"github.com/avetrano/outpost/internal/runner"
)

type nullDispatcher struct{}

func (nullDispatcher) Dispatch(string, string, map[string]any) bool { return true }

type staticJobs struct {
	jobs []*jobqueue.Job
	err  error
}

func (s staticJobs) PendingJobs() ([]*jobqueue.Job, error) { return s.jobs, s.err }

func setupTestAPI(t *testing.T) (*API, *audit.MockLedger, *breaker.Breaker, *runner.Runner) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b := breaker.NewBreaker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ledger := audit.NewMockLedger()
	r := runner.NewRunner(nullDispatcher{}, ledger, hooks.NewRegistry(), nil)

	return NewAPI(ledger, b, r, staticJobs{}), ledger, b, r
}

func seedLedger(t *testing.T, ledger *audit.MockLedger) {
	userID := int64(7)
	entries := []audit.Entry{
		{EventType: audit.EventDeliverySucceeded, Source: audit.SourceDispatcher, Message: "delivered governance_finding"},
		{EventType: audit.EventDeliveryFailed, Source: audit.SourceDispatcher, Message: "gateway returned 500"},
		{EventType: audit.EventTaskRun, Source: audit.SourceRunner, Message: "manual run", UserID: &userID},
	}
	for _, e := range entries {
		_, err := ledger.Insert(context.Background(), e)
		require.NoError(t, err)
	}
}

func TestHandleAuditQuery(t *testing.T) {
	a, ledger, _, _ := setupTestAPI(t)
	seedLedger(t, ledger)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit?event_type=delivery_failed", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var page audit.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "gateway returned 500", page.Items[0].Message)
}

func TestHandleAuditQuery_Search(t *testing.T) {
	a, ledger, _, _ := setupTestAPI(t)
	seedLedger(t, ledger)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit?search=gateway", nil))

	var page audit.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
}

func TestHandleAuditQuery_MethodNotAllowed(t *testing.T) {
	a, _, _, _ := setupTestAPI(t)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/audit", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleAuditExport(t *testing.T) {
	a, ledger, _, _ := setupTestAPI(t)
	seedLedger(t, ledger)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit_log.csv")
	assert.Contains(t, rec.Body.String(), "id,event_type,source,message")
	assert.Contains(t, rec.Body.String(), "gateway returned 500")
}

func TestHandleBreaker(t *testing.T) {
	a, _, b, _ := setupTestAPI(t)

	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		require.NoError(t, b.RecordFailure())
	}

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/breaker", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var snap breaker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, breaker.StateOpen, snap.State)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Positive(t, snap.RetryAfterSeconds)
}

func TestHandleBreakerReset(t *testing.T) {
	a, _, b, _ := setupTestAPI(t)

	for i := 0; i < breaker.DefaultFailureThreshold; i++ {
		require.NoError(t, b.RecordFailure())
	}
	require.False(t, b.Available())

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/breaker/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, b.Available())
}

func TestHandleTaskRun(t *testing.T) {
	a, _, _, r := setupTestAPI(t)
	ran := false
	r.Register("seo_health", func(ctx context.Context) ([]event.Finding, error) {
		ran = true
		return nil, nil
	})

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/seo_health/run", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ran)
}

func TestHandleTaskRun_UnknownTask(t *testing.T) {
	a, _, _, _ := setupTestAPI(t)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/nope/run", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleJobs(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b := breaker.NewBreaker(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ledger := audit.NewMockLedger()
	r := runner.NewRunner(nullDispatcher{}, ledger, hooks.NewRegistry(), nil)
	jobs := staticJobs{jobs: []*jobqueue.Job{jobqueue.NewJob("outpost_task_seo_health", time.Now().Add(time.Hour), nil)}}
	a := NewAPI(ledger, b, r, jobs)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var decoded []jobqueue.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "outpost_task_seo_health", decoded[0].HookName)
}

func TestHandleCompliance_Export(t *testing.T) {
	a, ledger, _, _ := setupTestAPI(t)
	seedLedger(t, ledger)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compliance/users/7", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		UserID  int64         `json:"user_id"`
		Entries []audit.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(7), body.UserID)
	assert.Len(t, body.Entries, 1)
}

func TestHandleCompliance_Erase(t *testing.T) {
	a, ledger, _, _ := setupTestAPI(t)
	seedLedger(t, ledger)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/compliance/users/7", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Deleted int64 `json:"deleted"`
		Done    bool  `json:"done"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(1), body.Deleted)
	assert.True(t, body.Done)

	// The erasure itself is audited.
	assert.Len(t, ledger.ByEventType(audit.EventUserErasure), 1)
}

func TestHandleCompliance_InvalidUserID(t *testing.T) {
	a, _, _, _ := setupTestAPI(t)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/compliance/users/abc", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
