// Package audit provides the append-only ledger of dispatch attempts,
// task runs, and administrative actions. The ledger is the single source
// of truth for what the pipeline did and when; nothing in it is ever
// updated after insert.
package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Sources identify which component produced an entry.
const (
	SourceDispatcher = "dispatcher"
	SourceScheduler  = "scheduler"
	SourceRunner     = "runner"
	SourceRetention  = "retention"
	SourceCompliance = "compliance"
)

// Event types the core writes. External callers may use their own.
const (
	EventDeliverySucceeded = "delivery_succeeded"
	EventDeliveryFailed    = "delivery_failed"
	EventDeliverySkipped   = "delivery_skipped"
	EventDeliveryTerminal  = "delivery_terminal"
	EventTaskRun           = "task_run"
	EventRetentionSweep    = "retention_sweep"
	EventUserErasure       = "user_erasure"
)

type Entry struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	UserID    *int64         `json:"user_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type Filter struct {
	EventType string
	Source    string
	Search    string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

type Page struct {
	Items []Entry `json:"items"`
	Total int     `json:"total"`
}

// Ledger is the storage contract. Insert returns id 0 with a nil error
// when a pre-insert filter vetoed the entry.
type Ledger interface {
	Insert(ctx context.Context, e Entry) (int64, error)
	Query(ctx context.Context, f Filter) (*Page, error)
	ExportCSV(ctx context.Context, f Filter) (string, error)
	PurgeOlderThan(ctx context.Context, window time.Duration) (int64, error)
	EraseUser(ctx context.Context, userID int64, batchSize int) (deleted int64, done bool, err error)
	ExportUser(ctx context.Context, userID int64) ([]Entry, error)
	Close() error
}

// ToCSV flattens entries for operator download. Context is serialized as
// a single JSON column.
func ToCSV(entries []Entry) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write([]string{"id", "event_type", "source", "message", "context", "user_id", "created_at"}); err != nil {
		return "", err
	}

	for _, e := range entries {
		contextJSON := ""
		if e.Context != nil {
			data, err := json.Marshal(e.Context)
			if err != nil {
				return "", err
			}
			contextJSON = string(data)
		}

		userID := ""
		if e.UserID != nil {
			userID = strconv.FormatInt(*e.UserID, 10)
		}

		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.EventType,
			e.Source,
			e.Message,
			contextJSON,
			userID,
			e.CreatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}

	w.Flush()
	return sb.String(), w.Error()
}
